package callquota

import (
	"errors"

	"github.com/ajiwo/callquota/quota"
)

var (
	// ErrStoreUnavailable signals that the shared persistence is unreachable
	// or timed out. Availability checks fail closed on it; recordings report
	// not-recorded. It is never returned for an exhausted budget, which is a
	// normal nil-error result.
	ErrStoreUnavailable = errors.New("quota store unavailable")

	// ErrInvalidAmount re-exports the store's rejection of negative amounts.
	ErrInvalidAmount = quota.ErrInvalidAmount
)
