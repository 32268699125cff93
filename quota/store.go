package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ajiwo/callquota/backends"
)

// DefaultMaxRetries is the number of check-and-set attempts before giving up
// on a heavily contended counter.
const DefaultMaxRetries = 8

// Store persists one monotonically increasing consumption counter per identity.
// The unit (calls, seconds) is the caller's policy choice; the store only sees
// non-negative integers. Counters never expire and are only removed by Reset.
type Store struct {
	backend    backends.Backend
	prefix     string // cached "<base>:usage:" for fast key construction
	maxRetries int
}

// New creates a store over the given backend. Counter keys live under the
// "<baseKey>:usage:" namespace so they cannot collide with unrelated data in a
// shared backend.
func New(backend backends.Backend, baseKey string, maxRetries int) *Store {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Store{
		backend:    backend,
		prefix:     baseKey + ":usage:",
		maxRetries: maxRetries,
	}
}

// Consumed returns the total recorded consumption for identity.
// An identity never seen before reads as zero. Backend failures propagate so
// callers can fail closed rather than mistake an outage for zero consumption.
func (s *Store) Consumed(ctx context.Context, identity string) (int64, error) {
	data, err := s.backend.Get(ctx, s.prefix+identity)
	if err != nil {
		return 0, err
	}
	return parseCounter(s.prefix+identity, data)
}

// Add atomically increments the identity's counter by amount, never exceeding
// ceiling. It returns the new total and whether anything was recorded.
//
// The check and the increment are a single atomic unit: the current value is
// re-read and swapped with CheckAndSet, so two concurrent callers observing
// "1 remaining" cannot both win. Overflow past the ceiling is absorbed, not
// rejected: a session that runs the budget over is clamped at the ceiling and
// still reported as recorded.
//
// Add is deliberately not idempotent; retrying a successful call increments
// again. De-duplication is the caller's concern.
func (s *Store) Add(ctx context.Context, identity string, amount, ceiling int64) (int64, bool, error) {
	if amount < 0 {
		return 0, false, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	key := s.prefix + identity

	for attempt := range s.maxRetries {
		if ctx.Err() != nil {
			return 0, false, backends.MaybeConnError("quota:Add", ctx.Err(), nil)
		}

		data, err := s.backend.Get(ctx, key)
		if err != nil {
			return 0, false, err
		}

		current, err := parseCounter(key, data)
		if err != nil {
			return 0, false, err
		}

		if current >= ceiling {
			return current, false, nil
		}

		total := min(ceiling, current+amount)

		ok, err := s.backend.CheckAndSet(ctx, key, data, strconv.FormatInt(total, 10), 0)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return total, true, nil
		}

		// Lost the race; back off briefly and re-read
		if attempt < s.maxRetries-1 {
			time.Sleep(time.Duration(3*(attempt+1)) * time.Microsecond)
		}
	}

	return 0, false, fmt.Errorf("%w: key '%s' after %d attempts", ErrContention, key, s.maxRetries)
}

// Reset removes the identity's counter so it reads as zero consumption again.
// Administrative use only.
func (s *Store) Reset(ctx context.Context, identity string) error {
	return s.backend.Delete(ctx, s.prefix+identity)
}

func parseCounter(key, data string) (int64, error) {
	if data == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(data, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: key '%s' holds %q", ErrCorruptCounter, key, data)
	}
	return n, nil
}
