package quota

import "errors"

var (
	// ErrInvalidAmount is returned when a negative amount is passed to Add.
	// Negative amounts are rejected before any store mutation; consumption
	// cannot be refunded.
	ErrInvalidAmount = errors.New("amount must be non-negative")

	// ErrContention is returned when an atomic increment keeps losing the
	// check-and-set race past the retry budget.
	ErrContention = errors.New("counter update failed due to concurrent access")

	// ErrCorruptCounter is returned when a stored counter is not a
	// non-negative integer.
	ErrCorruptCounter = errors.New("corrupt counter value")
)
