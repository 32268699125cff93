package backends

import (
	"context"
	"time"
)

// Backend defines the storage interface shared by all quota persistence layers.
// All values are stored and compared as strings.
type Backend interface {
	// Get retrieves the value for key, or "" if the key does not exist
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value; expiration of 0 means the key never expires
	Set(ctx context.Context, key string, value string, expiration time.Duration) error

	// CheckAndSet atomically sets key to newValue only if the current value matches oldValue.
	// oldValue == "" means "only set if the key doesn't exist".
	// Returns true if the set was applied, false if the current value didn't match.
	CheckAndSet(ctx context.Context, key, oldValue, newValue string, expiration time.Duration) (bool, error)

	// Delete removes a key from storage
	Delete(ctx context.Context, key string) error

	// Close releases resources used by the storage backend
	Close() error
}
