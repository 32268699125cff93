package callquota

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ajiwo/callquota/backends"
)

// Option is a functional option for configuring the tracker
type Option func(*Config) error

// WithBackend sets the storage backend.
func WithBackend(backend backends.Backend) Option {
	return func(config *Config) error {
		if backend == nil {
			return fmt.Errorf("backend cannot be nil")
		}
		config.Storage = backend
		return nil
	}
}

// WithPolicy sets the quota policy.
func WithPolicy(policy Policy) Option {
	return func(config *Config) error {
		config.Policy = policy
		return nil
	}
}

// WithCallLimit configures a call-count policy allowing n calls per identity.
func WithCallLimit(n int64) Option {
	return func(config *Config) error {
		config.Policy = Policy{Unit: UnitCalls, Max: n}
		return nil
	}
}

// WithTimeBudget configures a seconds policy allowing d connected time per
// identity. Sub-second fractions are truncated.
func WithTimeBudget(d time.Duration) Option {
	return func(config *Config) error {
		config.Policy = Policy{Unit: UnitSeconds, Max: int64(d / time.Second)}
		return nil
	}
}

// WithBaseKey sets the storage key namespace.
func WithBaseKey(key string) Option {
	return func(config *Config) error {
		config.BaseKey = key
		return nil
	}
}

// WithOpTimeout bounds each store operation.
func WithOpTimeout(timeout time.Duration) Option {
	return func(config *Config) error {
		config.OpTimeout = timeout
		return nil
	}
}

// WithMaxRetries sets the check-and-set retry budget for recordings.
func WithMaxRetries(retries int) Option {
	return func(config *Config) error {
		if retries < 0 {
			return fmt.Errorf("max retries cannot be negative, got %d", retries)
		}
		config.maxRetries = retries
		return nil
	}
}

// WithLogger sets the logger for store failures.
func WithLogger(logger *slog.Logger) Option {
	return func(config *Config) error {
		config.Logger = logger
		return nil
	}
}
