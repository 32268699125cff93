package exemption

import (
	"errors"
	"log/slog"
	"time"
)

// ErrContention is returned when an allow-list mutation keeps losing the
// check-and-set race past the retry budget.
var ErrContention = errors.New("exemption list update failed due to concurrent access")

// Config holds the registry's cache and refresh settings.
type Config struct {
	TTL            time.Duration // snapshot refresh period; 0 disables background refresh
	RefreshTimeout time.Duration // bound on a single refresh store read
	MaxRetries     int           // check-and-set attempts for mutations

	clock  func() time.Time
	logger *slog.Logger
}

// DefaultConfig returns registry settings with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TTL:            DefaultTTL,
		RefreshTimeout: 2 * time.Second,
		MaxRetries:     8,
		clock:          time.Now,
		logger:         slog.Default(),
	}
}

// Option configures the Registry
type Option func(*Config)

// WithTTL sets the snapshot refresh period.
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) {
		c.TTL = ttl
	}
}

// WithRefreshTimeout bounds a single refresh store read.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.RefreshTimeout = timeout
	}
}

// WithMaxRetries sets the check-and-set retry budget for mutations.
func WithMaxRetries(retries int) Option {
	return func(c *Config) {
		if retries > 0 {
			c.MaxRetries = retries
		}
	}
}

// WithClock injects the time source used for snapshot staleness accounting.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger for refresh failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}
