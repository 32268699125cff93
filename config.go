package callquota

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ajiwo/callquota/backends"
	"github.com/ajiwo/callquota/utils"
)

// Unit is the dimension a quota budget is counted in. Making the unit a
// configuration choice keeps the store unit-agnostic; deployments have run
// both call-count and seconds budgets.
type Unit string

const (
	// UnitCalls counts whole voice-agent calls.
	UnitCalls Unit = "calls"

	// UnitSeconds counts connected call time in whole seconds.
	UnitSeconds Unit = "seconds"
)

// Policy is the configured per-identity budget.
type Policy struct {
	Unit Unit
	Max  int64
}

// DefaultPolicy allows one call per identity, the most common historical
// deployment.
func DefaultPolicy() Policy {
	return Policy{Unit: UnitCalls, Max: 1}
}

// Validate checks the policy for consistency.
func (p Policy) Validate() error {
	switch p.Unit {
	case UnitCalls, UnitSeconds:
	default:
		return fmt.Errorf("policy unit must be %q or %q, got %q", UnitCalls, UnitSeconds, p.Unit)
	}
	if p.Max <= 0 {
		return fmt.Errorf("policy max must be positive, got %d", p.Max)
	}
	return nil
}

// Config defines the tracker configuration.
type Config struct {
	BaseKey string           // storage key namespace
	Storage backends.Backend // shared persistence, the source of truth
	Policy  Policy

	// OpTimeout bounds every store operation. A timed-out read fails closed
	// and a timed-out write reports not-recorded. 0 disables the bound.
	OpTimeout time.Duration

	Logger *slog.Logger

	maxRetries int
}

// Validate validates the entire configuration.
func (c Config) Validate() error {
	if err := utils.ValidateString(c.BaseKey, utils.ValidationOptions{
		FieldName: "base key",
		MaxLength: 64,
	}); err != nil {
		return err
	}
	if c.Storage == nil {
		return fmt.Errorf("storage backend cannot be nil")
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("policy validation failed: %w", err)
	}
	if c.OpTimeout < 0 {
		return fmt.Errorf("operation timeout cannot be negative, got %v", c.OpTimeout)
	}
	return nil
}
