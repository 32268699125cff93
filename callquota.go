// Package callquota tracks per-visitor call quotas backed by shared storage.
//
// A Tracker answers two questions: may this identity start a call now, and
// record that consumption happened. The budget is a lifetime maximum per
// identity, counted in whole calls or in seconds depending on the configured
// policy, with an allow-list of exempt addresses resolved upstream by the
// identity package.
package callquota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ajiwo/callquota/backends"
	"github.com/ajiwo/callquota/identity"
	"github.com/ajiwo/callquota/quota"
	"github.com/ajiwo/callquota/utils"
)

// Decision is the answer to an availability check.
type Decision struct {
	Allowed   bool  // whether a call may start now
	Remaining int64 // budget left, in the policy's unit
}

// RecordResult is the outcome of recording consumption.
type RecordResult struct {
	Recorded  bool  // whether the consumption was recorded
	Remaining int64 // budget left after recording, in the policy's unit
}

// Tracker combines the quota store, the policy and the exemption sentinel
// into the call-admission decision.
type Tracker struct {
	config Config
	store  *quota.Store
	logger *slog.Logger
}

// New creates a tracker with functional options.
func New(opts ...Option) (*Tracker, error) {
	config := Config{
		BaseKey: "callquota",
		Policy:  DefaultPolicy(),
	}

	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		config: config,
		store:  quota.New(config.Storage, config.BaseKey, config.maxRetries),
		logger: logger,
	}, nil
}

// CheckAvailable reports whether the identity may start a call and how much
// budget remains.
//
// The exemption sentinel bypasses the store entirely: exempt callers are
// always allowed with a full budget, and no usage analytics are kept for
// them. A store failure fails closed: the decision is not-allowed and the
// returned error matches ErrStoreUnavailable, so callers can tell an outage
// from an exhausted budget (exhaustion is a nil-error Decision).
func (t *Tracker) CheckAvailable(ctx context.Context, id string) (Decision, error) {
	if id == identity.Unlimited {
		return Decision{Allowed: true, Remaining: t.config.Policy.Max}, nil
	}
	if err := utils.ValidateIdentity(id); err != nil {
		return Decision{}, err
	}

	ctx, cancel := t.opContext(ctx)
	defer cancel()

	consumed, err := t.store.Consumed(ctx, id)
	if err != nil {
		t.logger.Error("quota read failed, denying call", "identity", id, "error", err)
		return Decision{}, t.classify(err)
	}

	remaining := max(t.config.Policy.Max-consumed, 0)
	return Decision{Allowed: remaining > 0, Remaining: remaining}, nil
}

// RecordUsage records that the identity consumed amount units of budget.
//
// Availability is re-checked atomically at the moment of recording; a prior
// CheckAvailable result is never trusted, so two concurrent recordings for
// the same identity cannot both land on the last unit of budget. Overflow
// past the budget within one recording is absorbed and clamped, matching a
// continuous session that runs slightly over. With no budget left nothing is
// recorded and the result is a nil-error RecordResult{Recorded: false}.
//
// RecordUsage is not idempotent: retrying a successful call records again
// unless the caller de-duplicates.
func (t *Tracker) RecordUsage(ctx context.Context, id string, amount int64) (RecordResult, error) {
	if id == identity.Unlimited {
		return RecordResult{Recorded: true, Remaining: t.config.Policy.Max}, nil
	}
	if err := utils.ValidateIdentity(id); err != nil {
		return RecordResult{}, err
	}
	if amount < 0 {
		return RecordResult{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	ctx, cancel := t.opContext(ctx)
	defer cancel()

	total, recorded, err := t.store.Add(ctx, id, amount, t.config.Policy.Max)
	if err != nil {
		t.logger.Error("usage recording failed", "identity", id, "amount", amount, "error", err)
		return RecordResult{}, t.classify(err)
	}

	return RecordResult{
		Recorded:  recorded,
		Remaining: max(t.config.Policy.Max-total, 0),
	}, nil
}

// Reset clears the identity's recorded consumption. Administrative use only;
// this is the one transition out of the exhausted state.
func (t *Tracker) Reset(ctx context.Context, id string) error {
	if id == identity.Unlimited {
		return nil
	}
	if err := utils.ValidateIdentity(id); err != nil {
		return err
	}

	ctx, cancel := t.opContext(ctx)
	defer cancel()

	if err := t.store.Reset(ctx, id); err != nil {
		return t.classify(err)
	}
	return nil
}

// Policy returns the configured policy.
func (t *Tracker) Policy() Policy {
	return t.config.Policy
}

// Close releases the storage backend.
func (t *Tracker) Close() error {
	if t.config.Storage != nil {
		return t.config.Storage.Close()
	}
	return nil
}

func (t *Tracker) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.config.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, t.config.OpTimeout)
}

// classify maps backend health errors and timeouts to ErrStoreUnavailable;
// everything else (validation, corrupt data) passes through unchanged.
func (t *Tracker) classify(err error) error {
	if backends.IsHealthError(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}
