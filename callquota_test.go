package callquota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajiwo/callquota/backends"
	"github.com/ajiwo/callquota/backends/memory"
	"github.com/ajiwo/callquota/identity"
)

func TestNew_Defaults(t *testing.T) {
	tracker, err := New(WithBackend(memory.New()))
	require.NoError(t, err)
	require.NotNil(t, tracker)

	assert.Equal(t, Policy{Unit: UnitCalls, Max: 1}, tracker.Policy())
	require.NoError(t, tracker.Close())
}

func TestNew_Validation(t *testing.T) {
	_, err := New()
	require.Error(t, err, "missing backend must be rejected")

	_, err = New(WithBackend(memory.New()), WithPolicy(Policy{Unit: "minutes", Max: 1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy unit")

	_, err = New(WithBackend(memory.New()), WithCallLimit(0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy max")

	_, err = New(WithBackend(memory.New()), WithBaseKey("bad key!"))
	require.Error(t, err)
}

func TestCheckAvailable_UnseenIdentity(t *testing.T) {
	tracker, err := New(WithBackend(memory.New()), WithCallLimit(3))
	require.NoError(t, err)
	defer tracker.Close()

	decision, err := tracker.CheckAvailable(t.Context(), "visitor-a")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(3), decision.Remaining)
}

func TestTracker_SingleCallPolicy(t *testing.T) {
	tracker, err := New(WithBackend(memory.New()), WithCallLimit(1))
	require.NoError(t, err)
	defer tracker.Close()
	ctx := t.Context()

	decision, err := tracker.CheckAvailable(ctx, "visitor-a")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(1), decision.Remaining)

	result, err := tracker.RecordUsage(ctx, "visitor-a", 1)
	require.NoError(t, err)
	assert.True(t, result.Recorded)
	assert.Equal(t, int64(0), result.Remaining)

	decision, err = tracker.CheckAvailable(ctx, "visitor-a")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, int64(0), decision.Remaining)
}

func TestTracker_SecondsPolicyClampsOverflow(t *testing.T) {
	tracker, err := New(WithBackend(memory.New()), WithTimeBudget(2*time.Minute))
	require.NoError(t, err)
	defer tracker.Close()
	ctx := t.Context()

	result, err := tracker.RecordUsage(ctx, "visitor-b", 45)
	require.NoError(t, err)
	assert.True(t, result.Recorded)
	assert.Equal(t, int64(75), result.Remaining)

	// Session ran the budget over: overflow absorbed, not rejected
	result, err = tracker.RecordUsage(ctx, "visitor-b", 80)
	require.NoError(t, err)
	assert.True(t, result.Recorded)
	assert.Equal(t, int64(0), result.Remaining)

	decision, err := tracker.CheckAvailable(ctx, "visitor-b")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestRecordUsage_ExhaustedDoesNotIncrement(t *testing.T) {
	tracker, err := New(WithBackend(memory.New()), WithCallLimit(1))
	require.NoError(t, err)
	defer tracker.Close()
	ctx := t.Context()

	_, err = tracker.RecordUsage(ctx, "visitor-a", 1)
	require.NoError(t, err)

	result, err := tracker.RecordUsage(ctx, "visitor-a", 1)
	require.NoError(t, err, "exhaustion is a normal result, not an error")
	assert.False(t, result.Recorded)
	assert.Equal(t, int64(0), result.Remaining)
}

func TestRecordUsage_InvalidAmount(t *testing.T) {
	tracker, err := New(WithBackend(memory.New()), WithCallLimit(1))
	require.NoError(t, err)
	defer tracker.Close()

	_, err = tracker.RecordUsage(t.Context(), "visitor-a", -5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestTracker_ExemptSentinel(t *testing.T) {
	tracker, err := New(WithBackend(memory.New()), WithCallLimit(1))
	require.NoError(t, err)
	defer tracker.Close()
	ctx := t.Context()

	for range 5 {
		decision, err := tracker.CheckAvailable(ctx, identity.Unlimited)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, int64(1), decision.Remaining)

		result, err := tracker.RecordUsage(ctx, identity.Unlimited, 1)
		require.NoError(t, err)
		assert.True(t, result.Recorded)
		assert.Equal(t, int64(1), result.Remaining, "exempt callers never lose budget")
	}
}

func TestTracker_Reset(t *testing.T) {
	tracker, err := New(WithBackend(memory.New()), WithCallLimit(1))
	require.NoError(t, err)
	defer tracker.Close()
	ctx := t.Context()

	_, err = tracker.RecordUsage(ctx, "visitor-a", 1)
	require.NoError(t, err)

	require.NoError(t, tracker.Reset(ctx, "visitor-a"))

	decision, err := tracker.CheckAvailable(ctx, "visitor-a")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(1), decision.Remaining)
}

func TestRecordUsage_ConcurrentNeverExceedsBudget(t *testing.T) {
	tracker, err := New(
		WithBackend(memory.New()),
		WithCallLimit(5),
		WithMaxRetries(64),
	)
	require.NoError(t, err)
	defer tracker.Close()
	ctx := t.Context()

	const goroutines = 20
	var wg sync.WaitGroup
	var recorded atomic.Int64

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := tracker.RecordUsage(ctx, "visitor-a", 1)
			require.NoError(t, err)
			if result.Recorded {
				recorded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), recorded.Load(), "exactly the budget's worth of recordings succeed")

	decision, err := tracker.CheckAvailable(ctx, "visitor-a")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, int64(0), decision.Remaining)
}

// downBackend simulates an unreachable store.
type downBackend struct{}

func (downBackend) Get(ctx context.Context, key string) (string, error) {
	return "", backends.NewHealthError("test:Get", errors.New("connection refused"))
}

func (downBackend) Set(ctx context.Context, key, value string, _ time.Duration) error {
	return backends.NewHealthError("test:Set", errors.New("connection refused"))
}

func (downBackend) CheckAndSet(ctx context.Context, key, oldValue, newValue string, _ time.Duration) (bool, error) {
	return false, backends.NewHealthError("test:CheckAndSet", errors.New("connection refused"))
}

func (downBackend) Delete(ctx context.Context, key string) error {
	return backends.NewHealthError("test:Delete", errors.New("connection refused"))
}

func (downBackend) Close() error { return nil }

func TestTracker_StoreOutageFailsClosed(t *testing.T) {
	tracker, err := New(WithBackend(downBackend{}), WithCallLimit(1))
	require.NoError(t, err)
	defer tracker.Close()
	ctx := t.Context()

	decision, err := tracker.CheckAvailable(ctx, "visitor-a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, decision.Allowed, "an outage must not grant access")

	result, err := tracker.RecordUsage(ctx, "visitor-a", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, result.Recorded, "a failed write must surface as not recorded")

	// Exempt callers are unaffected by the outage
	decision, err = tracker.CheckAvailable(ctx, identity.Unlimited)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

// hangingBackend blocks every operation until the context expires.
type hangingBackend struct{}

func (hangingBackend) Get(ctx context.Context, key string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (hangingBackend) Set(ctx context.Context, key, value string, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func (hangingBackend) CheckAndSet(ctx context.Context, key, oldValue, newValue string, _ time.Duration) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (hangingBackend) Delete(ctx context.Context, key string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (hangingBackend) Close() error { return nil }

func TestTracker_OpTimeout(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		tracker, err := New(
			WithBackend(hangingBackend{}),
			WithCallLimit(1),
			WithOpTimeout(2*time.Second),
		)
		require.NoError(t, err)
		defer tracker.Close()
		ctx := t.Context()

		decision, err := tracker.CheckAvailable(ctx, "visitor-a")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStoreUnavailable, "a timed-out read fails closed")
		assert.False(t, decision.Allowed)

		result, err := tracker.RecordUsage(ctx, "visitor-a", 1)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		assert.False(t, result.Recorded, "a timed-out write is never assumed to have succeeded")
	})
}
