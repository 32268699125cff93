package exemption

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ajiwo/callquota/backends"
	"github.com/ajiwo/callquota/utils"
)

// DefaultTTL bounds how stale the in-process snapshot may get. Mutations made
// through this process are visible immediately; mutations made elsewhere are
// visible within one TTL window.
const DefaultTTL = 60 * time.Second

// DefaultAddresses is the allow-list served when the backing store has never
// been readable and holds no persisted list.
var DefaultAddresses = []string{"127.0.0.1"}

// Registry is a cached allow-list of network addresses that bypass quota
// enforcement. The persisted list is the source of truth and is shared across
// processes; each process serves lookups from an in-memory snapshot refreshed
// at most every TTL, so lookups never block on the store.
type Registry struct {
	backend backends.Backend
	key     string // "<base>:exempt"
	config  Config
	clock   func() time.Time
	logger  *slog.Logger

	mu         sync.RWMutex
	members    map[string]struct{}
	loadedAt   time.Time
	everLoaded bool

	refreshing atomic.Bool
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// New creates a registry persisting under the "<baseKey>:exempt" key.
func New(backend backends.Backend, baseKey string, opts ...Option) *Registry {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return &Registry{
		backend:  backend,
		key:      baseKey + ":exempt",
		config:   config,
		clock:    config.clock,
		logger:   config.logger,
		stopChan: make(chan struct{}),
	}
}

// IsExempt reports whether the address bypasses quota enforcement.
//
// The check is answered from the in-memory snapshot and never blocks. A stale
// snapshot kicks off an asynchronous refresh; until a snapshot has ever loaded
// successfully the hardcoded defaults answer instead. A refresh failure keeps
// the last good snapshot serving (availability over freshness: wrongly denying
// an exemption for one TTL window is cheaper than an outage).
func (r *Registry) IsExempt(address string) bool {
	r.mu.RLock()
	loaded := r.everLoaded
	_, member := r.members[address]
	stale := !r.loadedAt.IsZero() && r.clock().Sub(r.loadedAt) >= r.config.TTL
	r.mu.RUnlock()

	if !loaded {
		return slices.Contains(DefaultAddresses, address)
	}

	if stale {
		r.refreshAsync()
	}

	return member
}

// List returns the current allow-list in insertion order, reading through to
// the store so administrative reads are always fresh.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	addrs, _, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	r.install(addrs)
	return addrs, nil
}

// Add appends an address to the allow-list and returns the updated list.
// Adding an address that is already present is a no-op success. The mutation
// persists through a check-and-set loop so concurrent administrative writes
// don't lose entries, and the local snapshot refreshes immediately.
func (r *Registry) Add(ctx context.Context, address string) ([]string, error) {
	if err := utils.ValidateAddress(address); err != nil {
		return nil, err
	}

	return r.mutate(ctx, func(addrs []string) ([]string, bool) {
		if slices.Contains(addrs, address) {
			return addrs, false
		}
		return append(addrs, address), true
	})
}

// Remove deletes an address from the allow-list and returns the updated list.
// Removing an absent address is a no-op success.
func (r *Registry) Remove(ctx context.Context, address string) ([]string, error) {
	if err := utils.ValidateAddress(address); err != nil {
		return nil, err
	}

	return r.mutate(ctx, func(addrs []string) ([]string, bool) {
		idx := slices.Index(addrs, address)
		if idx < 0 {
			return addrs, false
		}
		return slices.Delete(addrs, idx, idx+1), true
	})
}

// Refresh reloads the snapshot from the store. On failure the previous
// snapshot keeps serving.
func (r *Registry) Refresh(ctx context.Context) error {
	addrs, _, err := r.load(ctx)
	if err != nil {
		r.logger.Warn("exemption list refresh failed, serving stale snapshot",
			"key", r.key, "error", err)
		return err
	}
	r.install(addrs)
	return nil
}

// Start begins the periodic background refresh. A TTL of 0 disables it.
func (r *Registry) Start() {
	if r.config.TTL <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(r.config.TTL)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.refreshWithTimeout()
			case <-r.stopChan:
				return
			}
		}
	}()
}

// Stop stops the background refresh.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
}

func (r *Registry) refreshAsync() {
	if !r.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer r.refreshing.Store(false)
		r.refreshWithTimeout()
	}()
}

func (r *Registry) refreshWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.RefreshTimeout)
	defer cancel()
	_ = r.Refresh(ctx)
}

// load reads and decodes the persisted list, also returning the raw value for
// check-and-set mutations. An absent key decodes to the default addresses.
func (r *Registry) load(ctx context.Context) ([]string, string, error) {
	raw, err := r.backend.Get(ctx, r.key)
	if err != nil {
		return nil, "", err
	}
	if raw == "" {
		return slices.Clone(DefaultAddresses), "", nil
	}
	return decodeList(raw), raw, nil
}

func (r *Registry) mutate(ctx context.Context, apply func([]string) ([]string, bool)) ([]string, error) {
	for attempt := range r.config.MaxRetries {
		addrs, raw, err := r.load(ctx)
		if err != nil {
			return nil, err
		}

		updated, changed := apply(slices.Clone(addrs))
		if !changed {
			r.install(addrs)
			return addrs, nil
		}

		ok, err := r.backend.CheckAndSet(ctx, r.key, raw, encodeList(updated), 0)
		if err != nil {
			return nil, err
		}
		if ok {
			r.install(updated)
			return updated, nil
		}

		if attempt < r.config.MaxRetries-1 {
			time.Sleep(time.Duration(3*(attempt+1)) * time.Microsecond)
		}
	}

	return nil, ErrContention
}

func (r *Registry) install(addrs []string) {
	members := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		members[a] = struct{}{}
	}

	r.mu.Lock()
	r.members = members
	r.loadedAt = r.clock()
	r.everLoaded = true
	r.mu.Unlock()
}

// encodeList serializes the allow-list into a compact ASCII format:
// v1|addr1,addr2,...  An empty list encodes as "v1|".
func encodeList(addrs []string) string {
	return "v1|" + strings.Join(addrs, ",")
}

// decodeList deserializes from the compact format. Unknown encodings decode
// to the defaults rather than failing a lookup path.
func decodeList(raw string) []string {
	rest, ok := strings.CutPrefix(raw, "v1|")
	if !ok {
		return slices.Clone(DefaultAddresses)
	}
	if rest == "" {
		return []string{}
	}
	return strings.Split(rest, ",")
}
