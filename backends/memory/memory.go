package memory

import (
	"context"
	"sync"
	"time"
)

type Backend struct {
	locks  sync.Map // map[string]*sync.Mutex
	values sync.Map // map[string]memoryValue
}

type memoryValue struct {
	value      string
	expiration time.Time // zero means no expiration
}

func (v memoryValue) expired(now time.Time) bool {
	return !v.expiration.IsZero() && now.After(v.expiration)
}

// New initializes a new in-memory storage instance.
func New() *Backend {
	return &Backend{}
}

// getLock returns a mutex for the given key
func (m *Backend) getLock(key string) *sync.Mutex {
	actual, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (m *Backend) Get(ctx context.Context, key string) (string, error) {
	lock := m.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	valAny, exists := m.values.Load(key)
	if !exists {
		return "", nil
	}

	val := valAny.(memoryValue)
	if val.expired(time.Now()) {
		m.values.Delete(key)
		return "", nil
	}

	return val.value, nil
}

func (m *Backend) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	lock := m.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.values.Store(key, memoryValue{
		value:      value,
		expiration: expirationTime(expiration),
	})

	return nil
}

func (m *Backend) Delete(ctx context.Context, key string) error {
	lock := m.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.values.Delete(key)
	return nil
}

// CheckAndSet atomically sets key to newValue only if current value matches oldValue.
// oldValue == "" means "only set if key doesn't exist"; expired keys count as non-existent.
func (m *Backend) CheckAndSet(ctx context.Context, key, oldValue, newValue string, expiration time.Duration) (bool, error) {
	lock := m.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	valAny, exists := m.values.Load(key)
	var val memoryValue
	if exists {
		val = valAny.(memoryValue)
		if val.expired(time.Now()) {
			exists = false
			m.values.Delete(key)
		}
	}

	if oldValue == "" {
		if exists {
			return false, nil
		}
		m.values.Store(key, memoryValue{
			value:      newValue,
			expiration: expirationTime(expiration),
		})
		return true, nil
	}

	if !exists || val.value != oldValue {
		return false, nil
	}

	m.values.Store(key, memoryValue{
		value:      newValue,
		expiration: expirationTime(expiration),
	})

	return true, nil
}

func (m *Backend) Close() error {
	m.values = sync.Map{}
	m.locks = sync.Map{}
	return nil
}

func expirationTime(expiration time.Duration) time.Time {
	if expiration <= 0 {
		return time.Time{}
	}
	return time.Now().Add(expiration)
}
