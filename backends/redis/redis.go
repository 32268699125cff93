package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ajiwo/callquota/backends"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type Backend struct {
	client *redis.Client
}

func (r *Backend) GetClient() *redis.Client {
	return r.client
}

// New initializes a new Redis-backed storage with the given configuration.
func New(config Config) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, NewConnectionFailedError(config.Addr, err)
	}

	return &Backend{client: client}, nil
}

func (r *Backend) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil // Key doesn't exist, return empty string with no error
	}
	if err != nil {
		return "", backends.MaybeConnError("redis:Get", NewGetFailedError(key, err), connErrorStrings)
	}
	return val, nil
}

func (r *Backend) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	if err := r.client.Set(ctx, key, value, expiration).Err(); err != nil {
		return backends.MaybeConnError("redis:Set", NewSetFailedError(key, err), connErrorStrings)
	}
	return nil
}

func (r *Backend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return backends.MaybeConnError("redis:Del", NewDeleteFailedError(key, err), connErrorStrings)
	}
	return nil
}

func (r *Backend) Close() error {
	if err := r.client.Close(); err != nil {
		return NewCloseFailedError(err)
	}
	return nil
}

// checkAndSetScript compares and swaps a key's value server-side so two clients
// racing on the same counter cannot both win.
const checkAndSetScript = `
local current = redis.call('GET', KEYS[1])

-- If oldValue is empty, only set if key doesn't exist
if ARGV[1] == '' then
	if current == false then
		if ARGV[3] == '0' then
			redis.call('SET', KEYS[1], ARGV[2])
		else
			redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
		end
		return 1
	end
	return 0
end

-- Check if current value matches oldValue
if current == ARGV[1] then
	if ARGV[3] == '0' then
		redis.call('SET', KEYS[1], ARGV[2])
	else
		redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	end
	return 1
end

return 0
`

// CheckAndSet atomically sets key to newValue only if current value matches oldValue.
//
// Behavior:
//   - If oldValue is "", the operation succeeds only if the key doesn't exist
//   - If oldValue matches the current value, the key is updated to newValue
//   - Expired keys are treated as non-existent for comparison purposes
//   - expiration of 0 means no expiration
func (r *Backend) CheckAndSet(ctx context.Context, key, oldValue, newValue string, expiration time.Duration) (bool, error) {
	var expMs string
	if expiration == 0 {
		expMs = "0"
	} else {
		expMs = fmt.Sprintf("%d", expiration.Milliseconds())
	}

	result, err := r.client.Eval(ctx, checkAndSetScript, []string{key}, oldValue, newValue, expMs).Result()
	if err != nil {
		return false, backends.MaybeConnError("redis:Eval", NewEvalFailedError("check-and-set lua script", err), connErrorStrings)
	}

	return result.(int64) == 1, nil
}
