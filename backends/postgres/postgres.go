package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ajiwo/callquota/backends"
)

type Config struct {
	ConnString string
	MaxConns   int32
	MinConns   int32
}

type Backend struct {
	pool *pgxpool.Pool
}

// New initializes a PostgreSQL-backed storage with the given configuration.
func New(config Config) (*Backend, error) {
	if config.MaxConns == 0 {
		config.MaxConns = 10
	}
	if config.MinConns == 0 {
		config.MinConns = 2
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnString)
	if err != nil {
		return nil, NewParseConfigError(err)
	}

	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, NewPoolCreateError(err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, NewPingFailedError(err)
	}

	if err := createTable(context.Background(), pool); err != nil {
		pool.Close()
		return nil, NewCreateTableError(err)
	}

	return &Backend{pool: pool}, nil
}

func createTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS callquota_kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE
		)
	`)
	return err
}

func (p *Backend) GetPool() *pgxpool.Pool {
	return p.pool
}

func (p *Backend) Get(ctx context.Context, key string) (string, error) {
	var value string
	var expiresAt *time.Time

	err := p.pool.QueryRow(ctx, `
		SELECT value, expires_at
		FROM callquota_kv
		WHERE key = $1
	`, key).Scan(&value, &expiresAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", backends.MaybeConnError("postgres:Get", NewGetFailedError(key, err), connErrorStrings)
	}

	if expiresAt != nil && time.Now().After(*expiresAt) {
		return "", nil
	}

	return value, nil
}

func (p *Backend) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO callquota_kv (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at
	`, key, value, expiresAt(expiration))

	if err != nil {
		return backends.MaybeConnError("postgres:Set", NewSetFailedError(key, err), connErrorStrings)
	}
	return nil
}

// CheckAndSet atomically sets key to newValue only if current value matches oldValue.
// oldValue == "" means "only set if key doesn't exist"; expired rows count as non-existent.
// Each branch is a single statement so concurrent callers serialize on the row lock.
func (p *Backend) CheckAndSet(ctx context.Context, key, oldValue, newValue string, expiration time.Duration) (bool, error) {
	if oldValue == "" {
		ct, err := p.pool.Exec(ctx, `
			INSERT INTO callquota_kv (key, value, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET
				value = EXCLUDED.value,
				expires_at = EXCLUDED.expires_at
			WHERE callquota_kv.expires_at IS NOT NULL AND callquota_kv.expires_at <= now()
		`, key, newValue, expiresAt(expiration))
		if err != nil {
			return false, backends.MaybeConnError("postgres:CheckAndSet", NewCheckAndSetFailedError(key, err), connErrorStrings)
		}
		return ct.RowsAffected() == 1, nil
	}

	ct, err := p.pool.Exec(ctx, `
		UPDATE callquota_kv SET
			value = $3,
			expires_at = $4
		WHERE key = $1
			AND value = $2
			AND (expires_at IS NULL OR expires_at > now())
	`, key, oldValue, newValue, expiresAt(expiration))
	if err != nil {
		return false, backends.MaybeConnError("postgres:CheckAndSet", NewCheckAndSetFailedError(key, err), connErrorStrings)
	}
	return ct.RowsAffected() == 1, nil
}

func (p *Backend) Delete(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM callquota_kv WHERE key = $1`, key)
	if err != nil {
		return backends.MaybeConnError("postgres:Delete", NewDeleteFailedError(key, err), connErrorStrings)
	}
	return nil
}

func (p *Backend) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

func expiresAt(expiration time.Duration) *time.Time {
	if expiration <= 0 {
		return nil
	}
	t := time.Now().Add(expiration)
	return &t
}
