package postgres

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrInvalidConfig = errors.New("postgres backend requires postgres.Config")

	// Operation errors
	ErrSetFailed         = errors.New("failed to set key")
	ErrGetFailed         = errors.New("failed to get key")
	ErrDeleteFailed      = errors.New("failed to delete key")
	ErrCheckAndSetFailed = errors.New("failed to perform check-and-set operation")
)

func NewParseConfigError(err error) error {
	return fmt.Errorf("failed to parse connection string: %w", err)
}

func NewPoolCreateError(err error) error {
	return fmt.Errorf("failed to create connection pool: %w", err)
}

func NewPingFailedError(err error) error {
	return fmt.Errorf("failed to ping database: %w", err)
}

func NewCreateTableError(err error) error {
	return fmt.Errorf("failed to create table: %w", err)
}

func NewGetFailedError(key string, err error) error {
	return fmt.Errorf("failed to get key '%s': %w", key, err)
}

func NewSetFailedError(key string, err error) error {
	return fmt.Errorf("failed to set key '%s': %w", key, err)
}

func NewDeleteFailedError(key string, err error) error {
	return fmt.Errorf("failed to delete key '%s': %w", key, err)
}

func NewCheckAndSetFailedError(key string, err error) error {
	return fmt.Errorf("check-and-set operation failed for key '%s': %w", key, err)
}
