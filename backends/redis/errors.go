package redis

import (
	"errors"
	"fmt"
)

var (
	// Configuration errors
	ErrInvalidConfig    = errors.New("redis backend requires redis.Config")
	ErrConnectionFailed = errors.New("failed to connect to redis")

	// Operation errors
	ErrSetFailed    = errors.New("failed to set key")
	ErrGetFailed    = errors.New("failed to get key")
	ErrDeleteFailed = errors.New("failed to delete key")
	ErrCloseFailed  = errors.New("failed to close redis connection")
	ErrEvalFailed   = errors.New("failed to evaluate lua script")
)

func NewConnectionFailedError(addr string, err error) error {
	return fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
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

func NewCloseFailedError(err error) error {
	return fmt.Errorf("failed to close redis connection: %w", err)
}

func NewEvalFailedError(script string, err error) error {
	return fmt.Errorf("failed to evaluate lua script: %w", err)
}
