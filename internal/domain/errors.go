package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrRateLimited           = errors.New("rate limited")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidPositionParams = errors.New("invalid position parameters")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrRiskLimitExceeded     = errors.New("risk limit exceeded")
	ErrPositionNotFound      = errors.New("position not found")
	ErrExecutionTimeout      = errors.New("execution timed out")
	ErrExecutionFailed       = errors.New("execution failed")
	ErrPersistenceFailure    = errors.New("persistence failure")
	ErrSigningFailed         = errors.New("signing failed")
	ErrWSDisconnect          = errors.New("websocket disconnected")
	ErrLockHeld              = errors.New("lock already held")
)

// InsufficientBalanceError carries the amounts behind ErrInsufficientBalance.
// errors.Is(err, ErrInsufficientBalance) matches it via Unwrap.
type InsufficientBalanceError struct {
	Required  float64
	Available float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %.9f SOL, available %.9f SOL", e.Required, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }
