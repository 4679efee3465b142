package common

import (
	"errors"
	"fmt"
)

// AuthError means the exchange rejected our credentials. Never retried.
type AuthError struct {
	Exchange string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Exchange, e.Err)
}
func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError is a transport-level failure (DNS, timeout, 5xx). The only
// error class the retry wrapper will retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: network error: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// UnknownPairError means the exchange does not list the requested pair.
type UnknownPairError struct {
	Pair string
}

func (e *UnknownPairError) Error() string { return fmt.Sprintf("unknown pair %q", e.Pair) }

// InsufficientFundsError is the exchange-side rejection of an order for
// lack of balance. A business error, never retried.
type InsufficientFundsError struct {
	Currency string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s funds on exchange", e.Currency)
}

// InvalidOrderError covers rejections like below-minimum size or bad
// precision.
type InvalidOrderError struct {
	Reason string
}

func (e *InvalidOrderError) Error() string { return "invalid order: " + e.Reason }

// Retryable reports whether err is transient enough to retry at the
// gateway call site. Business rejections are final.
func Retryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
