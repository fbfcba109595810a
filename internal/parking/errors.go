package parking

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks a malformed task definition. Fatal at startup.
	ErrConfig = errors.New("invalid configuration")
	// ErrAuth marks rejected credentials. Not retried.
	ErrAuth = errors.New("authentication failed")
	// ErrTransient marks network or automation flakiness. Retried a bounded
	// number of times at the provider boundary.
	ErrTransient = errors.New("transient provider failure")
	// ErrPayment marks a pay operation that did not complete.
	ErrPayment = errors.New("payment failed")
	// ErrNotify marks a notification that could not be delivered.
	ErrNotify = errors.New("notification failed")
)

// Transient wraps err so errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err may succeed on a later attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) && !errors.Is(err, ErrAuth)
}
