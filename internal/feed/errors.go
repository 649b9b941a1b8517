package feed

import (
	"errors"
	"fmt"

	"postfeed/internal/store"
)

// Error classes returned by Controller operations. Callers classify with
// errors.Is; the HTTP layer maps each to a status code.
var (
	ErrValidation       = errors.New("invalid post")
	ErrNotAuthenticated = errors.New("not signed in")
	ErrNotAuthorized    = errors.New("not allowed to change this post")
	ErrNotFound         = errors.New("post not found")
	ErrTransport        = errors.New("feed backend unavailable")
)

// Reasons a controller was closed, reported by Controller.Err.
var (
	ErrClosed    = errors.New("feed closed")
	ErrSignedOut = errors.New("signed out")
)

// ValidationError reports which draft field was rejected. It matches
// ErrValidation under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// storeError maps a RecordStore failure for op onto the feed error classes.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotOwner):
		return fmt.Errorf("%s: %w", op, ErrNotAuthorized)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
	}
}
