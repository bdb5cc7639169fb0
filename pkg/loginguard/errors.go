package loginguard

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTooManyAttempts = errors.New("too many failed attempts")
	ErrEmptyKey        = errors.New("throttle key is empty")
	ErrStoreNil        = errors.New("store is nil")
)

// ThrottledError carries how long the caller must wait.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrTooManyAttempts, e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Unwrap() error { return ErrTooManyAttempts }
