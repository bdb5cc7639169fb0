package statemachine

import (
	"errors"
	"fmt"
)

var ErrDuplicateTransition = errors.New("duplicate unguarded transition")

// ErrNoTransitionAvailable means the table has no entry for the state/event pair.
type ErrNoTransitionAvailable struct {
	State string
	Event string
}

func (e *ErrNoTransitionAvailable) Error() string {
	return fmt.Sprintf("no transition available from state '%s' for event '%s'", e.State, e.Event)
}

// ErrTransitionRejected means every candidate transition was vetoed by a guard.
type ErrTransitionRejected struct {
	State  string
	Event  string
	Reason error
}

func (e *ErrTransitionRejected) Error() string {
	msg := fmt.Sprintf("transition from state '%s' for event '%s' was rejected by guards", e.State, e.Event)
	if e.Reason != nil {
		msg += ": " + e.Reason.Error()
	}
	return msg
}

func (e *ErrTransitionRejected) Unwrap() error { return e.Reason }

func IsNoTransitionAvailableError(err error) bool {
	var e *ErrNoTransitionAvailable
	return errors.As(err, &e)
}

func IsTransitionRejectedError(err error) bool {
	var e *ErrTransitionRejected
	return errors.As(err, &e)
}
