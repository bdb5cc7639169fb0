package queue

import "errors"

var (
	ErrStorageNil      = errors.New("queue storage cannot be nil")
	ErrInvalidTaskType = errors.New("task type cannot be empty")
	ErrPayloadMarshal  = errors.New("failed to marshal task payload")
	ErrPayloadDecode   = errors.New("failed to decode task payload")

	// ErrDuplicateTask is returned by storage when a task id already exists.
	ErrDuplicateTask = errors.New("task already exists")
	ErrTaskNotFound  = errors.New("task not found")

	// ErrLeaseLost is returned when a worker tries to finish a task it no
	// longer holds, usually because RecoverStale failed it in the meantime.
	ErrLeaseLost = errors.New("task lease lost")

	ErrHandlerNotFound      = errors.New("no handler registered for task type")
	ErrHandlerAlreadyExists = errors.New("handler already registered for task type")
	ErrTaskExecutionFailed  = errors.New("task execution failed")
	ErrTaskPanicked         = errors.New("task handler panicked")
	ErrFailedToListDueTasks = errors.New("failed to list due tasks")
	ErrFailedToUpdateTask   = errors.New("failed to update task status")
	ErrFailedToRecoverTasks = errors.New("failed to recover stale tasks")
	ErrStorageFailure       = errors.New("queue storage failure")
)

// permanentError marks a handler error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the sweeper dead-letters the task without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
