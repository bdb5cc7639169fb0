package entitlement

import "errors"

var (
	// ErrUnavailable means the decision could not be made; access was denied
	// and the caller may retry.
	ErrUnavailable = errors.New("entitlement check unavailable")

	// ErrQuotaDenied is returned by Gate when the daily cap is exhausted.
	ErrQuotaDenied = errors.New("daily quota exhausted")

	ErrUnknownAction = errors.New("unknown metered action")
)

// IsRetryable reports whether err is a transient admission failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
