package notify

import "errors"

var (
	ErrFailedToSend  = errors.New("notify: failed to send")
	ErrInvalidConfig = errors.New("notify: invalid config")
)
