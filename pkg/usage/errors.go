package usage

import "errors"

var (
	ErrInvalidKey      = errors.New("invalid usage key")
	ErrStoreFailure    = errors.New("usage store failure")
	ErrUnknownBackend  = errors.New("unknown usage backend")
	ErrInvalidTimezone = errors.New("invalid usage timezone")
)
