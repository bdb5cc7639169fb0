package archive

import "errors"

var (
	ErrInvalidConfig      = errors.New("archive: invalid config")
	ErrFailedToLoadConfig = errors.New("archive: failed to load aws config")
	ErrInvalidDay         = errors.New("archive: invalid day")
	ErrNotFound           = errors.New("archive: day not archived")
	ErrAccessDenied       = errors.New("archive: access denied")
	ErrWriteFailed        = errors.New("archive: write failed")
	ErrReadFailed         = errors.New("archive: read failed")
)
