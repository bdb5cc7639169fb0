package mongo

import "errors"

var (
	ErrEmptyConnectionURL = errors.New("empty mongo connection URL")
	ErrNotReady           = errors.New("mongo not ready")
	ErrHealthcheckFailed  = errors.New("mongo healthcheck failed")
)
