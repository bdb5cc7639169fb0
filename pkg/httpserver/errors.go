package httpserver

import "errors"

var (
	ErrStart          = errors.New("http server failed to start")
	ErrAlreadyStarted = errors.New("http server already started")
	ErrShutdown       = errors.New("http server shutdown did not complete")
)
