// Package httpserver runs an http.Handler until its context ends and then
// shuts it down gracefully within a configurable deadline.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	err := srv.Run(ctx, router)
//
// Run wraps listen failures with ErrStart and shutdown failures with
// ErrShutdown. Signal handling is left to the caller's context.
package httpserver
