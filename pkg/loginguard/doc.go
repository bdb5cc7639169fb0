// Package loginguard throttles repeated failed authentication attempts.
//
// Failures are counted per key (usually the client IP) in a shared Store, so
// the limit holds across restarts and across instances. Once a key reaches
// MaxAttempts failures, Check refuses it until the window passes. Each new
// failure restarts the window; a success clears the key.
//
// Stores:
//
//   - RedisStore: INCR and PEXPIRE in one MULTI/EXEC pipeline.
//   - MemoryStore: single process, tests and local runs.
//
// Middleware wraps a handler whose callers prove themselves with a
// verifier (for example an operator bearer token) and applies the throttle
// around the verification.
package loginguard
