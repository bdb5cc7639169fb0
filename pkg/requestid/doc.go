// Package requestid tags every inbound HTTP request with an id that follows the
// request through logs. A well-formed X-Request-ID supplied by the caller (or by a
// proxy in front of the service) is reused; otherwise a UUID is generated.
package requestid
