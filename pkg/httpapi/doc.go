// Package httpapi exposes the entitlement engine over HTTP with a chi router.
//
// Billing providers post to /webhooks/{provider}; the webhook signature is the
// only authentication there. Everything under /v1 is called by the chat
// backend and operators and requires the operator bearer token; failed token
// checks are throttled per client IP by loginguard.
//
// Errors are returned as {"error": "<key>"} with a status derived from the
// domain error: 400 for bad input, 404 for unknown records, 409 for conflicts
// the caller should not retry blindly, 429 for exhausted quota and 503 for
// transient datastore failures.
package httpapi
