// Package redis connects the service to Redis, which backs the low-latency usage
// counter store and the login-attempt throttle. Both rely on server-side atomicity
// (a Lua script and a MULTI pipeline respectively), so any number of service
// instances can share one Redis without extra coordination.
package redis
