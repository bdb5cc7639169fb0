// Package mongo connects the service to MongoDB, an alternative backend for the
// usage counter store. Connect retries on startup; Healthcheck feeds /health.
package mongo
