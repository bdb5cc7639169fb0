// Package logger builds the service's *slog.Logger and provides attribute helpers
// for the domain keys that show up in almost every log line (user, action, plan,
// billing event, deferred task).
//
// New applies functional options over production defaults (JSON, info level,
// stdout). NewFromConfig does the same from an env-loaded Config:
//
//	var cfg logger.Config
//	config.MustLoad(&cfg)
//	log := logger.NewFromConfig(cfg, logger.WithContextExtractors(requestid.LoggerExtractor()))
//
// Context extractors run on every record, so request-scoped values such as the
// request id are attached without threading a child logger through each call.
package logger
