// Package logger builds configured log/slog loggers with automatic
// context-attribute injection.
//
// The factory wraps the chosen slog handler in a decorator that runs
// registered ContextExtractor functions on every record, so values carried in
// a request's context (tenant id, request id) show up on each log line
// without being threaded through call sites.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithProduction("billingd"),
//	    logger.WithContextExtractors(billing.TenantLogExtractor()),
//	)
//	log.InfoContext(ctx, "webhook processed", logger.Provider("stripe"))
//
// Environment presets: WithDevelopment selects text output at debug level,
// WithProduction selects JSON at info level; WithEnvironment picks one by
// name, which pairs with an APP_ENV variable.
package logger
