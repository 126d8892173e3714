// Package httpserver runs an http.Server with graceful shutdown wired to
// context cancellation and OS termination signals.
//
//	srv := httpserver.New(config.MustLoad[httpserver.Config](), log)
//	if err := srv.Run(ctx, router); err != nil {
//	    log.Error("server exited", "error", err)
//	}
//
// Run blocks until the listener fails, the context is cancelled, or SIGINT or
// SIGTERM arrives; in-flight requests get ShutdownTimeout to finish.
package httpserver
