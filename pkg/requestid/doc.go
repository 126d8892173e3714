// Package requestid attaches a correlation id to every HTTP request.
//
// Webhook processing fans out across stores, providers and hook
// notifiers; a stable per-request id ties their log lines back to the
// delivery that triggered them. If the client supplies an X-Request-ID
// header its value is validated and reused, otherwise a UUID is
// generated. The id is stored in the request context and echoed back in
// the response header.
//
// # Usage
//
//	r := chi.NewRouter()
//	r.Use(requestid.Middleware)
//
//	log := logger.New(
//	    logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//
// Handlers read the id with FromContext; the extractor adds it to every
// context-aware log record as "request_id".
package requestid
