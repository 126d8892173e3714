package billing

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mountable is anything exposing a routed handler tree.
type Mountable interface {
	Handle() http.Handler
}

// RouterOptions configures what the billing module mounts. Each part is
// optional and only mounted when provided.
type RouterOptions struct {
	// Billing mounts the webhook and session endpoints at the module root.
	Billing Mountable
	// Healthcheck, when set, serves GET /health.
	Healthcheck func(ctx context.Context) error
}

// Router creates the billing module router.
//
// Example:
//
//	handler := billingsvc.NewHandler(engine)
//
//	r := chi.NewRouter()
//	r.Mount("/", billing.Router(billing.RouterOptions{
//	    Billing:     handler,
//	    Healthcheck: pg.Healthcheck(pool),
//	}))
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	if opts.Healthcheck != nil {
		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			if err := opts.Healthcheck(req.Context()); err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}

	if opts.Billing != nil {
		r.Mount("/", opts.Billing.Handle())
	}

	return r
}
