package billing

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// tenantCtxKey is a private type to prevent collisions with other context keys.
type tenantCtxKey struct{}

// WithTenantID binds a tenant id to the context. Request handlers set it once
// the tenant is known so downstream logging carries the identity; it is never
// used for data scoping, which goes through SecurityContext values instead.
func WithTenantID(ctx context.Context, tenantID uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantCtxKey{}, tenantID)
}

// TenantIDFromContext retrieves the tenant id from the context.
// Returns zero UUID and false if none was set.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantCtxKey{}).(uuid.UUID)
	return id, ok
}

// TenantLogExtractor returns a logger context extractor that emits the
// tenant id bound to the context.
func TenantLogExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id, ok := TenantIDFromContext(ctx); ok {
			return slog.String("tenant_id", id.String()), true
		}
		return slog.Attr{}, false
	}
}
