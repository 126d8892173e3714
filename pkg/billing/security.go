package billing

import "github.com/google/uuid"

// SecurityContext declares which tenant's rows a data-access call may touch.
// Webhooks arrive outside any authenticated request, so there is no ambient
// tenant to inherit: every store call takes the context as an explicit value
// parameter instead.
//
// The system context bypasses tenant isolation and exists for reads that run
// before the tenant is resolved (locating a subscription by its provider
// reference, catalog lookups). Writes require a tenant-scoped context; the
// zero value is invalid and rejected by store implementations, which forces
// every call site to state its scope.
type SecurityContext struct {
	tenantID uuid.UUID
	system   bool
}

// SystemContext returns the unrestricted context used for pre-resolution
// lookups.
func SystemContext() SecurityContext {
	return SecurityContext{system: true}
}

// TenantSecurityContext returns a context restricted to one tenant's rows.
func TenantSecurityContext(tenantID uuid.UUID) SecurityContext {
	return SecurityContext{tenantID: tenantID}
}

// IsSystem reports whether the context bypasses tenant isolation.
func (sc SecurityContext) IsSystem() bool { return sc.system }

// IsZero reports whether the context was never set. Store implementations
// reject zero contexts.
func (sc SecurityContext) IsZero() bool {
	return !sc.system && sc.tenantID == uuid.Nil
}

// TenantID returns the bound tenant id. ok is false for the system context.
func (sc SecurityContext) TenantID() (id uuid.UUID, ok bool) {
	if sc.system || sc.tenantID == uuid.Nil {
		return uuid.Nil, false
	}
	return sc.tenantID, true
}

// String renders the scope for audit trails and logs.
func (sc SecurityContext) String() string {
	switch {
	case sc.system:
		return "system"
	case sc.tenantID != uuid.Nil:
		return "tenant:" + sc.tenantID.String()
	default:
		return "unset"
	}
}
