package billing

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is the billing unit. A tenant owns payment customers and
// subscriptions; at most one subscription is active at a time, enforced by
// the lifecycle engine rather than a schema constraint.
type Tenant struct {
	ID              uuid.UUID
	BillingEmail    string
	Balance         int64  // prepaid balance in smallest currency unit
	BalanceCurrency string // ISO 4217 code
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
