package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the lifecycle entity. Rows are never deleted: a
// subscription leaves service by a status transition to cancelled or expired
// plus creation of a fresh free-tier row, preserving history.
type Subscription struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	TierID   string
	Status   Status
	StartsAt time.Time
	// ExpiresAt is the end of the current paid period; nil for free-tier
	// subscriptions that do not expire.
	ExpiresAt *time.Time
	// Provider and ProviderSubscriptionID locate the subscription from an
	// inbound webhook that does not carry the tenant id. Both are empty for
	// internally-created free subscriptions. (Provider,
	// ProviderSubscriptionID) is unique when the id is non-empty.
	Provider               string
	ProviderSubscriptionID string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (s *Subscription) IsActive() bool    { return s.Status == StatusActive }
func (s *Subscription) IsCancelled() bool { return s.Status == StatusCancelled }
func (s *Subscription) IsExpired() bool   { return s.Status == StatusExpired }

// IsFree reports whether the subscription was created internally without a
// payment provider.
func (s *Subscription) IsFree() bool {
	return s.Provider == "" && s.ProviderSubscriptionID == ""
}

// PaymentCustomer maps a tenant to its customer record at one provider.
// The (TenantID, Provider) pair is unique and upserted on checkout
// completion.
type PaymentCustomer struct {
	TenantID           uuid.UUID
	Provider           string
	ProviderCustomerID string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
