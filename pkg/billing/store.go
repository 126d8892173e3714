package billing

import (
	"context"

	"github.com/google/uuid"
)

// Store provides persistence for billing state. Every method takes an
// explicit SecurityContext; implementations must reject the zero context
// with ErrInvalidSecurityContext and enforce tenant scoping server-side.
//
// The direct read methods serve request-scoped API paths (checkout, portal).
// Webhook processing always goes through WithinTx.
type Store interface {
	// WithinTx runs fn inside one database transaction. The whole webhook
	// unit of work lives here: lookups, state mutation and the ledger
	// insert either all commit or all roll back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	PriceByProviderRef(ctx context.Context, sc SecurityContext, provider, providerPriceID string) (*Price, error)
	TenantByID(ctx context.Context, sc SecurityContext, tenantID uuid.UUID) (*Tenant, error)
	PaymentCustomer(ctx context.Context, sc SecurityContext, tenantID uuid.UUID, provider string) (*PaymentCustomer, error)
}

// Tx is the transactional surface of the store. Switching the
// SecurityContext between calls is legal and expected: resolution reads run
// under the system context, writes under the resolved tenant's context.
type Tx interface {
	// HasProcessedEvent reports whether the ledger already holds
	// (eventID, provider). Keys are provider-scoped: the same event id
	// string from two providers is two independent events.
	HasProcessedEvent(ctx context.Context, sc SecurityContext, eventID, provider string) (bool, error)

	// MarkEventProcessed appends the ledger row. It must be the last
	// statement of the unit of work. A unique-key conflict returns
	// ErrEventAlreadyProcessed so a lost race between two deliveries of the
	// same event degrades to the duplicate outcome.
	MarkEventProcessed(ctx context.Context, sc SecurityContext, eventID, provider, eventType string) error

	PriceByProviderRef(ctx context.Context, sc SecurityContext, provider, providerPriceID string) (*Price, error)
	TenantByID(ctx context.Context, sc SecurityContext, tenantID uuid.UUID) (*Tenant, error)

	// UpsertPaymentCustomer creates or refreshes the (tenant, provider)
	// customer mapping.
	UpsertPaymentCustomer(ctx context.Context, sc SecurityContext, pc PaymentCustomer) error

	// SubscriptionByProviderRef locates a subscription by its provider join
	// key. Returns ErrSubscriptionNotFound when no row matches.
	SubscriptionByProviderRef(ctx context.Context, sc SecurityContext, provider, providerSubscriptionID string) (*Subscription, error)

	// ActiveSubscription returns the tenant's currently active subscription,
	// or ErrSubscriptionNotFound when none exists.
	ActiveSubscription(ctx context.Context, sc SecurityContext, tenantID uuid.UUID) (*Subscription, error)

	// CancelActiveSubscriptions marks every active subscription of the
	// tenant as cancelled and returns how many rows changed.
	CancelActiveSubscriptions(ctx context.Context, sc SecurityContext, tenantID uuid.UUID) (int, error)

	InsertSubscription(ctx context.Context, sc SecurityContext, sub *Subscription) error
	UpdateSubscription(ctx context.Context, sc SecurityContext, sub *Subscription) error
}
