package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Known provider names. Adapters are selected by name at the boundary.
const (
	ProviderStripe       = "stripe"
	ProviderPaddle       = "paddle"
	ProviderLemonSqueezy = "lemonsqueezy"
)

// Metadata keys round-tripped through provider checkout sessions. They are
// the only way the webhook side can recover the tenant identity before any
// local mapping exists.
const (
	MetaTenantID = "tenant_id"
	MetaTierID   = "tier_id"
)

// Provider normalizes one external payment processor into the common
// lifecycle model. Implementations use the provider's SDK or REST API and
// keep provider-specific quirks internal.
type Provider interface {
	// Name returns the provider identifier used in catalog rows, webhook
	// routing and the idempotency ledger.
	Name() string

	// CreateCheckoutSession creates a hosted checkout session carrying the
	// tenant id and tier id as opaque round-trip metadata.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// CreateCustomerPortalSession returns a pre-authenticated link to the
	// provider's customer portal for an existing payment customer.
	CreateCustomerPortalSession(ctx context.Context, req PortalRequest) (*PortalSession, error)

	// CancelSubscription cancels the subscription at the provider. Local
	// state is not touched: the resulting webhook is the sole trigger of
	// local transitions.
	CancelSubscription(ctx context.Context, providerSubscriptionID string) error

	// VerifyWebhookSignature checks the provider signature over the raw,
	// unparsed payload bytes using a constant-time comparison.
	VerifyWebhookSignature(payload []byte, signature string) bool

	// ParseWebhook verifies the signature on the raw bytes first, then
	// parses and normalizes the delivery. Verification failures return
	// ErrWebhookVerificationFailed; payloads that verify but cannot be
	// decoded return ErrMalformedPayload.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
}

// CheckoutRequest contains the data needed to create a checkout session.
// PriceID is the provider's price/variant identifier, already validated
// against the local catalog by the service.
type CheckoutRequest struct {
	TenantID   uuid.UUID
	TierID     string
	PriceID    string
	Email      string            // pre-fill billing email if known
	SuccessURL string            // redirect after successful payment
	CancelURL  string            // redirect if the customer backs out
	Metadata   map[string]string // extra round-trip metadata
}

// CheckoutSession is a hosted checkout session at the provider.
type CheckoutSession struct {
	SessionID string
	URL       string
}

// PortalRequest identifies the provider-side customer a portal session is
// opened for.
type PortalRequest struct {
	ProviderCustomerID string
	ReturnURL          string
}

// PortalSession is a pre-authenticated customer portal link.
type PortalSession struct {
	URL string
}

// EventKind is the closed set of normalized lifecycle operations every
// provider's webhook vocabulary maps into.
type EventKind string

const (
	EventCheckoutCompleted     EventKind = "checkout_completed"
	EventSubscriptionUpdated   EventKind = "subscription_updated"
	EventSubscriptionCancelled EventKind = "subscription_cancelled"
	EventPaymentSucceeded      EventKind = "payment_succeeded"
	EventPaymentFailed         EventKind = "payment_failed"
	// EventUnhandled marks deliveries the adapter understood but the engine
	// intentionally ignores. They are still recorded in the ledger.
	EventUnhandled EventKind = "unhandled"
)

// WebhookEvent is a verified, parsed and normalized webhook delivery.
// Exactly one of Checkout, Change or Payment is set, matching Kind.
type WebhookEvent struct {
	// ID is the ledger identity of this delivery: the provider's own event
	// id when one exists, otherwise a digest of the raw payload.
	ID string
	// Kind selects the lifecycle operation.
	Kind EventKind
	// ProviderEvent is the provider's original event name, kept for the
	// ledger and responses.
	ProviderEvent string

	Checkout *CheckoutCompleted
	Change   *SubscriptionChange
	Payment  *PaymentNotice
}

// CheckoutCompleted carries the data of a completed checkout. TenantID is
// uuid.Nil when the session lacked round-trip metadata, which the engine
// treats as a foreign checkout and skips.
type CheckoutCompleted struct {
	TenantID               uuid.UUID
	TierID                 string // from metadata; price resolution is authoritative
	ProviderCustomerID     string
	ProviderSubscriptionID string
	ProviderPriceID        string
	RenewsAt               *time.Time
}

// SubscriptionChange carries a status/price/period change for an existing
// subscription, located by (provider, ProviderSubscriptionID).
type SubscriptionChange struct {
	ProviderSubscriptionID string
	Status                 Status
	ProviderPriceID        string // empty when the price did not change
	RenewsAt               *time.Time
	EndsAt                 *time.Time
}

// PaymentNotice reports a payment outcome for an existing subscription.
// PeriodEnd is the new paid-through timestamp on success, nil when the
// provider did not include one.
type PaymentNotice struct {
	ProviderSubscriptionID string
	PeriodEnd              *time.Time
}

// customDataString reads a string value from provider custom data, which
// providers deliver as loosely-typed JSON objects.
func customDataString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

// parseTenantMeta extracts the round-tripped tenant id. Returns uuid.Nil for
// missing or unparseable values so the engine can treat the delivery as
// foreign.
func parseTenantMeta(value string) uuid.UUID {
	if value == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil
	}
	return id
}
