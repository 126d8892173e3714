package billing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	APIKey        string `env:"STRIPE_API_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// StripeProvider implements Provider for Stripe. Stripe issues a fresh
// evt_... id for every webhook delivery, so that id is used as the ledger
// identity directly.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a Stripe billing provider. Fails fast when a
// credential is missing so misconfiguration surfaces at startup, not at the
// first webhook.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	stripe.Key = config.APIKey

	return &StripeProvider{config: config}, nil
}

func (p *StripeProvider) Name() string { return ProviderStripe }

// CreateCheckoutSession creates a hosted subscription checkout. The tenant
// and tier ids ride along as metadata on both the session and the resulting
// subscription, which is how webhook handlers recover them later.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	metadata := map[string]string{
		MetaTenantID: req.TenantID.String(),
		MetaTierID:   req.TierID,
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(req.SuccessURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(req.TenantID.String()),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	if req.CancelURL != "" {
		params.CancelURL = stripe.String(req.CancelURL)
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, errors.Join(ErrProviderRequestFailed, err)
	}
	if sess.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{SessionID: sess.ID, URL: sess.URL}, nil
}

// CreateCustomerPortalSession opens Stripe's billing portal for an existing
// customer.
func (p *StripeProvider) CreateCustomerPortalSession(ctx context.Context, req PortalRequest) (*PortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(req.ProviderCustomerID),
		ReturnURL: stripe.String(req.ReturnURL),
	}
	params.Context = ctx

	sess, err := portalsession.New(params)
	if err != nil {
		return nil, errors.Join(ErrProviderRequestFailed, err)
	}
	if sess.URL == "" {
		return nil, ErrNoPortalURL
	}

	return &PortalSession{URL: sess.URL}, nil
}

// CancelSubscription cancels the subscription at Stripe. The resulting
// customer.subscription.deleted webhook drives the local transition.
func (p *StripeProvider) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscription.Cancel(providerSubscriptionID, params); err != nil {
		return errors.Join(ErrProviderRequestFailed, err)
	}
	return nil
}

// VerifyWebhookSignature checks the Stripe-Signature header against the raw
// payload bytes.
func (p *StripeProvider) VerifyWebhookSignature(payload []byte, signature string) bool {
	return webhook.ValidatePayload(payload, signature, p.config.WebhookSecret) == nil
}

// ParseWebhook verifies and normalizes a Stripe webhook delivery. The
// signature check runs on the raw bytes before any JSON decoding.
func (p *StripeProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	if err := webhook.ValidatePayload(payload, signature, p.config.WebhookSecret); err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.config.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}

	normalized := &WebhookEvent{
		ID:            event.ID,
		Kind:          EventUnhandled,
		ProviderEvent: string(event.Type),
	}
	if event.Data == nil {
		return normalized, nil
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripeCheckoutSessionPayload
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		if sess.Mode != "" && sess.Mode != "subscription" {
			// One-time payment checkouts do not touch subscription state.
			return normalized, nil
		}
		tenantMeta := sess.Metadata[MetaTenantID]
		if tenantMeta == "" {
			tenantMeta = sess.ClientReferenceID
		}
		normalized.Kind = EventCheckoutCompleted
		normalized.Checkout = &CheckoutCompleted{
			TenantID:               parseTenantMeta(tenantMeta),
			TierID:                 sess.Metadata[MetaTierID],
			ProviderCustomerID:     sess.Customer,
			ProviderSubscriptionID: sess.Subscription,
		}

	case "customer.subscription.updated":
		sub, err := decodeStripeSubscription(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		normalized.Kind = EventSubscriptionUpdated
		normalized.Change = sub.change()

	case "customer.subscription.deleted":
		sub, err := decodeStripeSubscription(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		normalized.Kind = EventSubscriptionCancelled
		change := sub.change()
		change.Status = StatusCancelled
		normalized.Change = change

	case "invoice.payment_succeeded", "invoice.paid":
		inv, err := decodeStripeInvoice(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		normalized.Kind = EventPaymentSucceeded
		normalized.Payment = &PaymentNotice{
			ProviderSubscriptionID: inv.subscriptionID(),
			PeriodEnd:              inv.periodEnd(),
		}

	case "invoice.payment_failed":
		inv, err := decodeStripeInvoice(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		normalized.Kind = EventPaymentFailed
		normalized.Payment = &PaymentNotice{
			ProviderSubscriptionID: inv.subscriptionID(),
		}
	}

	return normalized, nil
}

// stripeStatusTable maps Stripe's subscription status vocabulary to the
// local lifecycle states. past_due stays active so access is not cut during
// the payment retry window; paused keeps access because Stripe's pause stops
// collection, not the subscription.
var stripeStatusTable = map[string]Status{
	"active":             StatusActive,
	"trialing":           StatusActive,
	"past_due":           StatusActive,
	"paused":             StatusActive,
	"canceled":           StatusCancelled,
	"unpaid":             StatusExpired,
	"incomplete":         StatusExpired,
	"incomplete_expired": StatusExpired,
}

func stripeStatus(s string) Status {
	if mapped, ok := stripeStatusTable[s]; ok {
		return mapped
	}
	// Unknown vocabulary keeps access; cutting paying customers off over a
	// new provider status is the worse failure mode.
	return StatusActive
}

// Webhook payloads are decoded into local structs instead of the SDK types:
// the shapes consumed here are small and stable across the API versions the
// IgnoreAPIVersionMismatch option lets through.
type stripeCheckoutSessionPayload struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeSubscriptionPayload struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	CancelAt         int64             `json:"cancel_at"`
	EndedAt          int64             `json:"ended_at"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func decodeStripeSubscription(raw json.RawMessage) (*stripeSubscriptionPayload, error) {
	var sub stripeSubscriptionPayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	return &sub, nil
}

func (s *stripeSubscriptionPayload) change() *SubscriptionChange {
	change := &SubscriptionChange{
		ProviderSubscriptionID: s.ID,
		Status:                 stripeStatus(s.Status),
		RenewsAt:               unixTime(s.currentPeriodEnd()),
	}
	if len(s.Items.Data) > 0 {
		change.ProviderPriceID = s.Items.Data[0].Price.ID
	}
	if s.EndedAt > 0 {
		change.EndsAt = unixTime(s.EndedAt)
	} else if s.CancelAt > 0 {
		change.EndsAt = unixTime(s.CancelAt)
	}
	return change
}

// currentPeriodEnd reads the period end from the subscription or, on newer
// API versions that moved it, from the first subscription item.
func (s *stripeSubscriptionPayload) currentPeriodEnd() int64 {
	if s.CurrentPeriodEnd > 0 {
		return s.CurrentPeriodEnd
	}
	if len(s.Items.Data) > 0 {
		return s.Items.Data[0].CurrentPeriodEnd
	}
	return 0
}

type stripeInvoicePayload struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	PeriodEnd    int64  `json:"period_end"`
	Lines        struct {
		Data []struct {
			Subscription string `json:"subscription"`
			Period       struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func decodeStripeInvoice(raw json.RawMessage) (*stripeInvoicePayload, error) {
	var inv stripeInvoicePayload
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	return &inv, nil
}

func (i *stripeInvoicePayload) subscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	if len(i.Lines.Data) > 0 {
		return i.Lines.Data[0].Subscription
	}
	return ""
}

func (i *stripeInvoicePayload) periodEnd() *time.Time {
	if len(i.Lines.Data) > 0 && i.Lines.Data[0].Period.End > 0 {
		return unixTime(i.Lines.Data[0].Period.End)
	}
	return unixTime(i.PeriodEnd)
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
