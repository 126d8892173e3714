package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v3"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle Billing. Every webhook
// delivery carries a distinct evt_... id, used directly as ledger identity.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
}

// NewPaddleProvider creates a Paddle billing provider, failing fast on
// missing credentials or an unknown environment.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, ErrInvalidProviderEnvironment
	}
	if err != nil {
		return nil, errors.Join(ErrProviderRequestFailed, err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
	}, nil
}

func (p *PaddleProvider) Name() string { return ProviderPaddle }

// CreateCheckoutSession creates a Paddle transaction with a hosted checkout
// URL. Custom data set here is copied by Paddle onto the subscription the
// transaction creates, so every later webhook carries the tenant and tier.
func (p *PaddleProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	custom := paddle.CustomData{
		MetaTenantID: req.TenantID.String(),
		MetaTierID:   req.TierID,
	}
	for k, v := range req.Metadata {
		custom[k] = v
	}

	transactionReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: custom,
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, errors.Join(ErrProviderRequestFailed, err)
	}
	if transaction.Checkout == nil || transaction.Checkout.URL == nil || *transaction.Checkout.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{SessionID: transaction.ID, URL: *transaction.Checkout.URL}, nil
}

// CreateCustomerPortalSession opens Paddle's customer portal for an existing
// customer.
func (p *PaddleProvider) CreateCustomerPortalSession(ctx context.Context, req PortalRequest) (*PortalSession, error) {
	session, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: req.ProviderCustomerID,
	})
	if err != nil {
		return nil, errors.Join(ErrProviderRequestFailed, err)
	}
	if session.URLs.General.Overview == "" {
		return nil, ErrNoPortalURL
	}

	return &PortalSession{URL: session.URLs.General.Overview}, nil
}

// CancelSubscription schedules cancellation at the end of the current
// billing period. The subscription.canceled webhook drives the local
// transition when the period lapses.
func (p *PaddleProvider) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: providerSubscriptionID,
		EffectiveFrom:  paddle.PtrTo(paddle.EffectiveFromNextBillingPeriod),
	})
	if err != nil {
		return errors.Join(ErrProviderRequestFailed, err)
	}
	return nil
}

// VerifyWebhookSignature checks the Paddle-Signature header against the raw
// payload bytes.
func (p *PaddleProvider) VerifyWebhookSignature(payload []byte, signature string) bool {
	req, err := http.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	return err == nil && valid
}

// ParseWebhook verifies and normalizes a Paddle webhook delivery.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	if !p.VerifyWebhookSignature(payload, signature) {
		return nil, ErrWebhookVerificationFailed
	}

	var envelope paddleWebhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}

	normalized := &WebhookEvent{
		ID:            envelope.EventID,
		Kind:          EventUnhandled,
		ProviderEvent: envelope.EventType,
	}

	switch envelope.EventType {
	case "transaction.completed":
		var txn paddleTransactionPayload
		if err := json.Unmarshal(envelope.Data, &txn); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		// Transactions without a subscription are one-time purchases.
		if txn.SubscriptionID == "" {
			return normalized, nil
		}
		normalized.Kind = EventCheckoutCompleted
		normalized.Checkout = &CheckoutCompleted{
			TenantID:               parseTenantMeta(customDataString(txn.CustomData, MetaTenantID)),
			TierID:                 customDataString(txn.CustomData, MetaTierID),
			ProviderCustomerID:     txn.CustomerID,
			ProviderSubscriptionID: txn.SubscriptionID,
			ProviderPriceID:        txn.firstPriceID(),
			RenewsAt:               txn.BillingPeriod.end(),
		}

	case "subscription.created", "subscription.activated", "subscription.updated",
		"subscription.trialing", "subscription.past_due",
		"subscription.paused", "subscription.resumed":
		sub, err := decodePaddleSubscription(envelope.Data)
		if err != nil {
			return nil, err
		}
		normalized.Kind = EventSubscriptionUpdated
		normalized.Change = sub.change()

	case "subscription.canceled":
		sub, err := decodePaddleSubscription(envelope.Data)
		if err != nil {
			return nil, err
		}
		normalized.Kind = EventSubscriptionCancelled
		change := sub.change()
		change.Status = StatusCancelled
		if change.EndsAt == nil {
			change.EndsAt = sub.CanceledAt
		}
		normalized.Change = change

	case "transaction.payment_failed":
		var txn paddleTransactionPayload
		if err := json.Unmarshal(envelope.Data, &txn); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
		normalized.Kind = EventPaymentFailed
		normalized.Payment = &PaymentNotice{
			ProviderSubscriptionID: txn.SubscriptionID,
		}
	}

	return normalized, nil
}

// paddleStatusTable maps Paddle Billing subscription statuses to local
// lifecycle states. Paddle pauses the subscription itself, so paused drops
// access.
var paddleStatusTable = map[string]Status{
	"active":    StatusActive,
	"trialing":  StatusActive,
	"past_due":  StatusActive,
	"paused":    StatusCancelled,
	"canceled":  StatusCancelled,
	"cancelled": StatusCancelled,
	"expired":   StatusExpired,
}

func paddleStatus(s string) Status {
	if mapped, ok := paddleStatusTable[strings.ToLower(s)]; ok {
		return mapped
	}
	return StatusActive
}

type paddleWebhookEnvelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

type paddlePeriod struct {
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
}

func (p *paddlePeriod) end() *time.Time {
	if p == nil {
		return nil
	}
	return p.EndsAt
}

type paddleTransactionPayload struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CustomData     map[string]any `json:"custom_data"`
	BillingPeriod  *paddlePeriod  `json:"billing_period"`
	Items          []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
}

func (t *paddleTransactionPayload) firstPriceID() string {
	if len(t.Items) > 0 {
		return t.Items[0].Price.ID
	}
	return ""
}

type paddleSubscriptionPayload struct {
	ID                   string         `json:"id"`
	Status               string         `json:"status"`
	CustomerID           string         `json:"customer_id"`
	CustomData           map[string]any `json:"custom_data"`
	CurrentBillingPeriod *paddlePeriod  `json:"current_billing_period"`
	CanceledAt           *time.Time     `json:"canceled_at"`
	ScheduledChange      *struct {
		Action      string     `json:"action"`
		EffectiveAt *time.Time `json:"effective_at"`
	} `json:"scheduled_change"`
	Items []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
}

func decodePaddleSubscription(raw json.RawMessage) (*paddleSubscriptionPayload, error) {
	var sub paddleSubscriptionPayload
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	return &sub, nil
}

func (s *paddleSubscriptionPayload) change() *SubscriptionChange {
	change := &SubscriptionChange{
		ProviderSubscriptionID: s.ID,
		Status:                 paddleStatus(s.Status),
		RenewsAt:               s.CurrentBillingPeriod.end(),
	}
	if len(s.Items) > 0 {
		change.ProviderPriceID = s.Items[0].Price.ID
	}
	if s.ScheduledChange != nil && s.ScheduledChange.Action == "cancel" {
		change.EndsAt = s.ScheduledChange.EffectiveAt
	}
	return change
}
