package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// LemonSqueezyConfig holds configuration for the Lemon Squeezy billing
// provider. StoreID scopes webhook processing: deliveries for other stores
// on the same account are ignored. APIBaseURL is overridable for tests.
type LemonSqueezyConfig struct {
	APIKey        string `env:"LEMONSQUEEZY_API_KEY,required"`
	SigningSecret string `env:"LEMONSQUEEZY_SIGNING_SECRET,required"`
	StoreID       string `env:"LEMONSQUEEZY_STORE_ID,required"`
	APIBaseURL    string `env:"LEMONSQUEEZY_API_URL" envDefault:"https://api.lemonsqueezy.com"`
}

// LemonSqueezyProvider implements Provider for Lemon Squeezy. Its webhook
// payloads carry no per-delivery event id and resource ids repeat across
// deliveries, so the ledger identity is the SHA-256 of the raw payload.
type LemonSqueezyProvider struct {
	config LemonSqueezyConfig
	client *http.Client
}

// NewLemonSqueezyProvider creates a Lemon Squeezy billing provider, failing
// fast on missing credentials or store id.
func NewLemonSqueezyProvider(config LemonSqueezyConfig) (*LemonSqueezyProvider, error) {
	if config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if config.SigningSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	if config.StoreID == "" {
		return nil, ErrMissingStoreID
	}
	if config.APIBaseURL == "" {
		config.APIBaseURL = "https://api.lemonsqueezy.com"
	}

	return &LemonSqueezyProvider{
		config: config,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (p *LemonSqueezyProvider) Name() string { return ProviderLemonSqueezy }

// CreateCheckoutSession creates a hosted checkout for a store variant. The
// tenant and tier ids travel in checkout_data.custom and come back in
// meta.custom_data on every subscription webhook.
func (p *LemonSqueezyProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	custom := map[string]string{
		MetaTenantID: req.TenantID.String(),
		MetaTierID:   req.TierID,
	}
	for k, v := range req.Metadata {
		custom[k] = v
	}

	body := lemonCheckoutRequest{}
	body.Data.Type = "checkouts"
	body.Data.Attributes.CheckoutData.Email = req.Email
	body.Data.Attributes.CheckoutData.Custom = custom
	body.Data.Attributes.ProductOptions.RedirectURL = req.SuccessURL
	body.Data.Relationships.Store.Data = lemonResourceID{Type: "stores", ID: p.config.StoreID}
	body.Data.Relationships.Variant.Data = lemonResourceID{Type: "variants", ID: req.PriceID}

	var resp lemonCheckoutResponse
	if err := p.do(ctx, http.MethodPost, "/v1/checkouts", body, &resp); err != nil {
		return nil, err
	}
	if resp.Data.Attributes.URL == "" {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{SessionID: resp.Data.ID, URL: resp.Data.Attributes.URL}, nil
}

// CreateCustomerPortalSession fetches the customer's signed portal URL.
// Lemon Squeezy generates the return flow itself, so ReturnURL is unused.
func (p *LemonSqueezyProvider) CreateCustomerPortalSession(ctx context.Context, req PortalRequest) (*PortalSession, error) {
	var resp lemonCustomerResponse
	if err := p.do(ctx, http.MethodGet, "/v1/customers/"+req.ProviderCustomerID, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data.Attributes.URLs.CustomerPortal == "" {
		return nil, ErrNoPortalURL
	}

	return &PortalSession{URL: resp.Data.Attributes.URLs.CustomerPortal}, nil
}

// CancelSubscription cancels the subscription at Lemon Squeezy. The
// subscription_cancelled webhook drives the local transition.
func (p *LemonSqueezyProvider) CancelSubscription(ctx context.Context, providerSubscriptionID string) error {
	return p.do(ctx, http.MethodDelete, "/v1/subscriptions/"+providerSubscriptionID, nil, nil)
}

// VerifyWebhookSignature checks the X-Signature header: a hex HMAC-SHA256 of
// the raw payload keyed with the signing secret.
func (p *LemonSqueezyProvider) VerifyWebhookSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(p.config.SigningSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseWebhook verifies and normalizes a Lemon Squeezy webhook delivery.
func (p *LemonSqueezyProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error) {
	if !p.VerifyWebhookSignature(payload, signature) {
		return nil, ErrWebhookVerificationFailed
	}

	var hook lemonWebhookPayload
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}

	sum := sha256.Sum256(payload)
	normalized := &WebhookEvent{
		ID:            hex.EncodeToString(sum[:]),
		Kind:          EventUnhandled,
		ProviderEvent: hook.Meta.EventName,
	}

	attrs := hook.Data.Attributes
	if sid := attrs.StoreID.String(); sid != "" && sid != p.config.StoreID {
		return normalized, nil
	}

	switch hook.Meta.EventName {
	case "subscription_created":
		normalized.Kind = EventCheckoutCompleted
		normalized.Checkout = &CheckoutCompleted{
			TenantID:               parseTenantMeta(customDataString(hook.Meta.CustomData, MetaTenantID)),
			TierID:                 customDataString(hook.Meta.CustomData, MetaTierID),
			ProviderCustomerID:     attrs.CustomerID.String(),
			ProviderSubscriptionID: hook.Data.ID,
			ProviderPriceID:        attrs.VariantID.String(),
			RenewsAt:               attrs.RenewsAt,
		}

	case "subscription_updated", "subscription_resumed", "subscription_paused", "subscription_unpaused":
		normalized.Kind = EventSubscriptionUpdated
		normalized.Change = &SubscriptionChange{
			ProviderSubscriptionID: hook.Data.ID,
			Status:                 lemonStatus(attrs.Status),
			ProviderPriceID:        attrs.VariantID.String(),
			RenewsAt:               attrs.RenewsAt,
			EndsAt:                 attrs.EndsAt,
		}

	case "subscription_cancelled":
		normalized.Kind = EventSubscriptionCancelled
		normalized.Change = &SubscriptionChange{
			ProviderSubscriptionID: hook.Data.ID,
			Status:                 StatusCancelled,
			EndsAt:                 attrs.EndsAt,
		}

	case "subscription_expired":
		normalized.Kind = EventSubscriptionCancelled
		normalized.Change = &SubscriptionChange{
			ProviderSubscriptionID: hook.Data.ID,
			Status:                 StatusExpired,
			EndsAt:                 attrs.EndsAt,
		}

	case "subscription_payment_success":
		normalized.Kind = EventPaymentSucceeded
		normalized.Payment = &PaymentNotice{
			ProviderSubscriptionID: attrs.SubscriptionID.String(),
		}

	case "subscription_payment_failed":
		normalized.Kind = EventPaymentFailed
		normalized.Payment = &PaymentNotice{
			ProviderSubscriptionID: attrs.SubscriptionID.String(),
		}
	}

	return normalized, nil
}

// lemonStatusTable maps Lemon Squeezy subscription statuses to local
// lifecycle states. Pausing stops access here because Lemon Squeezy pauses
// the subscription itself, not just collection.
var lemonStatusTable = map[string]Status{
	"on_trial":  StatusActive,
	"active":    StatusActive,
	"past_due":  StatusActive,
	"paused":    StatusCancelled,
	"cancelled": StatusCancelled,
	"unpaid":    StatusExpired,
	"expired":   StatusExpired,
}

func lemonStatus(s string) Status {
	if mapped, ok := lemonStatusTable[s]; ok {
		return mapped
	}
	return StatusActive
}

// do sends one JSON:API request and decodes the response into out when
// non-nil. Non-2xx responses surface as ErrProviderRequestFailed with a
// truncated body for diagnostics.
func (p *LemonSqueezyProvider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Join(ErrProviderRequestFailed, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.config.APIBaseURL+path, reader)
	if err != nil {
		return errors.Join(ErrProviderRequestFailed, err)
	}
	req.Header.Set("Accept", "application/vnd.api+json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/vnd.api+json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Join(ErrProviderRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Join(ErrProviderRequestFailed,
			fmt.Errorf("lemonsqueezy: %s %s returned %d: %s", method, path, resp.StatusCode, snippet))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Join(ErrProviderRequestFailed, err)
	}
	return nil
}

type lemonResourceID struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type lemonCheckoutRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			CheckoutData struct {
				Email  string            `json:"email,omitempty"`
				Custom map[string]string `json:"custom"`
			} `json:"checkout_data"`
			ProductOptions struct {
				RedirectURL string `json:"redirect_url,omitempty"`
			} `json:"product_options"`
		} `json:"attributes"`
		Relationships struct {
			Store struct {
				Data lemonResourceID `json:"data"`
			} `json:"store"`
			Variant struct {
				Data lemonResourceID `json:"data"`
			} `json:"variant"`
		} `json:"relationships"`
	} `json:"data"`
}

type lemonCheckoutResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			URL string `json:"url"`
		} `json:"attributes"`
	} `json:"data"`
}

type lemonCustomerResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			URLs struct {
				CustomerPortal string `json:"customer_portal"`
			} `json:"urls"`
		} `json:"attributes"`
	} `json:"data"`
}

// lemonWebhookPayload covers both subscription and subscription-invoice
// webhook shapes; json.Number absorbs the numeric ids either way.
type lemonWebhookPayload struct {
	Meta struct {
		EventName  string         `json:"event_name"`
		CustomData map[string]any `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		Type       string `json:"type"`
		ID         string `json:"id"`
		Attributes struct {
			StoreID        json.Number `json:"store_id"`
			CustomerID     json.Number `json:"customer_id"`
			VariantID      json.Number `json:"variant_id"`
			SubscriptionID json.Number `json:"subscription_id"`
			UserEmail      string      `json:"user_email"`
			Status         string      `json:"status"`
			RenewsAt       *time.Time  `json:"renews_at"`
			EndsAt         *time.Time  `json:"ends_at"`
		} `json:"attributes"`
	} `json:"data"`
}
