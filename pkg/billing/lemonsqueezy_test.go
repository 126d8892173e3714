package billing_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

const (
	lemonTestSecret  = "ls_signing_secret"
	lemonTestStoreID = "123"
)

func newLemonProvider(t *testing.T, apiBaseURL string) *billing.LemonSqueezyProvider {
	t.Helper()
	p, err := billing.NewLemonSqueezyProvider(billing.LemonSqueezyConfig{
		APIKey:        "lsk_test",
		SigningSecret: lemonTestSecret,
		StoreID:       lemonTestStoreID,
		APIBaseURL:    apiBaseURL,
	})
	require.NoError(t, err)
	return p
}

func signLemonPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestNewLemonSqueezyProvider(t *testing.T) {
	t.Parallel()

	t.Run("requires API key", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewLemonSqueezyProvider(billing.LemonSqueezyConfig{
			SigningSecret: "s", StoreID: "1",
		})
		assert.ErrorIs(t, err, billing.ErrMissingAPIKey)
	})

	t.Run("requires signing secret", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewLemonSqueezyProvider(billing.LemonSqueezyConfig{
			APIKey: "k", StoreID: "1",
		})
		assert.ErrorIs(t, err, billing.ErrMissingWebhookSecret)
	})

	t.Run("requires store id", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewLemonSqueezyProvider(billing.LemonSqueezyConfig{
			APIKey: "k", SigningSecret: "s",
		})
		assert.ErrorIs(t, err, billing.ErrMissingStoreID)
	})
}

func TestLemonSqueezyProvider_API(t *testing.T) {
	t.Parallel()

	t.Run("creates a checkout for the configured store", func(t *testing.T) {
		t.Parallel()
		tenantID := uuid.New()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/checkouts", r.URL.Path)
			assert.Equal(t, "Bearer lsk_test", r.Header.Get("Authorization"))
			assert.Equal(t, "application/vnd.api+json", r.Header.Get("Content-Type"))

			var body struct {
				Data struct {
					Type       string `json:"type"`
					Attributes struct {
						CheckoutData struct {
							Email  string            `json:"email"`
							Custom map[string]string `json:"custom"`
						} `json:"checkout_data"`
						ProductOptions struct {
							RedirectURL string `json:"redirect_url"`
						} `json:"product_options"`
					} `json:"attributes"`
					Relationships struct {
						Store struct {
							Data struct{ Type, ID string } `json:"data"`
						} `json:"store"`
						Variant struct {
							Data struct{ Type, ID string } `json:"data"`
						} `json:"variant"`
					} `json:"relationships"`
				} `json:"data"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "checkouts", body.Data.Type)
			assert.Equal(t, tenantID.String(), body.Data.Attributes.CheckoutData.Custom["tenant_id"])
			assert.Equal(t, "pro", body.Data.Attributes.CheckoutData.Custom["tier_id"])
			assert.Equal(t, "https://app.test/done", body.Data.Attributes.ProductOptions.RedirectURL)
			assert.Equal(t, lemonTestStoreID, body.Data.Relationships.Store.Data.ID)
			assert.Equal(t, "variant_9", body.Data.Relationships.Variant.Data.ID)

			w.Header().Set("Content-Type", "application/vnd.api+json")
			fmt.Fprint(w, `{"data":{"id":"chk_1","attributes":{"url":"https://checkout.test/chk_1"}}}`)
		}))
		defer server.Close()

		p := newLemonProvider(t, server.URL)

		session, err := p.CreateCheckoutSession(context.Background(), billing.CheckoutRequest{
			TenantID:   tenantID,
			TierID:     "pro",
			PriceID:    "variant_9",
			Email:      "owner@acme.test",
			SuccessURL: "https://app.test/done",
		})
		require.NoError(t, err)
		assert.Equal(t, "chk_1", session.SessionID)
		assert.Equal(t, "https://checkout.test/chk_1", session.URL)
	})

	t.Run("fetches the customer portal URL", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/v1/customers/271828", r.URL.Path)
			fmt.Fprint(w, `{"data":{"id":"271828","attributes":{"urls":{"customer_portal":"https://store.test/portal"}}}}`)
		}))
		defer server.Close()

		p := newLemonProvider(t, server.URL)

		session, err := p.CreateCustomerPortalSession(context.Background(), billing.PortalRequest{
			ProviderCustomerID: "271828",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://store.test/portal", session.URL)
	})

	t.Run("cancels a subscription", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.Equal(t, "/v1/subscriptions/314159", r.URL.Path)
			fmt.Fprint(w, `{"data":{"id":"314159"}}`)
		}))
		defer server.Close()

		p := newLemonProvider(t, server.URL)
		require.NoError(t, p.CancelSubscription(context.Background(), "314159"))
	})

	t.Run("surfaces API errors", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"errors":[{"status":"404"}]}`, http.StatusNotFound)
		}))
		defer server.Close()

		p := newLemonProvider(t, server.URL)
		err := p.CancelSubscription(context.Background(), "gone")
		assert.ErrorIs(t, err, billing.ErrProviderRequestFailed)
	})
}

func TestLemonSqueezyProvider_ParseWebhook(t *testing.T) {
	t.Parallel()

	p := newLemonProvider(t, "")
	ctx := context.Background()

	parse := func(t *testing.T, payload []byte) (*billing.WebhookEvent, error) {
		t.Helper()
		return p.ParseWebhook(ctx, payload, signLemonPayload(payload, lemonTestSecret))
	}

	t.Run("rejects a bad signature", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{"meta":{"event_name":"subscription_created"}}`)
		_, err := p.ParseWebhook(ctx, payload, signLemonPayload(payload, "wrong"))
		assert.ErrorIs(t, err, billing.ErrWebhookVerificationFailed)
	})

	t.Run("derives the ledger identity from the payload bytes", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{"meta":{"event_name":"order_created"},"data":{"type":"orders","id":"1","attributes":{"store_id":123}}}`)

		first, err := parse(t, payload)
		require.NoError(t, err)
		second, err := parse(t, payload)
		require.NoError(t, err)

		sum := sha256.Sum256(payload)
		assert.Equal(t, hex.EncodeToString(sum[:]), first.ID)
		// Byte-identical redeliveries collapse onto one ledger entry.
		assert.Equal(t, first.ID, second.ID)

		// Same resource, different delivery bytes: a distinct event.
		other := []byte(`{"meta":{"event_name":"order_created"},"data":{"type":"orders","id":"1","attributes":{"store_id":123 }}}`)
		third, err := parse(t, other)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, third.ID)
	})

	t.Run("parses subscription created", func(t *testing.T) {
		t.Parallel()
		tenantID := uuid.New()
		payload := fmt.Appendf(nil, `{
			"meta": {"event_name": "subscription_created", "custom_data": {"tenant_id": %q, "tier_id": "pro"}},
			"data": {
				"type": "subscriptions",
				"id": "314159",
				"attributes": {
					"store_id": 123,
					"customer_id": 271828,
					"variant_id": 999,
					"user_email": "owner@acme.test",
					"status": "active",
					"renews_at": "2026-09-25T00:00:00Z",
					"ends_at": null
				}
			}
		}`, tenantID)

		event, err := parse(t, payload)
		require.NoError(t, err)

		assert.Equal(t, billing.EventCheckoutCompleted, event.Kind)
		assert.Equal(t, "subscription_created", event.ProviderEvent)
		require.NotNil(t, event.Checkout)
		assert.Equal(t, tenantID, event.Checkout.TenantID)
		assert.Equal(t, "pro", event.Checkout.TierID)
		assert.Equal(t, "271828", event.Checkout.ProviderCustomerID)
		assert.Equal(t, "314159", event.Checkout.ProviderSubscriptionID)
		assert.Equal(t, "999", event.Checkout.ProviderPriceID)
		require.NotNil(t, event.Checkout.RenewsAt)
		assert.Equal(t, time.Date(2026, 9, 25, 0, 0, 0, 0, time.UTC), event.Checkout.RenewsAt.UTC())
	})

	t.Run("ignores deliveries for other stores", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"meta": {"event_name": "subscription_created"},
			"data": {"type": "subscriptions", "id": "1", "attributes": {"store_id": 999, "status": "active"}}
		}`)

		event, err := parse(t, payload)
		require.NoError(t, err)
		assert.Equal(t, billing.EventUnhandled, event.Kind)
		assert.Nil(t, event.Checkout)
	})

	t.Run("maps status vocabulary on updates", func(t *testing.T) {
		t.Parallel()
		cases := map[string]billing.Status{
			"on_trial": billing.StatusActive,
			"active":   billing.StatusActive,
			"past_due": billing.StatusActive,
			"paused":   billing.StatusCancelled,
			"unpaid":   billing.StatusExpired,
			"expired":  billing.StatusExpired,
		}

		for providerStatus, want := range cases {
			payload := fmt.Appendf(nil, `{
				"meta": {"event_name": "subscription_updated"},
				"data": {"type": "subscriptions", "id": "314159", "attributes": {"store_id": 123, "variant_id": 999, "status": %q}}
			}`, providerStatus)

			event, err := parse(t, payload)
			require.NoError(t, err)
			assert.Equal(t, billing.EventSubscriptionUpdated, event.Kind)
			require.NotNil(t, event.Change, providerStatus)
			assert.Equal(t, want, event.Change.Status, "status %q", providerStatus)
			assert.Equal(t, "999", event.Change.ProviderPriceID)
		}
	})

	t.Run("parses subscription cancelled with grace period end", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"meta": {"event_name": "subscription_cancelled"},
			"data": {"type": "subscriptions", "id": "314159", "attributes": {"store_id": 123, "status": "cancelled", "ends_at": "2026-10-01T00:00:00Z"}}
		}`)

		event, err := parse(t, payload)
		require.NoError(t, err)

		assert.Equal(t, billing.EventSubscriptionCancelled, event.Kind)
		require.NotNil(t, event.Change)
		assert.Equal(t, billing.StatusCancelled, event.Change.Status)
		require.NotNil(t, event.Change.EndsAt)
		assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), event.Change.EndsAt.UTC())
	})

	t.Run("parses subscription expired as terminal cancellation", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"meta": {"event_name": "subscription_expired"},
			"data": {"type": "subscriptions", "id": "314159", "attributes": {"store_id": 123, "status": "expired"}}
		}`)

		event, err := parse(t, payload)
		require.NoError(t, err)

		assert.Equal(t, billing.EventSubscriptionCancelled, event.Kind)
		require.NotNil(t, event.Change)
		assert.Equal(t, billing.StatusExpired, event.Change.Status)
	})

	t.Run("parses payment notices from invoice attributes", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"meta": {"event_name": "subscription_payment_success"},
			"data": {"type": "subscription-invoices", "id": "777", "attributes": {"store_id": 123, "subscription_id": 314159, "status": "paid"}}
		}`)

		event, err := parse(t, payload)
		require.NoError(t, err)

		assert.Equal(t, billing.EventPaymentSucceeded, event.Kind)
		require.NotNil(t, event.Payment)
		assert.Equal(t, "314159", event.Payment.ProviderSubscriptionID)
		assert.Nil(t, event.Payment.PeriodEnd)

		failed := []byte(`{
			"meta": {"event_name": "subscription_payment_failed"},
			"data": {"type": "subscription-invoices", "id": "778", "attributes": {"store_id": 123, "subscription_id": 314159, "status": "unpaid"}}
		}`)

		event, err = parse(t, failed)
		require.NoError(t, err)
		assert.Equal(t, billing.EventPaymentFailed, event.Kind)
	})

	t.Run("malformed but signed payload", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{"meta": `)
		_, err := parse(t, payload)
		assert.ErrorIs(t, err, billing.ErrMalformedPayload)
	})
}
