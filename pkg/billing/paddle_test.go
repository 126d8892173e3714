package billing_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

const paddleTestSecret = "pdl_ntfset_secret"

func newPaddleProvider(t *testing.T) *billing.PaddleProvider {
	t.Helper()
	p, err := billing.NewPaddleProvider(billing.PaddleConfig{
		APIKey:        "pdl_apikey_test",
		WebhookSecret: paddleTestSecret,
		Environment:   "sandbox",
	})
	require.NoError(t, err)
	return p
}

func signPaddlePayload(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s", ts, payload)
	return fmt.Sprintf("ts=%s;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestNewPaddleProvider(t *testing.T) {
	t.Parallel()

	t.Run("requires API key", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewPaddleProvider(billing.PaddleConfig{WebhookSecret: "s"})
		assert.ErrorIs(t, err, billing.ErrMissingAPIKey)
	})

	t.Run("requires webhook secret", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewPaddleProvider(billing.PaddleConfig{APIKey: "k"})
		assert.ErrorIs(t, err, billing.ErrMissingWebhookSecret)
	})

	t.Run("rejects unknown environments", func(t *testing.T) {
		t.Parallel()
		_, err := billing.NewPaddleProvider(billing.PaddleConfig{
			APIKey: "k", WebhookSecret: "s", Environment: "staging",
		})
		assert.ErrorIs(t, err, billing.ErrInvalidProviderEnvironment)
	})
}

func TestPaddleProvider_VerifyWebhookSignature(t *testing.T) {
	t.Parallel()

	p := newPaddleProvider(t)
	payload := []byte(`{"event_id":"evt_1","event_type":"subscription.updated","data":{}}`)

	t.Run("accepts a valid signature", func(t *testing.T) {
		t.Parallel()
		sig := signPaddlePayload(payload, paddleTestSecret, time.Now())
		assert.True(t, p.VerifyWebhookSignature(payload, sig))
	})

	t.Run("rejects a signature from another secret", func(t *testing.T) {
		t.Parallel()
		sig := signPaddlePayload(payload, "other_secret", time.Now())
		assert.False(t, p.VerifyWebhookSignature(payload, sig))
	})

	t.Run("rejects a tampered payload", func(t *testing.T) {
		t.Parallel()
		sig := signPaddlePayload(payload, paddleTestSecret, time.Now())
		tampered := append([]byte(nil), payload...)
		tampered[len(tampered)-2] = 'X'
		assert.False(t, p.VerifyWebhookSignature(tampered, sig))
	})

	t.Run("rejects an empty header", func(t *testing.T) {
		t.Parallel()
		assert.False(t, p.VerifyWebhookSignature(payload, ""))
	})
}

func TestPaddleProvider_ParseWebhook(t *testing.T) {
	t.Parallel()

	p := newPaddleProvider(t)
	ctx := context.Background()

	parse := func(t *testing.T, payload []byte) (*billing.WebhookEvent, error) {
		t.Helper()
		return p.ParseWebhook(ctx, payload, signPaddlePayload(payload, paddleTestSecret, time.Now()))
	}

	t.Run("rejects a bad signature", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{"event_id":"evt_1"}`)
		_, err := p.ParseWebhook(ctx, payload, signPaddlePayload(payload, "other", time.Now()))
		assert.ErrorIs(t, err, billing.ErrWebhookVerificationFailed)
	})

	t.Run("parses a completed subscription transaction", func(t *testing.T) {
		t.Parallel()
		tenantID := uuid.New()
		payload := fmt.Appendf(nil, `{
			"event_id": "evt_txn_1",
			"event_type": "transaction.completed",
			"data": {
				"id": "txn_1",
				"status": "completed",
				"customer_id": "ctm_1",
				"subscription_id": "sub_1",
				"custom_data": {"tenant_id": %q, "tier_id": "pro"},
				"billing_period": {"starts_at": "2026-08-25T00:00:00Z", "ends_at": "2026-09-25T00:00:00Z"},
				"items": [{"price": {"id": "pri_1"}}]
			}
		}`, tenantID)

		event, err := parse(t, payload)
		require.NoError(t, err)

		assert.Equal(t, "evt_txn_1", event.ID)
		assert.Equal(t, billing.EventCheckoutCompleted, event.Kind)
		require.NotNil(t, event.Checkout)
		assert.Equal(t, tenantID, event.Checkout.TenantID)
		assert.Equal(t, "pro", event.Checkout.TierID)
		assert.Equal(t, "ctm_1", event.Checkout.ProviderCustomerID)
		assert.Equal(t, "sub_1", event.Checkout.ProviderSubscriptionID)
		assert.Equal(t, "pri_1", event.Checkout.ProviderPriceID)
		require.NotNil(t, event.Checkout.RenewsAt)
		assert.Equal(t, time.Date(2026, 9, 25, 0, 0, 0, 0, time.UTC), event.Checkout.RenewsAt.UTC())
	})

	t.Run("one-time transaction is unhandled", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"event_id": "evt_txn_2",
			"event_type": "transaction.completed",
			"data": {"id": "txn_2", "status": "completed", "customer_id": "ctm_1"}
		}`)

		event, err := parse(t, payload)
		require.NoError(t, err)
		assert.Equal(t, billing.EventUnhandled, event.Kind)
		assert.Nil(t, event.Checkout)
	})

	t.Run("parses subscription updates with a scheduled cancel", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"event_id": "evt_sub_1",
			"event_type": "subscription.updated",
			"data": {
				"id": "sub_1",
				"status": "active",
				"customer_id": "ctm_1",
				"current_billing_period": {"starts_at": "2026-08-25T00:00:00Z", "ends_at": "2026-09-25T00:00:00Z"},
				"scheduled_change": {"action": "cancel", "effective_at": "2026-10-01T00:00:00Z"},
				"items": [{"price": {"id": "pri_2"}}]
			}
		}`)

		event, err := parse(t, payload)
		require.NoError(t, err)

		assert.Equal(t, billing.EventSubscriptionUpdated, event.Kind)
		require.NotNil(t, event.Change)
		assert.Equal(t, "sub_1", event.Change.ProviderSubscriptionID)
		assert.Equal(t, billing.StatusActive, event.Change.Status)
		assert.Equal(t, "pri_2", event.Change.ProviderPriceID)
		require.NotNil(t, event.Change.RenewsAt)
		assert.Equal(t, time.Date(2026, 9, 25, 0, 0, 0, 0, time.UTC), event.Change.RenewsAt.UTC())
		require.NotNil(t, event.Change.EndsAt)
		assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), event.Change.EndsAt.UTC())
	})

	t.Run("maps status vocabulary", func(t *testing.T) {
		t.Parallel()
		cases := map[string]billing.Status{
			"active":   billing.StatusActive,
			"trialing": billing.StatusActive,
			"past_due": billing.StatusActive,
			"paused":   billing.StatusCancelled,
			"canceled": billing.StatusCancelled,
		}

		for providerStatus, want := range cases {
			payload := fmt.Appendf(nil, `{
				"event_id": "evt_st_%s",
				"event_type": "subscription.updated",
				"data": {"id": "sub_1", "status": %q}
			}`, providerStatus, providerStatus)

			event, err := parse(t, payload)
			require.NoError(t, err)
			require.NotNil(t, event.Change, providerStatus)
			assert.Equal(t, want, event.Change.Status, "status %q", providerStatus)
		}
	})

	t.Run("lifecycle event names normalize to updates", func(t *testing.T) {
		t.Parallel()
		for _, eventType := range []string{
			"subscription.created",
			"subscription.activated",
			"subscription.paused",
			"subscription.resumed",
			"subscription.past_due",
		} {
			payload := fmt.Appendf(nil, `{
				"event_id": "evt_%s",
				"event_type": %q,
				"data": {"id": "sub_1", "status": "active"}
			}`, eventType, eventType)

			event, err := parse(t, payload)
			require.NoError(t, err)
			assert.Equal(t, billing.EventSubscriptionUpdated, event.Kind, eventType)
		}
	})

	t.Run("parses subscription canceled with the cancellation timestamp", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"event_id": "evt_cncl_1",
			"event_type": "subscription.canceled",
			"data": {
				"id": "sub_1",
				"status": "canceled",
				"canceled_at": "2026-09-01T12:00:00Z",
				"items": [{"price": {"id": "pri_2"}}]
			}
		}`)

		event, err := parse(t, payload)
		require.NoError(t, err)

		assert.Equal(t, billing.EventSubscriptionCancelled, event.Kind)
		require.NotNil(t, event.Change)
		assert.Equal(t, billing.StatusCancelled, event.Change.Status)
		require.NotNil(t, event.Change.EndsAt)
		assert.Equal(t, time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC), event.Change.EndsAt.UTC())
	})

	t.Run("parses failed payment transactions", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"event_id": "evt_fail_1",
			"event_type": "transaction.payment_failed",
			"data": {"id": "txn_9", "status": "past_due", "subscription_id": "sub_1"}
		}`)

		event, err := parse(t, payload)
		require.NoError(t, err)

		assert.Equal(t, billing.EventPaymentFailed, event.Kind)
		require.NotNil(t, event.Payment)
		assert.Equal(t, "sub_1", event.Payment.ProviderSubscriptionID)
	})

	t.Run("unknown event types pass through unhandled", func(t *testing.T) {
		t.Parallel()
		payload := []byte(`{
			"event_id": "evt_misc_1",
			"event_type": "adjustment.created",
			"data": {"id": "adj_1"}
		}`)

		event, err := parse(t, payload)
		require.NoError(t, err)
		assert.Equal(t, billing.EventUnhandled, event.Kind)
		assert.Equal(t, "adjustment.created", event.ProviderEvent)
	})
}
