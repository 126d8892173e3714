package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

func TestSignPayload(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"kind":"subscription.created","tenant_id":"t1"}`)

	t.Run("produces verifiable signature", func(t *testing.T) {
		t.Parallel()

		sig, err := webhook.SignPayload("whsec_test", payload)
		require.NoError(t, err)

		mac := hmac.New(sha256.New, []byte("whsec_test"))
		fmt.Fprintf(mac, "%d.%s", sig.Timestamp, payload)
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig.Signature)

		assert.WithinDuration(t, time.Now(), time.Unix(sig.Timestamp, 0), 5*time.Second)

		_, err = uuid.Parse(sig.DeliveryID)
		assert.NoError(t, err)
	})

	t.Run("requires a secret", func(t *testing.T) {
		t.Parallel()

		_, err := webhook.SignPayload("", payload)
		assert.ErrorIs(t, err, webhook.ErrInvalidConfiguration)
	})

	t.Run("rejects empty payloads", func(t *testing.T) {
		t.Parallel()

		_, err := webhook.SignPayload("whsec_test", nil)
		assert.ErrorIs(t, err, webhook.ErrInvalidPayload)
	})
}

func TestSignatureHeaders_Headers(t *testing.T) {
	t.Parallel()

	sig := webhook.SignatureHeaders{
		Signature:  "abc123",
		Timestamp:  1756100000,
		DeliveryID: "dlv_1",
	}

	headers := sig.Headers()
	assert.Equal(t, "abc123", headers["X-Billingkit-Signature"])
	assert.Equal(t, "1756100000", headers["X-Billingkit-Timestamp"])
	assert.Equal(t, "dlv_1", headers["X-Billingkit-Delivery"])
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	const secret = "whsec_test"
	payload := []byte(`{"kind":"subscription.cancelled"}`)

	sign := func(t *testing.T, secret string, payload []byte, at time.Time) webhook.SignatureHeaders {
		t.Helper()
		mac := hmac.New(sha256.New, []byte(secret))
		fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
		return webhook.SignatureHeaders{
			Signature: hex.EncodeToString(mac.Sum(nil)),
			Timestamp: at.Unix(),
		}
	}

	t.Run("accepts a fresh valid signature", func(t *testing.T) {
		t.Parallel()

		sig := sign(t, secret, payload, time.Now())
		assert.NoError(t, webhook.VerifySignature(secret, payload, sig, 5*time.Minute))
	})

	t.Run("rejects a different secret", func(t *testing.T) {
		t.Parallel()

		sig := sign(t, "whsec_other", payload, time.Now())
		err := webhook.VerifySignature(secret, payload, sig, 5*time.Minute)
		assert.ErrorIs(t, err, webhook.ErrSignatureInvalid)
	})

	t.Run("rejects a tampered payload", func(t *testing.T) {
		t.Parallel()

		sig := sign(t, secret, payload, time.Now())
		tampered := append([]byte{}, payload...)
		tampered[0] ^= 0x01

		err := webhook.VerifySignature(secret, tampered, sig, 5*time.Minute)
		assert.ErrorIs(t, err, webhook.ErrSignatureInvalid)
	})

	t.Run("rejects stale timestamps", func(t *testing.T) {
		t.Parallel()

		sig := sign(t, secret, payload, time.Now().Add(-10*time.Minute))
		err := webhook.VerifySignature(secret, payload, sig, 5*time.Minute)
		require.ErrorIs(t, err, webhook.ErrSignatureInvalid)
		assert.ErrorContains(t, err, "old")
	})

	t.Run("rejects future timestamps", func(t *testing.T) {
		t.Parallel()

		sig := sign(t, secret, payload, time.Now().Add(10*time.Minute))
		err := webhook.VerifySignature(secret, payload, sig, 5*time.Minute)
		require.ErrorIs(t, err, webhook.ErrSignatureInvalid)
		assert.ErrorContains(t, err, "future")
	})

	t.Run("zero maxAge disables the age check", func(t *testing.T) {
		t.Parallel()

		sig := sign(t, secret, payload, time.Now().Add(-24*time.Hour))
		assert.NoError(t, webhook.VerifySignature(secret, payload, sig, 0))
	})

	t.Run("requires signature and secret", func(t *testing.T) {
		t.Parallel()

		err := webhook.VerifySignature(secret, payload, webhook.SignatureHeaders{Timestamp: time.Now().Unix()}, 0)
		assert.ErrorIs(t, err, webhook.ErrSignatureInvalid)

		sig := sign(t, secret, payload, time.Now())
		err = webhook.VerifySignature("", payload, sig, 0)
		assert.ErrorIs(t, err, webhook.ErrInvalidConfiguration)

		err = webhook.VerifySignature(secret, nil, sig, 0)
		assert.ErrorIs(t, err, webhook.ErrInvalidPayload)
	})
}

func TestExtractSignatureHeaders(t *testing.T) {
	t.Parallel()

	t.Run("round trips signed headers", func(t *testing.T) {
		t.Parallel()

		signed, err := webhook.SignPayload("whsec_test", []byte(`{"kind":"x"}`))
		require.NoError(t, err)

		h := http.Header{}
		for k, v := range signed.Headers() {
			h.Set(k, v)
		}

		got, err := webhook.ExtractSignatureHeaders(h)
		require.NoError(t, err)
		assert.Equal(t, signed, got)
	})

	t.Run("header lookup is case insensitive", func(t *testing.T) {
		t.Parallel()

		h := http.Header{}
		h.Set("x-billingkit-signature", "abc")
		h.Set("x-billingkit-timestamp", "1756100000")

		got, err := webhook.ExtractSignatureHeaders(h)
		require.NoError(t, err)
		assert.Equal(t, "abc", got.Signature)
		assert.Equal(t, int64(1756100000), got.Timestamp)
	})

	t.Run("delivery id is optional", func(t *testing.T) {
		t.Parallel()

		h := http.Header{}
		h.Set(webhook.HeaderSignature, "abc")
		h.Set(webhook.HeaderTimestamp, "1756100000")

		got, err := webhook.ExtractSignatureHeaders(h)
		require.NoError(t, err)
		assert.Empty(t, got.DeliveryID)
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()

		h := http.Header{}
		h.Set(webhook.HeaderTimestamp, "1756100000")

		_, err := webhook.ExtractSignatureHeaders(h)
		assert.ErrorIs(t, err, webhook.ErrSignatureInvalid)
	})

	t.Run("missing timestamp", func(t *testing.T) {
		t.Parallel()

		h := http.Header{}
		h.Set(webhook.HeaderSignature, "abc")

		_, err := webhook.ExtractSignatureHeaders(h)
		assert.ErrorIs(t, err, webhook.ErrSignatureInvalid)
	})

	t.Run("malformed timestamp", func(t *testing.T) {
		t.Parallel()

		h := http.Header{}
		h.Set(webhook.HeaderSignature, "abc")
		h.Set(webhook.HeaderTimestamp, "not-a-number")

		_, err := webhook.ExtractSignatureHeaders(h)
		require.ErrorIs(t, err, webhook.ErrSignatureInvalid)
		assert.ErrorContains(t, err, "malformed timestamp")
	})
}
