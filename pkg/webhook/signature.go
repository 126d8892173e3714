package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Signature header names attached to every signed delivery.
const (
	HeaderSignature = "X-Billingkit-Signature"
	HeaderTimestamp = "X-Billingkit-Timestamp"
	HeaderDelivery  = "X-Billingkit-Delivery"
)

// SignatureHeaders carries the signing material for one delivery.
// DeliveryID is unique per attempt so consumers can deduplicate
// redelivered notifications.
type SignatureHeaders struct {
	Signature  string
	Timestamp  int64
	DeliveryID string
}

// Headers returns the signature headers keyed by their HTTP header names.
func (s SignatureHeaders) Headers() map[string]string {
	return map[string]string{
		HeaderSignature: s.Signature,
		HeaderTimestamp: strconv.FormatInt(s.Timestamp, 10),
		HeaderDelivery:  s.DeliveryID,
	}
}

// SignPayload computes the hex HMAC-SHA256 signature for a payload.
// The MAC covers "<unix timestamp>.<payload>" so a captured request
// cannot be replayed outside the verification window.
func SignPayload(secret string, payload []byte) (SignatureHeaders, error) {
	if secret == "" {
		return SignatureHeaders{}, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return SignatureHeaders{}, fmt.Errorf("%w: payload is empty", ErrInvalidPayload)
	}

	ts := time.Now().Unix()

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)

	return SignatureHeaders{
		Signature:  hex.EncodeToString(mac.Sum(nil)),
		Timestamp:  ts,
		DeliveryID: uuid.New().String(),
	}, nil
}

// VerifySignature checks a received payload against its signature headers.
// maxAge bounds the accepted timestamp skew; zero disables the age check.
// Comparison is constant time.
func VerifySignature(secret string, payload []byte, headers SignatureHeaders, maxAge time.Duration) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload is empty", ErrInvalidPayload)
	}
	if headers.Signature == "" {
		return fmt.Errorf("%w: signature header is missing", ErrSignatureInvalid)
	}

	if maxAge > 0 {
		age := time.Since(time.Unix(headers.Timestamp, 0))
		if age > maxAge {
			return fmt.Errorf("%w: timestamp is %s old", ErrSignatureInvalid, age.Round(time.Second))
		}
		// Small negative age is clock skew; anything further in the
		// future is a forged timestamp.
		if age < -time.Minute {
			return fmt.Errorf("%w: timestamp is in the future", ErrSignatureInvalid)
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", headers.Timestamp, payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(headers.Signature)) {
		return fmt.Errorf("%w: signature mismatch", ErrSignatureInvalid)
	}
	return nil
}

// ExtractSignatureHeaders reads the signing material from request headers.
func ExtractSignatureHeaders(h http.Header) (SignatureHeaders, error) {
	sig := SignatureHeaders{
		Signature:  h.Get(HeaderSignature),
		DeliveryID: h.Get(HeaderDelivery),
	}
	if sig.Signature == "" {
		return SignatureHeaders{}, fmt.Errorf("%w: %s header is missing", ErrSignatureInvalid, HeaderSignature)
	}

	raw := h.Get(HeaderTimestamp)
	if raw == "" {
		return SignatureHeaders{}, fmt.Errorf("%w: %s header is missing", ErrSignatureInvalid, HeaderTimestamp)
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return SignatureHeaders{}, fmt.Errorf("%w: malformed timestamp %q", ErrSignatureInvalid, raw)
	}
	sig.Timestamp = ts

	return sig, nil
}
