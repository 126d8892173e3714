package webhook

import "errors"

// Sentinel errors for outbound deliveries. Wrapped errors carry the
// attempt detail; callers classify with errors.Is.
var (
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")
	ErrInvalidPayload       = errors.New("invalid webhook payload")
	ErrInvalidURL           = errors.New("invalid webhook URL")
	ErrDeliveryFailed       = errors.New("webhook delivery failed")
	ErrPermanentFailure     = errors.New("permanent webhook failure")
	ErrTemporaryFailure     = errors.New("temporary webhook failure")
	ErrTimeout              = errors.New("webhook request timeout")
	ErrSignatureInvalid     = errors.New("webhook signature invalid")
)
