// Package webhook delivers signed JSON notifications to consumer
// endpoints over HTTP with bounded retries.
//
// It handles the delivery mechanics only: marshaling, signing, retry
// classification and backoff. What gets delivered, and when, is the
// caller's concern.
//
// # Usage
//
//	sender := webhook.NewSender()
//
//	err := sender.Send(ctx, "https://consumer.example.com/billing",
//	    payload,
//	    webhook.WithSignature(secret),
//	    webhook.WithMaxRetries(2),
//	)
//
// Send marshals the payload to JSON and POSTs it. Temporary failures
// (network errors, 5xx, 408/425/429) are retried with backoff between
// attempts; other 4xx responses fail immediately as permanent. The
// context bounds the whole call, including backoff sleeps.
//
// # Request signing
//
// WithSignature attaches three headers to each delivery:
//
//	X-Billingkit-Signature: hex HMAC-SHA256 over "<timestamp>.<payload>"
//	X-Billingkit-Timestamp: unix timestamp the signature was created at
//	X-Billingkit-Delivery:  unique id for this delivery
//
// Consumers verify with ExtractSignatureHeaders and VerifySignature:
//
//	sig, err := webhook.ExtractSignatureHeaders(r.Header)
//	if err != nil {
//	    // reject
//	}
//	if err := webhook.VerifySignature(secret, body, sig, 5*time.Minute); err != nil {
//	    // reject
//	}
//
// VerifySignature recomputes the MAC in constant time and rejects
// timestamps older than the given window, so captured requests cannot
// be replayed later.
package webhook
