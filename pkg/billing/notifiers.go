package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/webhook"
)

// SlogNotifier writes hook events as structured audit log lines.
type SlogNotifier struct {
	log *slog.Logger
}

// NewSlogNotifier creates a notifier that logs each hook event at info level.
// A nil logger falls back to slog.Default.
func NewSlogNotifier(log *slog.Logger) *SlogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &SlogNotifier{log: log}
}

func (n *SlogNotifier) Notify(ctx context.Context, event HookEvent) error {
	n.log.InfoContext(ctx, "billing event",
		"hook", event.Kind,
		"tenant_id", event.TenantID,
		"resource", event.Resource,
		"resource_id", event.ResourceID,
		"metadata", event.Metadata,
	)
	return nil
}

// WebhookNotifier POSTs hook events to a consumer endpoint as signed JSON.
// Deliveries carry the X-Billingkit-Signature, X-Billingkit-Timestamp and
// X-Billingkit-Delivery headers; the signature is hex HMAC-SHA256 over
// "<timestamp>.<body>" so the consumer can verify authenticity and reject
// replays. Transient failures are retried briefly within the notifier
// window; whatever still fails is dropped by the emitter.
type WebhookNotifier struct {
	url    string
	secret string
	sender *webhook.Sender
}

// NewWebhookNotifier creates a notifier delivering to url, signing each
// request with secret.
func NewWebhookNotifier(url, secret string) (*WebhookNotifier, error) {
	if url == "" {
		return nil, errors.New("billing: webhook notifier URL is required")
	}
	if secret == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &WebhookNotifier{
		url:    url,
		secret: secret,
		sender: webhook.NewSender(),
	}, nil
}

func (n *WebhookNotifier) Notify(ctx context.Context, event HookEvent) error {
	payload := struct {
		TenantID   string            `json:"tenant_id"`
		Kind       string            `json:"kind"`
		Resource   string            `json:"resource"`
		ResourceID string            `json:"resource_id"`
		Metadata   map[string]string `json:"metadata,omitempty"`
		EmittedAt  time.Time         `json:"emitted_at"`
	}{
		TenantID:   event.TenantID.String(),
		Kind:       event.Kind,
		Resource:   event.Resource,
		ResourceID: event.ResourceID,
		Metadata:   event.Metadata,
		EmittedAt:  event.EmittedAt,
	}

	// Retries must fit inside the emitter's per-notifier window, so the
	// backoff stays short.
	return n.sender.Send(ctx, n.url, payload,
		webhook.WithSignature(n.secret),
		webhook.WithTimeout(5*time.Second),
		webhook.WithMaxRetries(2),
		webhook.WithBackoff(webhook.ExponentialBackoff{
			InitialInterval: 250 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2,
			JitterFactor:    0.1,
		}),
	)
}
