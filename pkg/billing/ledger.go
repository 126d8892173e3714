package billing

import "time"

// ProcessedWebhookEvent is an append-only ledger row recording that a webhook
// delivery has been applied. Presence of a row is the sole idempotency guard:
// rows are never updated or deleted, and (EventID, Provider) is unique.
//
// EventID is provider-scoped. Providers that issue a fresh id per delivery
// use it directly; providers that only identify the affected resource derive
// the id by hashing the entire raw payload, since the resource id repeats
// across legitimately distinct deliveries.
type ProcessedWebhookEvent struct {
	EventID     string
	Provider    string
	EventType   string
	ProcessedAt time.Time
}
