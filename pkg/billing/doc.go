// Package billing implements a multi-tenant subscription billing engine on
// top of external payment providers (Stripe, Paddle, Lemon Squeezy).
//
// The package owns the subscription lifecycle: provider webhooks are the
// single source of truth for local state, API calls only create hosted
// sessions or request changes at the provider. Local rows change exclusively
// inside HandleWebhook, one atomic transaction per verified delivery.
//
// # Architecture
//
// Three seams keep the engine provider- and storage-agnostic:
//
//   - Provider adapts one payment processor: session creation, remote
//     cancellation, signature verification on raw payload bytes, and
//     normalization of the provider's webhook vocabulary into EventKind.
//   - Store / Tx provide persistence. Every method takes an explicit
//     SecurityContext so tenant isolation is enforced server-side rather
//     than by query discipline.
//   - Notifier receives HookEvent values after a transaction commits.
//     Delivery is fire-and-forget and never affects committed state.
//
// # Webhook Processing
//
// HandleWebhook runs the full pipeline for one delivery:
//
//	provider lookup -> ParseWebhook (verify + normalize)
//	-> WithinTx:
//	     HasProcessedEvent (eventID, provider)  -- duplicate check
//	     lifecycle transition                   -- per EventKind
//	     MarkEventProcessed                     -- ledger insert, last
//	-> emit hooks (post-commit, async)
//
// The processed-event ledger is the sole idempotency guard. Because the
// ledger insert is the final statement of the same transaction as the
// business mutation, a committed ledger row implies committed side effects
// and a rollback erases both. Two concurrent deliveries of the same event
// race on the ledger's unique key; the loser rolls back completely and
// reports a duplicate.
//
// Ledger identity is (eventID, provider). Providers with per-delivery event
// ids use them directly; Lemon Squeezy payloads carry no delivery id, so the
// adapter derives the id from a SHA-256 of the raw payload bytes.
//
// # Lifecycle Transitions
//
// A subscription is active, cancelled or expired. Checkout completion
// supersedes the tenant's active subscriptions and inserts a fresh active
// row. Updates map the provider's status vocabulary through per-provider
// tables; past_due always stays active so access is not cut during the
// provider's retry window. Cancellation marks the row and downgrades the
// tenant to the configured free tier in the same transaction, so a tenant is
// never left without an active subscription. Payment failures are recorded
// but change nothing; the provider's own status webhook drives any
// consequences.
//
// # Security
//
// Every store access carries a SecurityContext: SystemContext for
// cross-tenant resolution reads (catalog prices, locating a subscription by
// provider reference) and TenantSecurityContext for everything touching a
// known tenant's rows. The zero SecurityContext is invalid and rejected by
// implementations.
//
// # Usage
//
//	stripe, err := billing.NewStripeProvider(stripeCfg)
//	if err != nil {
//	    return err
//	}
//
//	svc, err := billing.NewService(store, "free", []billing.Provider{stripe},
//	    billing.WithLogger(log),
//	    billing.WithHookEmitter(billing.NewEmitter(log, billing.NewSlogNotifier(log))),
//	)
//	if err != nil {
//	    return err
//	}
//
//	result, err := svc.HandleWebhook(ctx, billing.ProviderStripe, payload, sigHeader)
package billing
