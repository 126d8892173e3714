package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// WebhookResult reports the outcome of one webhook delivery.
type WebhookResult struct {
	// Processed is true when a lifecycle transition or audit record was
	// applied. No-op deliveries (unhandled kinds, unknown references) are
	// ledgered but report false.
	Processed bool
	// Duplicate is true when the ledger already contained the event.
	Duplicate bool
	EventID   string
	EventType string
	Message   string
}

// CheckoutParams describes a checkout session to create.
type CheckoutParams struct {
	TenantID   uuid.UUID
	Provider   string
	PriceID    string // provider price/variant id, must exist in the catalog
	SuccessURL string
	CancelURL  string
}

// Service is the subscription lifecycle engine. It owns every local state
// transition: API calls only talk to providers, webhooks drive the writes.
type Service struct {
	store      Store
	providers  map[string]Provider
	emitter    *Emitter
	log        *slog.Logger
	freeTierID string
}

// ServiceOption configures optional Service settings.
type ServiceOption func(*Service)

// WithHookEmitter sets the emitter used for post-commit notifications.
func WithHookEmitter(emitter *Emitter) ServiceOption {
	return func(s *Service) {
		if emitter != nil {
			s.emitter = emitter
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService creates the lifecycle engine. Panics on a nil store or nil
// provider to fail fast during initialization; configuration-level problems
// (no providers, no free tier) return errors.
func NewService(store Store, freeTierID string, providers []Provider, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		panic("billing: Store is required")
	}
	if freeTierID == "" {
		return nil, ErrFreeTierRequired
	}
	if len(providers) == 0 {
		return nil, ErrNoProvidersConfigured
	}

	s := &Service{
		store:      store,
		providers:  make(map[string]Provider, len(providers)),
		log:        slog.Default(),
		freeTierID: freeTierID,
	}
	for _, p := range providers {
		if p == nil {
			panic("billing: nil Provider")
		}
		s.providers[p.Name()] = p
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.emitter == nil {
		s.emitter = NewEmitter(s.log)
	}

	return s, nil
}

// CreateCheckoutSession validates the price against the catalog and the
// tenant against the store, then delegates session creation to the provider.
// Nothing is written locally: the checkout-completed webhook does that.
func (s *Service) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	provider, ok := s.providers[params.Provider]
	if !ok {
		return nil, ErrUnknownProvider
	}

	// The catalog is global, so price resolution runs under the system
	// scope. The tenant read runs under the tenant's own scope.
	price, err := s.store.PriceByProviderRef(ctx, SystemContext(), params.Provider, params.PriceID)
	if err != nil {
		return nil, err
	}

	tenant, err := s.store.TenantByID(ctx, TenantSecurityContext(params.TenantID), params.TenantID)
	if err != nil {
		return nil, err
	}

	return provider.CreateCheckoutSession(ctx, CheckoutRequest{
		TenantID:   tenant.ID,
		TierID:     price.TierID,
		PriceID:    price.ProviderPriceID,
		Email:      tenant.BillingEmail,
		SuccessURL: params.SuccessURL,
		CancelURL:  params.CancelURL,
	})
}

// CreateCustomerPortalSession opens the provider's customer portal for a
// tenant that already has a payment customer mapping there.
func (s *Service) CreateCustomerPortalSession(ctx context.Context, tenantID uuid.UUID, providerName, returnURL string) (*PortalSession, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return nil, ErrUnknownProvider
	}

	customer, err := s.store.PaymentCustomer(ctx, TenantSecurityContext(tenantID), tenantID, providerName)
	if err != nil {
		return nil, err
	}

	return provider.CreateCustomerPortalSession(ctx, PortalRequest{
		ProviderCustomerID: customer.ProviderCustomerID,
		ReturnURL:          returnURL,
	})
}

// CancelSubscription cancels the subscription at the provider. The local row
// is left untouched: the provider's cancellation webhook performs the local
// transition, keeping webhooks the single writer of subscription state.
func (s *Service) CancelSubscription(ctx context.Context, providerName, providerSubscriptionID string) error {
	provider, ok := s.providers[providerName]
	if !ok {
		return ErrUnknownProvider
	}
	return provider.CancelSubscription(ctx, providerSubscriptionID)
}

// HandleWebhook processes one webhook delivery end to end: signature
// verification and parsing via the provider adapter, then the idempotency
// check, the lifecycle transition and the ledger insert inside a single
// transaction. Hook events go out only after the transaction commits.
//
// Verification and parse failures return errors (the transport turns them
// into 4xx). Duplicates are a normal outcome, not an error.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, payload []byte, signature string) (*WebhookResult, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return nil, ErrUnknownProvider
	}

	event, err := provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return nil, err
	}

	result := &WebhookResult{
		EventID:   event.ID,
		EventType: event.ProviderEvent,
	}

	var outcome applyOutcome
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		seen, err := tx.HasProcessedEvent(ctx, SystemContext(), event.ID, providerName)
		if err != nil {
			return err
		}
		if seen {
			return ErrEventAlreadyProcessed
		}

		outcome, err = s.applyEvent(ctx, tx, providerName, event)
		if err != nil {
			return err
		}

		// The ledger insert is the last statement of the transaction, so a
		// committed ledger row always implies committed side effects. A
		// unique-key conflict here means another delivery of the same event
		// won the race; this transaction rolls back whole.
		return tx.MarkEventProcessed(ctx, outcome.scope, event.ID, providerName, event.ProviderEvent)
	})
	if err != nil {
		if errors.Is(err, ErrEventAlreadyProcessed) {
			result.Duplicate = true
			result.Message = "event already processed"
			return result, nil
		}
		return nil, err
	}

	result.Processed = outcome.processed
	result.Message = outcome.message

	s.log.InfoContext(ctx, "webhook processed",
		"provider", providerName,
		"event_id", event.ID,
		"event_type", event.ProviderEvent,
		"applied", outcome.processed,
		"outcome", outcome.message)

	if len(outcome.hooks) > 0 {
		s.emitter.Emit(ctx, outcome.hooks...)
	}

	return result, nil
}

// applyOutcome carries the result of one lifecycle transition out of the
// transaction closure. scope is the security context the ledger insert runs
// under: the resolved tenant's when one was found, the system's otherwise.
type applyOutcome struct {
	scope     SecurityContext
	processed bool
	message   string
	hooks     []HookEvent
}

func (s *Service) applyEvent(ctx context.Context, tx Tx, providerName string, event *WebhookEvent) (applyOutcome, error) {
	switch event.Kind {
	case EventCheckoutCompleted:
		return s.applyCheckoutCompleted(ctx, tx, providerName, event.Checkout)
	case EventSubscriptionUpdated:
		return s.applySubscriptionUpdated(ctx, tx, providerName, event.Change)
	case EventSubscriptionCancelled:
		return s.applySubscriptionCancelled(ctx, tx, providerName, event.Change)
	case EventPaymentSucceeded:
		return s.applyPaymentSucceeded(ctx, tx, providerName, event.Payment)
	case EventPaymentFailed:
		return s.applyPaymentFailed(ctx, tx, providerName, event.Payment)
	default:
		return applyOutcome{scope: SystemContext(), message: "unhandled event type"}, nil
	}
}

// applyCheckoutCompleted activates a subscription after a completed
// checkout. Tenants are never created from webhook data: a checkout that
// cannot be attributed to an existing tenant is ledgered and skipped.
func (s *Service) applyCheckoutCompleted(ctx context.Context, tx Tx, providerName string, checkout *CheckoutCompleted) (applyOutcome, error) {
	system := SystemContext()

	if checkout.TenantID == uuid.Nil {
		return applyOutcome{scope: system, message: "missing tenant metadata"}, nil
	}
	if checkout.ProviderSubscriptionID == "" {
		return applyOutcome{scope: system, message: "missing subscription reference"}, nil
	}

	tenant, err := tx.TenantByID(ctx, system, checkout.TenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return applyOutcome{scope: system, message: "unknown tenant"}, nil
		}
		return applyOutcome{}, err
	}

	// The catalog row is authoritative for the tier; round-trip metadata is
	// the fallback for providers whose checkout payload omits the price.
	tierID := checkout.TierID
	if checkout.ProviderPriceID != "" {
		price, err := tx.PriceByProviderRef(ctx, system, providerName, checkout.ProviderPriceID)
		switch {
		case err == nil:
			tierID = price.TierID
		case errors.Is(err, ErrPriceNotFound):
		default:
			return applyOutcome{}, err
		}
	}
	if tierID == "" {
		return applyOutcome{scope: system, message: "unable to resolve tier"}, nil
	}

	sc := TenantSecurityContext(tenant.ID)
	now := time.Now().UTC()

	if err := tx.UpsertPaymentCustomer(ctx, sc, PaymentCustomer{
		TenantID:           tenant.ID,
		Provider:           providerName,
		ProviderCustomerID: checkout.ProviderCustomerID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}); err != nil {
		return applyOutcome{}, err
	}

	// A known subscription reference means a redelivered or renewal
	// notification for an existing subscription: update it in place instead
	// of superseding the tenant's active subscription again.
	existing, err := tx.SubscriptionByProviderRef(ctx, sc, providerName, checkout.ProviderSubscriptionID)
	switch {
	case err == nil:
		existing.TierID = tierID
		existing.Status = StatusActive
		if checkout.RenewsAt != nil {
			existing.ExpiresAt = checkout.RenewsAt
		}
		existing.UpdatedAt = now
		if err := tx.UpdateSubscription(ctx, sc, existing); err != nil {
			return applyOutcome{}, err
		}
		return applyOutcome{
			scope:     sc,
			processed: true,
			message:   "existing subscription refreshed",
			hooks: []HookEvent{newHook(tenant.ID, HookSubscriptionUpdated, existing.ID, map[string]string{
				"provider": providerName,
				"tier_id":  tierID,
				"status":   string(StatusActive),
			})},
		}, nil

	case errors.Is(err, ErrSubscriptionNotFound):
	default:
		return applyOutcome{}, err
	}

	// Supersede-on-new-checkout: the cancel and the insert share the
	// transaction so no interleaving can leave two active subscriptions.
	if _, err := tx.CancelActiveSubscriptions(ctx, sc, tenant.ID); err != nil {
		return applyOutcome{}, err
	}

	sub := &Subscription{
		ID:                     uuid.New(),
		TenantID:               tenant.ID,
		TierID:                 tierID,
		Status:                 StatusActive,
		StartsAt:               now,
		ExpiresAt:              checkout.RenewsAt,
		Provider:               providerName,
		ProviderSubscriptionID: checkout.ProviderSubscriptionID,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := tx.InsertSubscription(ctx, sc, sub); err != nil {
		return applyOutcome{}, err
	}

	return applyOutcome{
		scope:     sc,
		processed: true,
		message:   "subscription activated",
		hooks: []HookEvent{
			newHook(tenant.ID, HookCheckoutCompleted, sub.ID, map[string]string{
				"provider":                 providerName,
				"provider_subscription_id": checkout.ProviderSubscriptionID,
				"tier_id":                  tierID,
			}),
			newHook(tenant.ID, HookSubscriptionActivated, sub.ID, map[string]string{
				"provider": providerName,
				"tier_id":  tierID,
			}),
		},
	}, nil
}

// applySubscriptionUpdated maps a provider-side change onto the local row.
// Unknown references are treated as foreign subscriptions and skipped.
func (s *Service) applySubscriptionUpdated(ctx context.Context, tx Tx, providerName string, change *SubscriptionChange) (applyOutcome, error) {
	system := SystemContext()

	if change.ProviderSubscriptionID == "" {
		return applyOutcome{scope: system, message: "missing subscription reference"}, nil
	}

	sub, err := tx.SubscriptionByProviderRef(ctx, system, providerName, change.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return applyOutcome{scope: system, message: "no matching subscription"}, nil
		}
		return applyOutcome{}, err
	}

	sc := TenantSecurityContext(sub.TenantID)
	now := time.Now().UTC()

	// Reactivation (resume, unpause) supersedes whatever became active in
	// the meantime, typically the free-tier row a downgrade inserted.
	if change.Status == StatusActive && !sub.IsActive() {
		if _, err := tx.CancelActiveSubscriptions(ctx, sc, sub.TenantID); err != nil {
			return applyOutcome{}, err
		}
	}

	if change.ProviderPriceID != "" {
		price, err := tx.PriceByProviderRef(ctx, system, providerName, change.ProviderPriceID)
		switch {
		case err == nil:
			sub.TierID = price.TierID
		case errors.Is(err, ErrPriceNotFound):
		default:
			return applyOutcome{}, err
		}
	}

	sub.Status = change.Status
	if change.RenewsAt != nil {
		sub.ExpiresAt = change.RenewsAt
	}
	if change.EndsAt != nil {
		sub.ExpiresAt = change.EndsAt
	}
	sub.UpdatedAt = now

	if err := tx.UpdateSubscription(ctx, sc, sub); err != nil {
		return applyOutcome{}, err
	}

	return applyOutcome{
		scope:     sc,
		processed: true,
		message:   "subscription updated",
		hooks: []HookEvent{newHook(sub.TenantID, HookSubscriptionUpdated, sub.ID, map[string]string{
			"provider": providerName,
			"tier_id":  sub.TierID,
			"status":   string(sub.Status),
		})},
	}, nil
}

// applySubscriptionCancelled finalizes a provider-side cancellation and
// downgrades the tenant to the free tier. The downgrade is part of the same
// transition: a tenant whose paid subscription ends must never be left
// without an active subscription.
func (s *Service) applySubscriptionCancelled(ctx context.Context, tx Tx, providerName string, change *SubscriptionChange) (applyOutcome, error) {
	system := SystemContext()

	if change.ProviderSubscriptionID == "" {
		return applyOutcome{scope: system, message: "missing subscription reference"}, nil
	}

	sub, err := tx.SubscriptionByProviderRef(ctx, system, providerName, change.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return applyOutcome{scope: system, message: "no matching subscription"}, nil
		}
		return applyOutcome{}, err
	}

	sc := TenantSecurityContext(sub.TenantID)
	now := time.Now().UTC()
	wasActive := sub.IsActive()

	sub.Status = change.Status
	if !sub.Status.Valid() || sub.Status == StatusActive {
		sub.Status = StatusCancelled
	}
	if change.EndsAt != nil {
		sub.ExpiresAt = change.EndsAt
	}
	sub.UpdatedAt = now

	if err := tx.UpdateSubscription(ctx, sc, sub); err != nil {
		return applyOutcome{}, err
	}

	hooks := []HookEvent{newHook(sub.TenantID, HookSubscriptionCancelled, sub.ID, map[string]string{
		"provider": providerName,
		"tier_id":  sub.TierID,
		"status":   string(sub.Status),
	})}

	// Downgrade when this cancellation ends the tenant's active
	// subscription, or when the tenant was already left without one. If a
	// different subscription is active (a newer checkout superseded this
	// one before its cancellation webhook arrived), it survives untouched.
	downgrade := wasActive
	if !downgrade {
		switch _, err := tx.ActiveSubscription(ctx, sc, sub.TenantID); {
		case err == nil:
		case errors.Is(err, ErrSubscriptionNotFound):
			downgrade = true
		default:
			return applyOutcome{}, err
		}
	}

	if downgrade {
		if _, err := tx.CancelActiveSubscriptions(ctx, sc, sub.TenantID); err != nil {
			return applyOutcome{}, err
		}
		free := &Subscription{
			ID:        uuid.New(),
			TenantID:  sub.TenantID,
			TierID:    s.freeTierID,
			Status:    StatusActive,
			StartsAt:  now,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertSubscription(ctx, sc, free); err != nil {
			return applyOutcome{}, err
		}
		hooks = append(hooks, newHook(sub.TenantID, HookSubscriptionDowngraded, free.ID, map[string]string{
			"tier_id": s.freeTierID,
		}))
	}

	return applyOutcome{
		scope:     sc,
		processed: true,
		message:   "subscription cancelled",
		hooks:     hooks,
	}, nil
}

// applyPaymentSucceeded extends the paid-through timestamp after a renewal
// charge. Providers that omit the new period end get an audit record only.
func (s *Service) applyPaymentSucceeded(ctx context.Context, tx Tx, providerName string, payment *PaymentNotice) (applyOutcome, error) {
	system := SystemContext()

	if payment.ProviderSubscriptionID == "" {
		return applyOutcome{scope: system, message: "missing subscription reference"}, nil
	}

	sub, err := tx.SubscriptionByProviderRef(ctx, system, providerName, payment.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return applyOutcome{scope: system, message: "no matching subscription"}, nil
		}
		return applyOutcome{}, err
	}

	sc := TenantSecurityContext(sub.TenantID)

	if payment.PeriodEnd != nil {
		sub.ExpiresAt = payment.PeriodEnd
		sub.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateSubscription(ctx, sc, sub); err != nil {
			return applyOutcome{}, err
		}
	}

	return applyOutcome{
		scope:     sc,
		processed: true,
		message:   "payment recorded",
		hooks: []HookEvent{newHook(sub.TenantID, HookPaymentSucceeded, sub.ID, map[string]string{
			"provider": providerName,
		})},
	}, nil
}

// applyPaymentFailed records the failure for auditing. Status changes ride
// in on the provider's own subscription-updated webhook (past_due and the
// like), never on the payment notice.
func (s *Service) applyPaymentFailed(ctx context.Context, tx Tx, providerName string, payment *PaymentNotice) (applyOutcome, error) {
	system := SystemContext()

	if payment.ProviderSubscriptionID == "" {
		return applyOutcome{scope: system, message: "missing subscription reference"}, nil
	}

	sub, err := tx.SubscriptionByProviderRef(ctx, system, providerName, payment.ProviderSubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return applyOutcome{scope: system, message: "no matching subscription"}, nil
		}
		return applyOutcome{}, err
	}

	return applyOutcome{
		scope:     TenantSecurityContext(sub.TenantID),
		processed: true,
		message:   "payment failure recorded",
		hooks: []HookEvent{newHook(sub.TenantID, HookPaymentFailed, sub.ID, map[string]string{
			"provider": providerName,
		})},
	}, nil
}

func newHook(tenantID uuid.UUID, kind string, resourceID uuid.UUID, metadata map[string]string) HookEvent {
	return HookEvent{
		TenantID:   tenantID,
		Kind:       kind,
		Resource:   "subscription",
		ResourceID: resourceID.String(),
		Metadata:   metadata,
		EmittedAt:  time.Now().UTC(),
	}
}
