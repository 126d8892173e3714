package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/pg"
)

// Store is the PostgreSQL implementation of billing.Store. Tenant isolation
// is enforced server-side: every transaction publishes its SecurityContext
// through transaction-local settings that the row-level-security policies
// read. A query that escapes its declared scope returns no rows instead of
// another tenant's data.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by pool. Panics on nil pool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("billing store: pool is required")
	}
	return &Store{pool: pool}
}

func (s *Store) withTx(ctx context.Context, fn func(ctx context.Context, tx *storeTx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(pgxTx pgx.Tx) error {
		return fn(ctx, &storeTx{tx: pgxTx})
	})
}

// WithinTx runs fn inside one database transaction, committing when fn
// returns nil and rolling back otherwise.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx billing.Tx) error) error {
	return s.withTx(ctx, func(ctx context.Context, tx *storeTx) error {
		return fn(ctx, tx)
	})
}

// set_config(..., true) is transaction-local, so even single reads run
// inside a transaction to give the setting something to attach to.

func (s *Store) PriceByProviderRef(ctx context.Context, sc billing.SecurityContext, provider, providerPriceID string) (*billing.Price, error) {
	var price *billing.Price
	err := s.withTx(ctx, func(ctx context.Context, tx *storeTx) error {
		var err error
		price, err = tx.PriceByProviderRef(ctx, sc, provider, providerPriceID)
		return err
	})
	return price, err
}

func (s *Store) TenantByID(ctx context.Context, sc billing.SecurityContext, tenantID uuid.UUID) (*billing.Tenant, error) {
	var tenant *billing.Tenant
	err := s.withTx(ctx, func(ctx context.Context, tx *storeTx) error {
		var err error
		tenant, err = tx.TenantByID(ctx, sc, tenantID)
		return err
	})
	return tenant, err
}

func (s *Store) PaymentCustomer(ctx context.Context, sc billing.SecurityContext, tenantID uuid.UUID, provider string) (*billing.PaymentCustomer, error) {
	var pc *billing.PaymentCustomer
	err := s.withTx(ctx, func(ctx context.Context, tx *storeTx) error {
		if err := applyScope(ctx, tx, sc); err != nil {
			return err
		}
		row := tx.tx.QueryRow(ctx, `
			SELECT tenant_id, provider, provider_customer_id, created_at, updated_at
			FROM payment_customers
			WHERE tenant_id = $1 AND provider = $2`,
			tenantID, provider)

		var got billing.PaymentCustomer
		if err := row.Scan(&got.TenantID, &got.Provider, &got.ProviderCustomerID, &got.CreatedAt, &got.UpdatedAt); err != nil {
			if pg.IsNotFoundError(err) {
				return billing.ErrNoActiveCustomer
			}
			return fmt.Errorf("query payment customer: %w", err)
		}
		pc = &got
		return nil
	})
	return pc, err
}

// storeTx implements billing.Tx over a pgx transaction. It remembers the
// last applied SecurityContext so repeated calls under the same scope issue
// set_config once.
type storeTx struct {
	tx    pgx.Tx
	scope billing.SecurityContext
}

func applyScope(ctx context.Context, t *storeTx, sc billing.SecurityContext) error {
	if sc.IsZero() {
		return billing.ErrInvalidSecurityContext
	}
	if sc == t.scope {
		return nil
	}

	tenant, bypass := "", "off"
	if sc.IsSystem() {
		bypass = "on"
	} else if id, ok := sc.TenantID(); ok {
		tenant = id.String()
	}

	_, err := t.tx.Exec(ctx, `
		SELECT set_config('app.current_tenant_id', $1, true),
		       set_config('app.tenant_isolation_bypass', $2, true)`,
		tenant, bypass)
	if err != nil {
		return fmt.Errorf("apply security context %s: %w", sc, err)
	}
	t.scope = sc
	return nil
}

func (t *storeTx) HasProcessedEvent(ctx context.Context, sc billing.SecurityContext, eventID, provider string) (bool, error) {
	if err := applyScope(ctx, t, sc); err != nil {
		return false, err
	}

	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_webhook_events
			WHERE event_id = $1 AND provider = $2
		)`,
		eventID, provider).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event ledger: %w", err)
	}
	return exists, nil
}

func (t *storeTx) MarkEventProcessed(ctx context.Context, sc billing.SecurityContext, eventID, provider, eventType string) error {
	if err := applyScope(ctx, t, sc); err != nil {
		return err
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO processed_webhook_events (event_id, provider, event_type, processed_at)
		VALUES ($1, $2, $3, now())`,
		eventID, provider, eventType)
	if pg.IsDuplicateKeyError(err) {
		return billing.ErrEventAlreadyProcessed
	}
	if err != nil {
		return fmt.Errorf("append event ledger: %w", err)
	}
	return nil
}

func (t *storeTx) PriceByProviderRef(ctx context.Context, sc billing.SecurityContext, provider, providerPriceID string) (*billing.Price, error) {
	if err := applyScope(ctx, t, sc); err != nil {
		return nil, err
	}

	row := t.tx.QueryRow(ctx, `
		SELECT id, product_id, provider, provider_price_id, tier_id, amount, currency, billing_interval
		FROM prices
		WHERE provider = $1 AND provider_price_id = $2`,
		provider, providerPriceID)

	var p billing.Price
	err := row.Scan(&p.ID, &p.ProductID, &p.Provider, &p.ProviderPriceID, &p.TierID,
		&p.Amount.Amount, &p.Amount.Currency, &p.Interval)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrPriceNotFound
		}
		return nil, fmt.Errorf("query price: %w", err)
	}
	return &p, nil
}

func (t *storeTx) TenantByID(ctx context.Context, sc billing.SecurityContext, tenantID uuid.UUID) (*billing.Tenant, error) {
	if err := applyScope(ctx, t, sc); err != nil {
		return nil, err
	}

	row := t.tx.QueryRow(ctx, `
		SELECT id, billing_email, balance, balance_currency, created_at, updated_at
		FROM tenants
		WHERE id = $1`,
		tenantID)

	var tenant billing.Tenant
	err := row.Scan(&tenant.ID, &tenant.BillingEmail, &tenant.Balance,
		&tenant.BalanceCurrency, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrTenantNotFound
		}
		return nil, fmt.Errorf("query tenant: %w", err)
	}
	return &tenant, nil
}

func (t *storeTx) UpsertPaymentCustomer(ctx context.Context, sc billing.SecurityContext, pc billing.PaymentCustomer) error {
	if err := applyScope(ctx, t, sc); err != nil {
		return err
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO payment_customers (tenant_id, provider, provider_customer_id, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (tenant_id, provider)
		DO UPDATE SET provider_customer_id = EXCLUDED.provider_customer_id, updated_at = now()`,
		pc.TenantID, pc.Provider, pc.ProviderCustomerID)
	if err != nil {
		return fmt.Errorf("upsert payment customer: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, tenant_id, tier_id, status, starts_at, expires_at,
	provider, provider_subscription_id, created_at, updated_at`

func scanSubscription(row pgx.Row) (*billing.Subscription, error) {
	var sub billing.Subscription
	err := row.Scan(&sub.ID, &sub.TenantID, &sub.TierID, &sub.Status, &sub.StartsAt,
		&sub.ExpiresAt, &sub.Provider, &sub.ProviderSubscriptionID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	return &sub, nil
}

func (t *storeTx) SubscriptionByProviderRef(ctx context.Context, sc billing.SecurityContext, provider, providerSubscriptionID string) (*billing.Subscription, error) {
	if err := applyScope(ctx, t, sc); err != nil {
		return nil, err
	}
	// Free-tier rows carry empty provider refs; an empty key must not match them.
	if provider == "" || providerSubscriptionID == "" {
		return nil, billing.ErrSubscriptionNotFound
	}

	row := t.tx.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE provider = $1 AND provider_subscription_id = $2`,
		provider, providerSubscriptionID)
	return scanSubscription(row)
}

func (t *storeTx) ActiveSubscription(ctx context.Context, sc billing.SecurityContext, tenantID uuid.UUID) (*billing.Subscription, error) {
	if err := applyScope(ctx, t, sc); err != nil {
		return nil, err
	}

	row := t.tx.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		tenantID, billing.StatusActive)
	return scanSubscription(row)
}

func (t *storeTx) CancelActiveSubscriptions(ctx context.Context, sc billing.SecurityContext, tenantID uuid.UUID) (int, error) {
	if err := applyScope(ctx, t, sc); err != nil {
		return 0, err
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE subscriptions
		SET status = $2, updated_at = now()
		WHERE tenant_id = $1 AND status = $3`,
		tenantID, billing.StatusCancelled, billing.StatusActive)
	if err != nil {
		return 0, fmt.Errorf("cancel active subscriptions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *storeTx) InsertSubscription(ctx context.Context, sc billing.SecurityContext, sub *billing.Subscription) error {
	if err := applyScope(ctx, t, sc); err != nil {
		return err
	}

	now := time.Now().UTC()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.StartsAt.IsZero() {
		sub.StartsAt = now
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now

	_, err := t.tx.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sub.ID, sub.TenantID, sub.TierID, sub.Status, sub.StartsAt, sub.ExpiresAt,
		sub.Provider, sub.ProviderSubscriptionID, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (t *storeTx) UpdateSubscription(ctx context.Context, sc billing.SecurityContext, sub *billing.Subscription) error {
	if err := applyScope(ctx, t, sc); err != nil {
		return err
	}

	sub.UpdatedAt = time.Now().UTC()
	// The provider join key is immutable; only lifecycle fields change.
	tag, err := t.tx.Exec(ctx, `
		UPDATE subscriptions
		SET tier_id = $2, status = $3, starts_at = $4, expires_at = $5, updated_at = $6
		WHERE id = $1`,
		sub.ID, sub.TierID, sub.Status, sub.StartsAt, sub.ExpiresAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrSubscriptionNotFound
	}
	return nil
}

// UpsertProduct inserts a catalog product or refreshes its display name,
// returning the row id either way. Tier and provider bindings are immutable
// once created so live subscriptions keep a stable catalog.
func (s *Store) UpsertProduct(ctx context.Context, sc billing.SecurityContext, product billing.Product) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.withTx(ctx, func(ctx context.Context, t *storeTx) error {
		if err := applyScope(ctx, t, sc); err != nil {
			return err
		}

		if product.ID == uuid.Nil {
			product.ID = uuid.New()
		}
		row := t.tx.QueryRow(ctx, `
			INSERT INTO products (id, name, provider, provider_product_id, tier_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (provider, provider_product_id)
			DO UPDATE SET name = EXCLUDED.name
			RETURNING id`,
			product.ID, product.Name, product.Provider, product.ProviderProductID, product.TierID)
		if err := row.Scan(&id); err != nil {
			return fmt.Errorf("upsert product: %w", err)
		}
		return nil
	})
	return id, err
}

// UpsertPrice inserts a catalog price, leaving existing rows untouched.
// Amounts and intervals of already-published prices never change in place.
func (s *Store) UpsertPrice(ctx context.Context, sc billing.SecurityContext, price billing.Price) error {
	return s.withTx(ctx, func(ctx context.Context, t *storeTx) error {
		if err := applyScope(ctx, t, sc); err != nil {
			return err
		}

		if price.ID == uuid.Nil {
			price.ID = uuid.New()
		}
		_, err := t.tx.Exec(ctx, `
			INSERT INTO prices (id, product_id, provider, provider_price_id, tier_id, amount, currency, billing_interval)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (provider, provider_price_id) DO NOTHING`,
			price.ID, price.ProductID, price.Provider, price.ProviderPriceID,
			price.TierID, price.Amount.Amount, price.Amount.Currency, price.Interval)
		if err != nil {
			return fmt.Errorf("upsert price: %w", err)
		}
		return nil
	})
}
