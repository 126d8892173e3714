package billing

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

var (
	ErrCatalogLoadFailed = errors.New("catalog file could not be read")
	ErrCatalogInvalid    = errors.New("catalog document is invalid")
)

// CatalogEntry is one product with its purchasable prices. Prices inherit
// the product's provider and tier binding.
type CatalogEntry struct {
	Product billing.Product
	Prices  []billing.Price
}

// CatalogSource loads the catalog declaration the service seeds at boot.
type CatalogSource interface {
	Load(ctx context.Context) ([]CatalogEntry, error)
}

// FileCatalogSource reads the catalog from a YAML document:
//
//	products:
//	  - name: Pro
//	    tier: pro
//	    provider: stripe
//	    provider_product_id: prod_abc123
//	    prices:
//	      - provider_price_id: price_monthly
//	        amount: 1500
//	        currency: USD
//	        interval: monthly
type FileCatalogSource struct {
	path string
}

// NewFileCatalogSource creates a source reading from path. Panics on empty
// path.
func NewFileCatalogSource(path string) *FileCatalogSource {
	if path == "" {
		panic("billing catalog: file path is required")
	}
	return &FileCatalogSource{path: path}
}

func (s *FileCatalogSource) Load(_ context.Context) ([]CatalogEntry, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrCatalogLoadFailed, err)
	}

	var doc catalogDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrCatalogInvalid, err)
	}
	return doc.entries()
}

var knownProviders = map[string]struct{}{
	billing.ProviderStripe:       {},
	billing.ProviderPaddle:       {},
	billing.ProviderLemonSqueezy: {},
}

var knownIntervals = map[string]billing.BillingInterval{
	string(billing.BillingIntervalNone):    billing.BillingIntervalNone,
	string(billing.BillingIntervalMonthly): billing.BillingIntervalMonthly,
	string(billing.BillingIntervalAnnual):  billing.BillingIntervalAnnual,
}

type catalogDocument struct {
	Products []catalogProduct `yaml:"products"`
}

type catalogProduct struct {
	Name              string         `yaml:"name"`
	TierID            string         `yaml:"tier"`
	Provider          string         `yaml:"provider"`
	ProviderProductID string         `yaml:"provider_product_id"`
	Prices            []catalogPrice `yaml:"prices"`
}

type catalogPrice struct {
	ProviderPriceID string `yaml:"provider_price_id"`
	Amount          int64  `yaml:"amount"`
	Currency        string `yaml:"currency"`
	Interval        string `yaml:"interval"`
}

func (doc catalogDocument) entries() ([]CatalogEntry, error) {
	if len(doc.Products) == 0 {
		return nil, errors.Join(ErrCatalogInvalid, errors.New("catalog declares no products"))
	}

	entries := make([]CatalogEntry, 0, len(doc.Products))
	for i, p := range doc.Products {
		if p.Name == "" {
			return nil, catalogFieldError(i, "name is required")
		}
		if p.TierID == "" {
			return nil, catalogFieldError(i, "tier is required")
		}
		if _, ok := knownProviders[p.Provider]; !ok {
			return nil, catalogFieldError(i, fmt.Sprintf("unknown provider %q", p.Provider))
		}
		if p.ProviderProductID == "" {
			return nil, catalogFieldError(i, "provider_product_id is required")
		}
		if len(p.Prices) == 0 {
			return nil, catalogFieldError(i, "at least one price is required")
		}

		entry := CatalogEntry{
			Product: billing.Product{
				Name:              p.Name,
				Provider:          p.Provider,
				ProviderProductID: p.ProviderProductID,
				TierID:            p.TierID,
			},
		}

		for j, pr := range p.Prices {
			if pr.ProviderPriceID == "" {
				return nil, catalogPriceError(i, j, "provider_price_id is required")
			}
			if pr.Amount < 0 {
				return nil, catalogPriceError(i, j, "amount must not be negative")
			}
			interval, ok := knownIntervals[pr.Interval]
			if !ok {
				return nil, catalogPriceError(i, j, fmt.Sprintf("unknown interval %q", pr.Interval))
			}
			amount, err := billing.NewMoney(pr.Amount, pr.Currency)
			if err != nil {
				return nil, catalogPriceError(i, j, fmt.Sprintf("invalid currency %q", pr.Currency))
			}

			entry.Prices = append(entry.Prices, billing.Price{
				Provider:        p.Provider,
				ProviderPriceID: pr.ProviderPriceID,
				TierID:          p.TierID,
				Amount:          amount,
				Interval:        interval,
			})
		}

		entries = append(entries, entry)
	}
	return entries, nil
}

func catalogFieldError(product int, msg string) error {
	return errors.Join(ErrCatalogInvalid, fmt.Errorf("products[%d]: %s", product, msg))
}

func catalogPriceError(product, price int, msg string) error {
	return errors.Join(ErrCatalogInvalid, fmt.Errorf("products[%d].prices[%d]: %s", product, price, msg))
}

// CatalogStore is the store surface SeedCatalog writes through.
type CatalogStore interface {
	UpsertProduct(ctx context.Context, sc billing.SecurityContext, product billing.Product) (uuid.UUID, error)
	UpsertPrice(ctx context.Context, sc billing.SecurityContext, price billing.Price) error
}

// SeedCatalog loads the catalog and upserts it under the system scope.
// Existing products get their display name refreshed; existing prices are
// left untouched so rows referenced by live subscriptions stay stable.
func SeedCatalog(ctx context.Context, store CatalogStore, source CatalogSource) error {
	entries, err := source.Load(ctx)
	if err != nil {
		return err
	}

	sc := billing.SystemContext()
	for _, entry := range entries {
		productID, err := store.UpsertProduct(ctx, sc, entry.Product)
		if err != nil {
			return fmt.Errorf("seed product %q: %w", entry.Product.Name, err)
		}
		for _, price := range entry.Prices {
			price.ProductID = productID
			if err := store.UpsertPrice(ctx, sc, price); err != nil {
				return fmt.Errorf("seed price %q: %w", price.ProviderPriceID, err)
			}
		}
	}
	return nil
}
