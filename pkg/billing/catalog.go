package billing

import (
	"github.com/google/uuid"
)

// Product is a catalog entry mapping a provider's product to an internal
// tier. Catalog rows referenced by a live subscription are treated as
// immutable.
type Product struct {
	ID                uuid.UUID
	Name              string
	Provider          string // provider name the external id belongs to
	ProviderProductID string
	TierID            string
}

// Price is a purchasable variant of a Product. The pair
// (Provider, ProviderPriceID) translates a provider's price or variant
// identifier from a webhook into an internal tier.
type Price struct {
	ID              uuid.UUID
	ProductID       uuid.UUID
	Provider        string
	ProviderPriceID string
	TierID          string
	Amount          Money
	Interval        BillingInterval
}
