package billing

import "errors"

var (
	// Lookup errors returned by the store and surfaced through the service API.
	ErrTenantNotFound       = errors.New("tenant not found")
	ErrPriceNotFound        = errors.New("price not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrNoActiveCustomer     = errors.New("no payment customer exists for tenant and provider")

	// Provider configuration errors, fatal at adapter construction.
	ErrMissingAPIKey              = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret       = errors.New("billing provider webhook secret is required")
	ErrMissingStoreID             = errors.New("billing provider store ID is required")
	ErrInvalidProviderEnvironment = errors.New("invalid billing provider environment")
	ErrUnknownProvider            = errors.New("unknown billing provider")

	// Webhook pipeline errors.
	ErrWebhookVerificationFailed = errors.New("webhook signature verification failed")
	ErrMalformedPayload          = errors.New("malformed webhook payload")
	ErrEventAlreadyProcessed     = errors.New("webhook event already processed")

	// Remote provider interaction errors.
	ErrProviderRequestFailed = errors.New("billing provider request failed")
	ErrNoCheckoutURL         = errors.New("no checkout URL returned from provider")
	ErrNoPortalURL           = errors.New("no portal URL returned from provider")

	// Service configuration errors.
	ErrFreeTierRequired       = errors.New("free tier ID is required")
	ErrNoProvidersConfigured  = errors.New("at least one billing provider is required")
	ErrInvalidCurrency        = errors.New("invalid ISO 4217 currency code")
	ErrInvalidSecurityContext = errors.New("security context is required")
)
