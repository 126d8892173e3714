// Package config loads application configuration from environment variables
// into typed structs.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11: the
// default .env file is read once per process (and is optional), then each
// call parses the environment into a struct driven by `env` field tags.
//
// # Usage
//
// Declare a struct with `env` tags and load it at startup:
//
//	type StripeConfig struct {
//	    APIKey        string `env:"STRIPE_API_KEY,required"`
//	    WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
//	}
//
//	cfg := config.MustLoad[StripeConfig]()
//
// Load returns an error when a required variable is absent or a value cannot
// be converted to the field type; MustLoad panics instead, which is the
// desired behavior for configuration the process cannot start without.
package config
