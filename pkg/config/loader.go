package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

// Load parses environment variables into a fresh instance of T based on its
// `env` field tags. The default .env file is loaded once per process before
// the first parse; a missing .env file is not an error.
//
// Example:
//
//	type PostgresConfig struct {
//		ConnURL       string `env:"PG_CONN_URL,required"`
//		RetryAttempts int    `env:"PG_RETRY_ATTEMPTS" envDefault:"3"`
//	}
//
//	cfg, err := config.Load[PostgresConfig]()
func Load[T any]() (T, error) {
	defaultEnvLoaded.Do(func() {
		// The .env file is optional; real environments set variables directly.
		_ = godotenv.Load()
	})

	var cfg T
	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// MustLoad works like Load but panics on failure. Use it during process
// startup for configuration the service cannot run without.
func MustLoad[T any]() T {
	cfg, err := Load[T]()
	if err != nil {
		panic(fmt.Sprintf("config: failed to load required configuration: %v", err))
	}
	return cfg
}
