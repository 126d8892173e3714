package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/config"
)

type testConfig struct {
	Host  string `env:"TEST_CFG_HOST" envDefault:"localhost"`
	Port  int    `env:"TEST_CFG_PORT" envDefault:"5432"`
	Token string `env:"TEST_CFG_TOKEN,required"`
}

func TestLoad(t *testing.T) {
	t.Run("parses values and defaults", func(t *testing.T) {
		t.Setenv("TEST_CFG_TOKEN", "secret")
		t.Setenv("TEST_CFG_PORT", "9000")

		cfg, err := config.Load[testConfig]()
		require.NoError(t, err)
		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, 9000, cfg.Port)
		assert.Equal(t, "secret", cfg.Token)
	})

	t.Run("fails on missing required variable", func(t *testing.T) {
		type strictConfig struct {
			Missing string `env:"TEST_CFG_DEFINITELY_MISSING,required"`
		}

		_, err := config.Load[strictConfig]()
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("fails on malformed value", func(t *testing.T) {
		t.Setenv("TEST_CFG_TOKEN", "secret")
		t.Setenv("TEST_CFG_PORT", "not-a-number")

		_, err := config.Load[testConfig]()
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("returns config on success", func(t *testing.T) {
		t.Setenv("TEST_CFG_TOKEN", "secret")

		cfg := config.MustLoad[testConfig]()
		assert.Equal(t, "secret", cfg.Token)
	})

	t.Run("panics on failure", func(t *testing.T) {
		type strictConfig struct {
			Missing string `env:"TEST_CFG_DEFINITELY_MISSING,required"`
		}

		assert.Panics(t, func() {
			_ = config.MustLoad[strictConfig]()
		})
	})
}
