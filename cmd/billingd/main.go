// billingd runs the subscription-billing backend: provider webhook intake,
// the lifecycle engine over Postgres, and the session/cancellation API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	billingmod "github.com/dmitrymomot/billingkit/modules/billing"
	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/requestid"
	billingsvc "github.com/dmitrymomot/billingkit/svc/billing"
)

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	FreeTierID  string `env:"BILLING_FREE_TIER_ID" envDefault:"free"`
	CatalogPath string `env:"BILLING_CATALOG_PATH"`
	AutoMigrate bool   `env:"PG_AUTO_MIGRATE" envDefault:"true"`

	StripeEnabled       bool `env:"BILLING_STRIPE_ENABLED" envDefault:"false"`
	PaddleEnabled       bool `env:"BILLING_PADDLE_ENABLED" envDefault:"false"`
	LemonSqueezyEnabled bool `env:"BILLING_LEMONSQUEEZY_ENABLED" envDefault:"false"`

	HookWebhookURL    string `env:"BILLING_HOOK_WEBHOOK_URL"`
	HookWebhookSecret string `env:"BILLING_HOOK_WEBHOOK_SECRET"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("billingd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg := config.MustLoad[appConfig]()

	log := logger.New(
		logger.WithEnvironment(cfg.Env, "billingd"),
		logger.WithContextExtractors(
			requestid.LoggerExtractor(),
			billing.TenantLogExtractor(),
		),
	)
	slog.SetDefault(log)

	pgCfg := config.MustLoad[pg.Config]()
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
			return err
		}
	}

	store := billingsvc.NewStore(pool)

	if cfg.CatalogPath != "" {
		source := billingsvc.NewFileCatalogSource(cfg.CatalogPath)
		if err := billingsvc.SeedCatalog(ctx, store, source); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		log.InfoContext(ctx, "catalog seeded", "path", cfg.CatalogPath)
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	notifiers := []billing.Notifier{billing.NewSlogNotifier(log)}
	if cfg.HookWebhookURL != "" {
		hook, err := billing.NewWebhookNotifier(cfg.HookWebhookURL, cfg.HookWebhookSecret)
		if err != nil {
			return fmt.Errorf("hook notifier: %w", err)
		}
		notifiers = append(notifiers, hook)
	}
	emitter := billing.NewEmitter(log, notifiers...)

	engine, err := billing.NewService(store, cfg.FreeTierID, providers,
		billing.WithLogger(log),
		billing.WithHookEmitter(emitter),
	)
	if err != nil {
		return err
	}

	handler := billingsvc.NewHandler(engine, billingsvc.WithHandlerLogger(log))

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Mount("/", billingmod.Router(billingmod.RouterOptions{
		Billing:     handler,
		Healthcheck: pg.Healthcheck(pool),
	}))

	srv := httpserver.New(config.MustLoad[httpserver.Config](), log)
	if err := srv.Run(ctx, r); err != nil {
		return err
	}

	// In-flight hook notifications get a grace period after the listener
	// stops; they are best-effort and dropped past the deadline.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := emitter.Flush(flushCtx); err != nil {
		log.Warn("hook notifications dropped at shutdown", "error", err)
	}
	return nil
}

func buildProviders(cfg appConfig) ([]billing.Provider, error) {
	var providers []billing.Provider

	if cfg.StripeEnabled {
		p, err := billing.NewStripeProvider(config.MustLoad[billing.StripeConfig]())
		if err != nil {
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		providers = append(providers, p)
	}
	if cfg.PaddleEnabled {
		p, err := billing.NewPaddleProvider(config.MustLoad[billing.PaddleConfig]())
		if err != nil {
			return nil, fmt.Errorf("paddle provider: %w", err)
		}
		providers = append(providers, p)
	}
	if cfg.LemonSqueezyEnabled {
		p, err := billing.NewLemonSqueezyProvider(config.MustLoad[billing.LemonSqueezyConfig]())
		if err != nil {
			return nil, fmt.Errorf("lemonsqueezy provider: %w", err)
		}
		providers = append(providers, p)
	}

	return providers, nil
}
