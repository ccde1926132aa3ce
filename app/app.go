package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/cartloopapp/cartloop/internal/cache"
	"github.com/cartloopapp/cartloop/internal/carrier"
	"github.com/cartloopapp/cartloop/internal/config"
	"github.com/cartloopapp/cartloop/internal/db"
	"github.com/cartloopapp/cartloop/internal/email"
	"github.com/cartloopapp/cartloop/internal/handlers"
	"github.com/cartloopapp/cartloop/internal/payment"
	"github.com/cartloopapp/cartloop/internal/pricing"
	"github.com/cartloopapp/cartloop/internal/services"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	Handlers      *handlers.Handlers
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(startupCtx, database); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	rules, err := pricing.NewParser().ParseFile(cfg.PricingRulesPath)
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, err
	}
	if err := pricing.NewValidator().Validate(rules); err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("invalid pricing rules: %w", err)
	}
	pricer := pricing.NewPricer(rules)

	orderStore := db.NewOrderStore(database)
	inventoryStore := db.NewInventoryStore(database)
	couponStore := db.NewCouponStore(database)

	var emailSender services.OrderEmailSender
	if cfg.ResendAPIKey != "" {
		provider, providerErr := email.NewProvider(email.Config{
			Provider: "resend",
			APIKey:   cfg.ResendAPIKey,
			From:     cfg.EmailFrom,
		})
		if providerErr != nil {
			closeCacheProvider(logger, cacheProvider)
			database.Close()
			return nil, fmt.Errorf("failed to initialize email provider: %w", providerErr)
		}
		emailSender, err = services.NewRenderedOrderEmailSender(provider, cfg.AdminEmail)
		if err != nil {
			closeCacheProvider(logger, cacheProvider)
			database.Close()
			return nil, err
		}
	}

	var carrierClient *carrier.Client
	if cfg.CarrierEnabled() {
		carrierClient = carrier.NewClient(cfg.CarrierBaseURL, cfg.CarrierEmail, cfg.CarrierPassword, cacheProvider)
	}

	paymentClient := payment.NewClient(cfg.StripeSecretKey)

	couponService := services.NewCouponService(couponStore, logger.With("component", "coupon_service"))
	inventoryService := services.NewInventoryService(inventoryStore, emailSender, pricer.LowStockThreshold(), logger.With("component", "inventory_service"))

	warehouse := carrier.Address{
		Name:       rules.Warehouse.Name,
		Line1:      rules.Warehouse.Line1,
		Line2:      rules.Warehouse.Line2,
		City:       rules.Warehouse.City,
		State:      rules.Warehouse.State,
		PostalCode: rules.Warehouse.PostalCode,
		Country:    rules.Warehouse.Country,
		Phone:      rules.Warehouse.Phone,
	}

	var shipments services.ShipmentCarrier
	if carrierClient != nil {
		shipments = carrierClient
	}

	cancellationService := services.NewCancellationService(
		orderStore,
		paymentClient,
		shipments,
		inventoryService,
		couponService,
		emailSender,
		warehouse,
		logger.With("component", "cancellation_service"),
	)

	orderService := services.NewOrderService(
		orderStore,
		inventoryService,
		couponService,
		pricer,
		cancellationService,
		emailSender,
		logger.With("component", "order_service"),
	)

	h, err := handlers.New(handlers.Dependencies{
		Config:           cfg,
		DB:               database,
		CacheProvider:    cacheProvider,
		OrderService:     orderService,
		InventoryService: inventoryService,
		CouponService:    couponService,
		CarrierClient:    carrierClient,
		Logger:           logger,
	})
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            database,
		CacheProvider: cacheProvider,
		Handlers:      h,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	sentry.Flush(2 * time.Second)
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	case "text", "":
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level: cfg.LogLevel,
		}))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel}))
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
