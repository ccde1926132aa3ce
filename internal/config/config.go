package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	JWTSecret string `env:"JWT_SECRET,required" validate:"required,min=32"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY,required" validate:"required"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required" validate:"required"`

	CarrierBaseURL  string `env:"CARRIER_BASE_URL" validate:"omitempty,url"`
	CarrierEmail    string `env:"CARRIER_EMAIL" validate:"omitempty,email"`
	CarrierPassword string `env:"CARRIER_PASSWORD"`

	ResendAPIKey string `env:"RESEND_API_KEY"`
	EmailFrom    string `env:"EMAIL_FROM" envDefault:"orders@cartloop.app" validate:"required,email"`
	AdminEmail   string `env:"ADMIN_EMAIL" validate:"omitempty,email"`

	CacheProvider         string `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	RedisConnectionString string `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis"`

	PricingRulesPath string `env:"PRICING_RULES_PATH" envDefault:"pricing.yaml" validate:"required"`

	SentryDSN string `env:"SENTRY_DSN"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	hasCarrierURL := strings.TrimSpace(c.CarrierBaseURL) != ""
	hasCarrierCreds := strings.TrimSpace(c.CarrierEmail) != "" && strings.TrimSpace(c.CarrierPassword) != ""
	if hasCarrierURL != hasCarrierCreds {
		return fmt.Errorf("CARRIER_BASE_URL, CARRIER_EMAIL, and CARRIER_PASSWORD must be set together")
	}

	return nil
}

// CarrierEnabled reports whether a carrier aggregator is configured. Without
// one, shipment cancellation and return pickup are skipped saga steps.
func (c *Config) CarrierEnabled() bool {
	return strings.TrimSpace(c.CarrierBaseURL) != ""
}
