package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cartloopapp/cartloop/internal/cache"
	"github.com/cartloopapp/cartloop/internal/carrier"
	"github.com/cartloopapp/cartloop/internal/config"
	"github.com/cartloopapp/cartloop/internal/logging"
	"github.com/cartloopapp/cartloop/internal/services"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MB

const maxRequestBodyBytes = 256 << 10

// Handlers provides the HTTP API for the storefront backend.
type Handlers struct {
	config           *config.Config
	db               *pgxpool.Pool
	cacheProvider    cache.Provider
	orderService     *services.OrderService
	inventoryService *services.InventoryService
	couponService    *services.CouponService
	carrierClient    *carrier.Client
	logger           *slog.Logger
}

type Dependencies struct {
	Config           *config.Config
	DB               *pgxpool.Pool
	CacheProvider    cache.Provider
	OrderService     *services.OrderService
	InventoryService *services.InventoryService
	CouponService    *services.CouponService
	CarrierClient    *carrier.Client
	Logger           *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("handlers dependencies: db is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}
	if deps.OrderService == nil {
		return nil, fmt.Errorf("handlers dependencies: orderService is required")
	}
	if deps.InventoryService == nil {
		return nil, fmt.Errorf("handlers dependencies: inventoryService is required")
	}
	if deps.CouponService == nil {
		return nil, fmt.Errorf("handlers dependencies: couponService is required")
	}

	return &Handlers{
		config:           deps.Config,
		db:               deps.DB,
		cacheProvider:    deps.CacheProvider,
		orderService:     deps.OrderService,
		inventoryService: deps.InventoryService,
		couponService:    deps.CouponService,
		carrierClient:    deps.CarrierClient,
		logger:           logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.db.Ping(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	// The header is already written; an encode failure here only truncates
	// the body.
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, into any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
