package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cartloopapp/cartloop/internal/config"
	"github.com/cartloopapp/cartloop/internal/handlers"
)

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	router := s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.SecurityHeaders)
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.HandleFunc("/webhooks/stripe", h.StripeWebhook).Methods("POST").Name("webhooks.stripe")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}`))
	})

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(h.RequireAuth)
	api.Use(h.MetricsContext)
	api.HandleFunc("/orders", h.CreateOrder).Methods("POST").Name("orders.create")
	api.HandleFunc("/orders", h.ListOrders).Methods("GET").Name("orders.list")
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET").Name("orders.get")
	api.HandleFunc("/orders/{id}/cancel", h.CancelOrder).Methods("POST").Name("orders.cancel")
	api.HandleFunc("/orders/{id}/tracking", h.TrackOrder).Methods("GET").Name("orders.tracking")
	api.HandleFunc("/coupons/check", h.CheckCoupon).Methods("POST").Name("coupons.check")

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(h.RequireAdmin)
	admin.HandleFunc("/orders/{id}/status", h.TransitionOrder).Methods("POST").Name("admin.orders.status")
	admin.HandleFunc("/orders/{id}/shipment", h.RecordShipment).Methods("POST").Name("admin.orders.shipment")
	admin.HandleFunc("/orders/{id}/shipping-status", h.UpdateShipping).Methods("POST").Name("admin.orders.shipping_status")
	admin.HandleFunc("/orders/{id}/refund-status", h.UpdateRefund).Methods("POST").Name("admin.orders.refund_status")
	admin.HandleFunc("/products", h.CreateProduct).Methods("POST").Name("admin.products.create")
	admin.HandleFunc("/products/{id}/stock", h.AdjustStock).Methods("POST").Name("admin.products.stock")
	admin.HandleFunc("/products/{id}/ledger", h.StockLedger).Methods("GET").Name("admin.products.ledger")
	admin.HandleFunc("/coupons", h.CreateCoupon).Methods("POST").Name("admin.coupons.create")

	return r
}
