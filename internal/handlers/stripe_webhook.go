package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/cartloopapp/cartloop/internal/cache"
	"github.com/cartloopapp/cartloop/internal/payment"
)

// stripeWebhookIdempotencyTTL is how long webhook event IDs are kept for deduplication
const stripeWebhookIdempotencyTTL = 24 * time.Hour

func (h *Handlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	event, err := payment.ReadWebhookEvent(r, h.config.StripeWebhookSecret)
	if err != nil {
		logger.Error("failed to read Stripe webhook payload", "error", err)
		http.Error(w, "Invalid webhook", http.StatusBadRequest)
		return
	}

	if event == nil || event.ID == "" {
		logger.Error("missing Stripe event ID")
		http.Error(w, "Missing event ID", http.StatusBadRequest)
		return
	}

	cacheKey := cache.WebhookKey("stripe", event.ID)
	_, err = h.cacheProvider.Get(ctx, cacheKey)
	if err == nil {
		logger.Info("webhook already processed", "event_id", event.ID)
		w.WriteHeader(http.StatusOK)
		return
	}

	processErr := h.handleStripeEvent(r, event)
	if processErr == nil {
		if err := h.cacheProvider.Set(ctx, cacheKey, "processed", stripeWebhookIdempotencyTTL); err != nil {
			logger.Error("failed to mark webhook as processed in cache", "error", err)
		}
	}
	if processErr != nil {
		logger.Error("failed to process Stripe webhook", "error", processErr, "type", event.Type)
		http.Error(w, "Processing failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) handleStripeEvent(r *http.Request, event *stripeapi.Event) error {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripeapi.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return fmt.Errorf("failed to decode payment intent: %w", err)
		}
		orderID, err := uuid.Parse(intent.Metadata["order_id"])
		if err != nil {
			return fmt.Errorf("payment intent %s has no usable order_id: %w", intent.ID, err)
		}
		if event.Type == "payment_intent.succeeded" {
			return h.orderService.MarkPaid(ctx, orderID, intent.ID)
		}
		return h.orderService.MarkPaymentFailed(ctx, orderID, intent.ID)
	default:
		logger.Debug("ignoring Stripe event", "type", event.Type, "event_id", event.ID)
		return nil
	}
}
