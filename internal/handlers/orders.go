package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"github.com/cartloopapp/cartloop/internal/db"
	"github.com/cartloopapp/cartloop/internal/models"
	"github.com/cartloopapp/cartloop/internal/services"
)

type createOrderRequest struct {
	Items []struct {
		ProductID uuid.UUID `json:"product_id"`
		Quantity  int       `json:"quantity"`
	} `json:"items"`
	CouponCode      string         `json:"coupon_code"`
	CustomerName    string         `json:"customer_name"`
	ShippingAddress models.Address `json:"shipping_address"`
	BillingAddress  models.Address `json:"billing_address"`
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := ActorFromContext(ctx)

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := services.CreateOrderInput{
		CustomerID:      actor.UserID,
		CustomerEmail:   actor.Email,
		CustomerName:    req.CustomerName,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		CouponCode:      req.CouponCode,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, services.CreateOrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.orderService.CreateOrder(ctx, input)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyOrder):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, db.ErrInsufficientStock):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, services.ErrCouponNotEligible):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.loggerFromContext(ctx).Error("failed to create order", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to create order")
		}
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := orderIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, err := h.orderService.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, "order not found")
			return
		}
		h.loggerFromContext(ctx).Error("failed to get order", "error", err, "order_id", orderID)
		respondError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	actor, _ := ActorFromContext(ctx)
	if !actor.IsAdmin() && order.CustomerID != actor.UserID {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := ActorFromContext(ctx)

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	orders, err := h.orderService.ListOrders(ctx, actor.UserID, limit)
	if err != nil {
		h.loggerFromContext(ctx).Error("failed to list orders", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []*db.Order{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := orderIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req cancelOrderRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	actor, _ := ActorFromContext(ctx)
	order, err := h.orderService.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, "order not found")
			return
		}
		h.loggerFromContext(ctx).Error("failed to get order", "error", err, "order_id", orderID)
		respondError(w, http.StatusInternalServerError, "failed to cancel order")
		return
	}
	if !actor.IsAdmin() && order.CustomerID != actor.UserID {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}

	result, err := h.orderService.Cancel(ctx, orderID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderNotCancellable), errors.Is(err, db.ErrInvalidStatusTransition):
			respondError(w, http.StatusConflict, err.Error())
		default:
			h.loggerFromContext(ctx).Error("failed to cancel order", "error", err, "order_id", orderID)
			respondError(w, http.StatusInternalServerError, "failed to cancel order")
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

type transitionOrderRequest struct {
	Status db.OrderStatus `json:"status"`
}

// TransitionOrder is the admin endpoint for moving an order through its
// lifecycle, including cancellation.
func (h *Handlers) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := orderIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req transitionOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.orderService.TransitionStatus(ctx, orderID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			respondError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, db.ErrInvalidStatusTransition), errors.Is(err, services.ErrOrderNotCancellable):
			respondError(w, http.StatusConflict, err.Error())
		default:
			h.loggerFromContext(ctx).Error("failed to transition order", "error", err, "order_id", orderID)
			respondError(w, http.StatusInternalServerError, "failed to transition order")
		}
		return
	}

	if result != nil {
		respondJSON(w, http.StatusOK, result)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(req.Status)})
}

type recordShipmentRequest struct {
	CarrierOrderID string `json:"carrier_order_id"`
	ShipmentID     string `json:"shipment_id"`
	AWB            string `json:"awb"`
	CarrierName    string `json:"carrier_name"`
}

// RecordShipment stores the carrier booking details for an order.
func (h *Handlers) RecordShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := orderIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req recordShipmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ShipmentID == "" && req.AWB == "" {
		respondError(w, http.StatusBadRequest, "shipment_id or awb is required")
		return
	}

	if err := h.orderService.RecordShipment(ctx, orderID, req.CarrierOrderID, req.ShipmentID, req.AWB, req.CarrierName); err != nil {
		h.loggerFromContext(ctx).Error("failed to record shipment", "error", err, "order_id", orderID)
		respondError(w, http.StatusInternalServerError, "failed to record shipment")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type updateShippingRequest struct {
	Status db.ShippingStatus `json:"status"`
}

func (h *Handlers) UpdateShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := orderIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req updateShippingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.orderService.UpdateShipping(ctx, orderID, req.Status); err != nil {
		h.loggerFromContext(ctx).Error("failed to update shipping", "error", err, "order_id", orderID)
		respondError(w, http.StatusInternalServerError, "failed to update shipping status")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": string(req.Status)})
}

type updateRefundRequest struct {
	Status db.RefundStatus `json:"status"`
}

// UpdateRefund reconciles an order's refund status after manual follow-up on
// a failed or pending gateway refund.
func (h *Handlers) UpdateRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := orderIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req updateRefundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Status {
	case db.RefundNone, db.RefundPending, db.RefundPartial, db.RefundProcessed, db.RefundFailed:
	default:
		respondError(w, http.StatusBadRequest, "invalid refund status")
		return
	}

	if err := h.orderService.UpdateRefund(ctx, orderID, req.Status); err != nil {
		h.loggerFromContext(ctx).Error("failed to update refund status", "error", err, "order_id", orderID)
		respondError(w, http.StatusInternalServerError, "failed to update refund status")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": string(req.Status)})
}

// TrackOrder proxies carrier tracking events for the order's AWB.
func (h *Handlers) TrackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, err := orderIDFromRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	if h.carrierClient == nil {
		respondError(w, http.StatusNotImplemented, "tracking is not available")
		return
	}

	order, err := h.orderService.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, "order not found")
			return
		}
		h.loggerFromContext(ctx).Error("failed to get order", "error", err, "order_id", orderID)
		respondError(w, http.StatusInternalServerError, "failed to track order")
		return
	}

	actor, _ := ActorFromContext(ctx)
	if !actor.IsAdmin() && order.CustomerID != actor.UserID {
		respondError(w, http.StatusNotFound, "order not found")
		return
	}
	if order.AWB == "" {
		respondError(w, http.StatusConflict, "order has no shipment yet")
		return
	}

	events, err := h.carrierClient.TrackByAWB(ctx, order.AWB)
	if err != nil {
		h.loggerFromContext(ctx).Error("failed to fetch tracking", "error", err, "order_id", orderID, "awb", order.AWB)
		respondError(w, http.StatusBadGateway, "carrier tracking unavailable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"awb": order.AWB, "events": events})
}

func orderIDFromRequest(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}
