package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cartloopapp/cartloop/internal/db"
	"github.com/cartloopapp/cartloop/internal/logging"
	"github.com/cartloopapp/cartloop/internal/models"
	"github.com/cartloopapp/cartloop/internal/observability"
	"github.com/cartloopapp/cartloop/internal/pricing"
)

var (
	// ErrCouponNotEligible wraps the structured ineligibility reason when an
	// order is placed with a coupon it cannot use.
	ErrCouponNotEligible = errors.New("coupon not eligible")

	// ErrOrderNotCancellable is returned when cancellation is requested for
	// an order in a terminal state.
	ErrOrderNotCancellable = errors.New("order cannot be cancelled")

	// ErrEmptyOrder is returned when an order is placed with no items.
	ErrEmptyOrder = errors.New("order has no items")
)

type orderStore interface {
	Create(ctx context.Context, order *db.Order) error
	GetByID(ctx context.Context, orderID uuid.UUID) (*db.Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]*db.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to db.OrderStatus) error
	UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status db.PaymentStatus, paymentID string) error
	UpdateShippingStatus(ctx context.Context, orderID uuid.UUID, status db.ShippingStatus) error
	UpdateRefundStatus(ctx context.Context, orderID uuid.UUID, status db.RefundStatus) error
	SetShipmentDetails(ctx context.Context, orderID uuid.UUID, carrierOrderID, shipmentID, awb, carrierName string) error
}

type orderStockReserver interface {
	Adjust(ctx context.Context, params db.AdjustParams) (db.AdjustResult, error)
	GetProduct(ctx context.Context, productID uuid.UUID) (*db.Product, error)
}

type orderCouponChecker interface {
	Check(ctx context.Context, code string, orderAmount decimal.Decimal, userID uuid.UUID) (*CouponCheck, error)
	Apply(ctx context.Context, couponID, orderID, userID uuid.UUID) error
	Reverse(ctx context.Context, couponID, orderID uuid.UUID) error
}

type orderPricer interface {
	QuoteOrder(subtotal, discount decimal.Decimal) pricing.Quote
}

type orderCanceller interface {
	Cancel(ctx context.Context, order *db.Order, reason string) (*CancelResult, error)
}

type OrderService struct {
	orderStore  orderStore
	stock       orderStockReserver
	coupons     orderCouponChecker
	pricer      orderPricer
	canceller   orderCanceller
	emailSender OrderEmailSender
	logger      *slog.Logger
}

func NewOrderService(orderStore orderStore, stock orderStockReserver, coupons orderCouponChecker, pricer orderPricer, canceller orderCanceller, emailSender OrderEmailSender, logger *slog.Logger) *OrderService {
	if emailSender == nil {
		emailSender = noopOrderEmailSender{}
	}
	return &OrderService{
		orderStore:  orderStore,
		stock:       stock,
		coupons:     coupons,
		pricer:      pricer,
		canceller:   canceller,
		emailSender: emailSender,
		logger:      logger,
	}
}

func (s *OrderService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

type CreateOrderInput struct {
	CustomerID      uuid.UUID
	CustomerEmail   string
	CustomerName    string
	ShippingAddress models.Address
	BillingAddress  models.Address
	Items           []CreateOrderItem
	CouponCode      string
}

type CreateOrderItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// CreateOrder reserves stock, prices the order, applies a coupon when given
// and persists the order with frozen product snapshots. Stock is reserved
// before anything else; any later failure releases the reservation.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*db.Order, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.create_order",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("CreateOrder"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	recordFailure := func(reason string) {
		meter.Count("order.create.failed", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
	}
	meter.Count("order.create.received", 1)

	if len(input.Items) == 0 {
		recordFailure("empty_order")
		return nil, ErrEmptyOrder
	}

	items, err := s.reserveItems(ctx, input.Items)
	if err != nil {
		recordFailure("stock_reservation_failed")
		return nil, err
	}

	release := func() {
		for _, item := range items {
			if _, releaseErr := s.stock.Adjust(ctx, db.AdjustParams{
				ProductID:  item.ProductID,
				Delta:      item.Quantity,
				ChangeType: db.StockChangeAdjustment,
				Note:       "released failed order reservation",
			}); releaseErr != nil {
				logger.Error("failed to release stock reservation", "error", releaseErr, "product_id", item.ProductID, "quantity", item.Quantity)
			}
		}
	}

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.Total)
	}

	discount := decimal.Zero
	var couponID *uuid.UUID
	if input.CouponCode != "" {
		check, checkErr := s.coupons.Check(ctx, input.CouponCode, subtotal, input.CustomerID)
		if checkErr != nil {
			release()
			recordFailure("coupon_check_failed")
			return nil, checkErr
		}
		if !check.Eligible {
			release()
			recordFailure("coupon_not_eligible")
			return nil, fmt.Errorf("%w: %s", ErrCouponNotEligible, check.Reason)
		}
		discount = check.Discount
		couponID = &check.Coupon.ID
	}

	quote := s.pricer.QuoteOrder(subtotal, discount)

	order := &db.Order{
		ID:              uuid.New(),
		CustomerID:      input.CustomerID,
		Status:          db.StatusPending,
		PaymentStatus:   db.PaymentPending,
		ShippingStatus:  db.ShippingNotShipped,
		RefundStatus:    db.RefundNone,
		Subtotal:        quote.Subtotal,
		Tax:             quote.Tax,
		Shipping:        quote.Shipping,
		Discount:        quote.Discount,
		Total:           quote.Total,
		CouponID:        couponID,
		CustomerEmail:   input.CustomerEmail,
		CustomerName:    input.CustomerName,
		ShippingAddress: input.ShippingAddress,
		BillingAddress:  input.BillingAddress,
		Items:           items,
	}

	// Usage is recorded before the order is persisted. A concurrent order
	// taking the last usage slot between Check and here fails the creation
	// instead of granting an unconsumed discount.
	if couponID != nil {
		if err := s.coupons.Apply(ctx, *couponID, order.ID, input.CustomerID); err != nil {
			release()
			recordFailure("coupon_apply_failed")
			if errors.Is(err, db.ErrCouponExhausted) {
				return nil, fmt.Errorf("%w: %s", ErrCouponNotEligible, CouponReasonExhausted)
			}
			return nil, fmt.Errorf("failed to record coupon usage: %w", err)
		}
	}

	if err := s.orderStore.Create(ctx, order); err != nil {
		release()
		if couponID != nil {
			if reverseErr := s.coupons.Reverse(ctx, *couponID, order.ID); reverseErr != nil {
				logger.Error("failed to reverse coupon usage for unpersisted order",
					"error", reverseErr, "order_id", order.ID, "coupon_id", *couponID)
			}
		}
		recordFailure("order_create_failed")
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	meter.Count("order.created", 1)
	logger.Info("order created", "order_id", order.ID, "order_number", order.OrderNumber, "total", order.Total)

	go func(ctx context.Context, order *db.Order) {
		if err := s.emailSender.SendOrderConfirmation(ctx, order); err != nil {
			logger.Warn("failed to send order confirmation", "error", err, "order_id", order.ID)
		}
	}(context.WithoutCancel(ctx), order)

	return order, nil
}

func (s *OrderService) reserveItems(ctx context.Context, requested []CreateOrderItem) ([]db.OrderItem, error) {
	items := make([]db.OrderItem, 0, len(requested))
	release := func() {
		for _, item := range items {
			if _, err := s.stock.Adjust(ctx, db.AdjustParams{
				ProductID:  item.ProductID,
				Delta:      item.Quantity,
				ChangeType: db.StockChangeAdjustment,
				Note:       "released failed order reservation",
			}); err != nil {
				s.loggerFromContext(ctx).Error("failed to release stock reservation", "error", err, "product_id", item.ProductID)
			}
		}
	}

	for _, request := range requested {
		if request.Quantity <= 0 {
			release()
			return nil, fmt.Errorf("invalid quantity %d for product %s", request.Quantity, request.ProductID)
		}

		product, err := s.stock.GetProduct(ctx, request.ProductID)
		if err != nil {
			release()
			return nil, fmt.Errorf("failed to load product %s: %w", request.ProductID, err)
		}

		if _, err := s.stock.Adjust(ctx, db.AdjustParams{
			ProductID:       product.ID,
			Delta:           -request.Quantity,
			ChangeType:      db.StockChangeSale,
			Note:            "order reservation",
			FailOnShortfall: true,
		}); err != nil {
			release()
			if errors.Is(err, db.ErrInsufficientStock) {
				return nil, fmt.Errorf("%w: %s", db.ErrInsufficientStock, product.SKU)
			}
			return nil, fmt.Errorf("failed to reserve stock for %s: %w", product.SKU, err)
		}

		items = append(items, db.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			SKU:       product.SKU,
			UnitPrice: product.Price,
			Quantity:  request.Quantity,
			Total:     product.Price.Mul(decimal.NewFromInt(int64(request.Quantity))),
			Snapshot: map[string]any{
				"name":       product.Name,
				"sku":        product.SKU,
				"price":      product.Price.String(),
				"attributes": product.Attributes,
			},
		})
	}

	return items, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*db.Order, error) {
	order, err := s.orderStore.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (s *OrderService) ListOrders(ctx context.Context, customerID uuid.UUID, limit int) ([]*db.Order, error) {
	orders, err := s.orderStore.ListByCustomer(ctx, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// TransitionStatus is the single entry point for moving an order through its
// lifecycle. Illegal edges are rejected before touching storage, and the
// cancelled edge routes through the full cancellation flow.
func (s *OrderService) TransitionStatus(ctx context.Context, orderID uuid.UUID, to db.OrderStatus) (*CancelResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.order.transition_status",
		sentry.WithOpName("service.order"),
		sentry.WithDescription("TransitionStatus"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	order, err := s.orderStore.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	if to == db.StatusCancelled {
		return s.cancel(ctx, order, "")
	}

	if !order.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", db.ErrInvalidStatusTransition, order.Status, to)
	}
	if err := s.orderStore.UpdateStatus(ctx, orderID, order.Status, to); err != nil {
		return nil, err
	}

	observability.MeterFromContext(ctx).Count("order.status.transitioned", 1, sentry.WithAttributes(
		attribute.String("from", string(order.Status)),
		attribute.String("to", string(to)),
	))
	s.loggerFromContext(ctx).Info("order status changed", "order_id", orderID, "from", order.Status, "to", to)
	return nil, nil
}

// Cancel cancels an order with a customer-supplied reason.
func (s *OrderService) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*CancelResult, error) {
	order, err := s.orderStore.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return s.cancel(ctx, order, reason)
}

func (s *OrderService) cancel(ctx context.Context, order *db.Order, reason string) (*CancelResult, error) {
	if !order.Status.IsCancellable() {
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotCancellable, order.Status)
	}
	if s.canceller == nil {
		return nil, fmt.Errorf("cancellation is not configured")
	}
	return s.canceller.Cancel(ctx, order, reason)
}

// MarkPaid records a captured payment and confirms the order.
func (s *OrderService) MarkPaid(ctx context.Context, orderID uuid.UUID, paymentID string) error {
	order, err := s.orderStore.GetByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to get order: %w", err)
	}

	if err := s.orderStore.UpdatePaymentStatus(ctx, orderID, db.PaymentPaid, paymentID); err != nil {
		return fmt.Errorf("failed to mark order paid: %w", err)
	}

	if order.Status == db.StatusPending {
		if err := s.orderStore.UpdateStatus(ctx, orderID, db.StatusPending, db.StatusConfirmed); err != nil {
			// A concurrent transition already moved the order on.
			if !errors.Is(err, db.ErrInvalidStatusTransition) {
				return fmt.Errorf("failed to confirm order: %w", err)
			}
		}
	}

	observability.MeterFromContext(ctx).Count("order.paid", 1)
	s.loggerFromContext(ctx).Info("order paid", "order_id", orderID, "payment_id", paymentID)
	return nil
}

// MarkPaymentFailed records a failed payment attempt without touching the
// order lifecycle status.
func (s *OrderService) MarkPaymentFailed(ctx context.Context, orderID uuid.UUID, paymentID string) error {
	if err := s.orderStore.UpdatePaymentStatus(ctx, orderID, db.PaymentFailed, paymentID); err != nil {
		return fmt.Errorf("failed to mark payment failed: %w", err)
	}
	observability.MeterFromContext(ctx).Count("order.payment_failed", 1)
	return nil
}

// RecordShipment stores the carrier booking and moves shipping to processing.
func (s *OrderService) RecordShipment(ctx context.Context, orderID uuid.UUID, carrierOrderID, shipmentID, awb, carrierName string) error {
	if err := s.orderStore.SetShipmentDetails(ctx, orderID, carrierOrderID, shipmentID, awb, carrierName); err != nil {
		return fmt.Errorf("failed to record shipment: %w", err)
	}
	if err := s.orderStore.UpdateShippingStatus(ctx, orderID, db.ShippingProcessing); err != nil {
		return fmt.Errorf("failed to update shipping status: %w", err)
	}
	return nil
}

// UpdateShipping records carrier progress for an order.
func (s *OrderService) UpdateShipping(ctx context.Context, orderID uuid.UUID, status db.ShippingStatus) error {
	if err := s.orderStore.UpdateShippingStatus(ctx, orderID, status); err != nil {
		return fmt.Errorf("failed to update shipping status: %w", err)
	}
	return nil
}

// UpdateRefund sets the refund status directly, for reconciling refunds the
// saga left pending or failed.
func (s *OrderService) UpdateRefund(ctx context.Context, orderID uuid.UUID, status db.RefundStatus) error {
	switch status {
	case db.RefundNone, db.RefundPending, db.RefundPartial, db.RefundProcessed, db.RefundFailed:
	default:
		return fmt.Errorf("invalid refund status %q", status)
	}
	if err := s.orderStore.UpdateRefundStatus(ctx, orderID, status); err != nil {
		return fmt.Errorf("failed to update refund status: %w", err)
	}
	s.loggerFromContext(ctx).Info("refund status updated", "order_id", orderID, "refund_status", status)
	return nil
}
