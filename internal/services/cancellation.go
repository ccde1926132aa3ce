package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cartloopapp/cartloop/internal/carrier"
	"github.com/cartloopapp/cartloop/internal/db"
	"github.com/cartloopapp/cartloop/internal/logging"
	"github.com/cartloopapp/cartloop/internal/observability"
	"github.com/cartloopapp/cartloop/internal/payment"
)

// StepStatus is the outcome of a single cancellation step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Cancellation step names, in execution order.
const (
	StepMarkCancelled  = "mark_cancelled"
	StepShipment       = "shipment"
	StepRefund         = "refund"
	StepRestoreStock   = "restore_stock"
	StepReverseCoupon  = "reverse_coupon"
	StepNotifyCustomer = "notify_customer"
)

type StepResult struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
}

// CancelResult reports what each step of the cancellation achieved. The order
// itself is always cancelled when a result is returned; individual downstream
// steps may have failed and are reported here for follow-up.
type CancelResult struct {
	OrderID         uuid.UUID       `json:"order_id"`
	Steps           []StepResult    `json:"steps"`
	RefundStatus    db.RefundStatus `json:"refund_status"`
	ReturnRequested bool            `json:"return_requested"`
}

func (r *CancelResult) record(name string, status StepStatus, detail string) {
	r.Steps = append(r.Steps, StepResult{Name: name, Status: status, Detail: detail})
}

type cancellationOrderStore interface {
	MarkCancelled(ctx context.Context, orderID uuid.UUID, reason string) error
	SetRefundResult(ctx context.Context, orderID uuid.UUID, status db.RefundStatus, refundID string, amount decimal.Decimal) error
	UpdateRefundStatus(ctx context.Context, orderID uuid.UUID, status db.RefundStatus) error
	SetReturnRequested(ctx context.Context, orderID uuid.UUID, returnID string) error
}

type paymentRefunder interface {
	Refund(ctx context.Context, paymentID string, amountMinor int64, note string) (*payment.RefundResult, error)
}

// ShipmentCarrier is the carrier aggregator surface the cancellation flow
// needs. A nil value disables the shipment step.
type ShipmentCarrier interface {
	CancelShipment(ctx context.Context, awbs []string) error
	CreateReturn(ctx context.Context, request carrier.ReturnRequest) (string, error)
}

type stockRestorer interface {
	RestoreForCancelledOrder(ctx context.Context, order *db.Order) error
}

type couponReverser interface {
	Reverse(ctx context.Context, couponID, orderID uuid.UUID) error
}

// CancellationService runs the multi-system order cancellation flow. Marking
// the order cancelled is the only mandatory step; every step after that is
// best effort and its failure never rolls back the cancellation itself.
type CancellationService struct {
	orderStore  cancellationOrderStore
	refunder    paymentRefunder
	carrier     ShipmentCarrier
	stock       stockRestorer
	coupons     couponReverser
	emailSender OrderEmailSender
	warehouse   carrier.Address
	logger      *slog.Logger
}

func NewCancellationService(orderStore cancellationOrderStore, refunder paymentRefunder, shipments ShipmentCarrier, stock stockRestorer, coupons couponReverser, emailSender OrderEmailSender, warehouse carrier.Address, logger *slog.Logger) *CancellationService {
	if emailSender == nil {
		emailSender = noopOrderEmailSender{}
	}
	return &CancellationService{
		orderStore:  orderStore,
		refunder:    refunder,
		carrier:     shipments,
		stock:       stock,
		coupons:     coupons,
		emailSender: emailSender,
		warehouse:   warehouse,
		logger:      logger,
	}
}

func (s *CancellationService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// Cancel runs the cancellation flow for an order already validated as
// cancellable. The caller passes the order as loaded from storage; Cancel
// does not re-read it.
func (s *CancellationService) Cancel(ctx context.Context, order *db.Order, reason string) (*CancelResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.cancellation.cancel",
		sentry.WithOpName("service.cancellation"),
		sentry.WithDescription("Cancel"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)
	meter.Count("order.cancel.started", 1, sentry.WithAttributes(
		attribute.String("from_status", string(order.Status)),
	))

	result := &CancelResult{OrderID: order.ID, RefundStatus: db.RefundNone}

	// Step 1: flip the order to cancelled. A failure here means the order was
	// already cancelled by a concurrent request or reached a terminal state,
	// and nothing else may run.
	if err := s.orderStore.MarkCancelled(ctx, order.ID, reason); err != nil {
		meter.Count("order.cancel.rejected", 1)
		return nil, fmt.Errorf("failed to mark order cancelled: %w", err)
	}
	result.record(StepMarkCancelled, StepSuccess, "")
	logger.Info("order cancelled", "order_id", order.ID, "order_number", order.OrderNumber, "reason", reason)

	s.runShipmentStep(ctx, order, result)
	s.runRefundStep(ctx, order, result)
	s.runStockStep(ctx, order, result)
	s.runCouponStep(ctx, order, result)
	s.runEmailStep(ctx, order, result)

	failed := 0
	for _, step := range result.Steps {
		if step.Status == StepFailed {
			failed++
		}
	}
	meter.Count("order.cancel.completed", 1, sentry.WithAttributes(
		attribute.Int("failed_steps", failed),
	))

	return result, nil
}

// Step 2: dispose of the shipment. A package still in the warehouse gets the
// carrier booking cancelled; a package already moving gets a return pickup.
func (s *CancellationService) runShipmentStep(ctx context.Context, order *db.Order, result *CancelResult) {
	logger := s.loggerFromContext(ctx)

	if !order.HasShipment() {
		result.record(StepShipment, StepSkipped, "no shipment booked")
		return
	}
	if s.carrier == nil {
		result.record(StepShipment, StepSkipped, "carrier integration disabled")
		return
	}

	if order.ShipmentInMotion() {
		returnID, err := s.carrier.CreateReturn(ctx, s.returnRequest(order))
		if err != nil {
			logger.Error("failed to create return pickup", "error", err, "order_id", order.ID, "awb", order.AWB)
			result.record(StepShipment, StepFailed, "return pickup request failed")
			return
		}
		if err := s.orderStore.SetReturnRequested(ctx, order.ID, returnID); err != nil {
			logger.Error("failed to record return id", "error", err, "order_id", order.ID, "return_id", returnID)
		}
		result.ReturnRequested = true
		result.record(StepShipment, StepSuccess, "return pickup scheduled")
		return
	}

	if order.AWB == "" {
		result.record(StepShipment, StepSkipped, "shipment has no AWB yet")
		return
	}
	if err := s.carrier.CancelShipment(ctx, []string{order.AWB}); err != nil {
		logger.Error("failed to cancel shipment", "error", err, "order_id", order.ID, "awb", order.AWB)
		result.record(StepShipment, StepFailed, "carrier cancellation failed")
		return
	}
	result.record(StepShipment, StepSuccess, "shipment cancelled")
}

// Step 3: refund the captured payment. Unpaid orders skip this entirely. A
// gateway failure marks the order's refund as failed so support can retry it;
// the cancellation stands either way.
func (s *CancellationService) runRefundStep(ctx context.Context, order *db.Order, result *CancelResult) {
	logger := s.loggerFromContext(ctx)
	meter := observability.MeterFromContext(ctx)

	if order.PaymentStatus != db.PaymentPaid || order.PaymentID == "" {
		result.record(StepRefund, StepSkipped, "no captured payment")
		return
	}
	if s.refunder == nil {
		result.record(StepRefund, StepSkipped, "payment gateway not configured")
		return
	}

	amountMinor := order.Total.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	note := fmt.Sprintf("order #%d cancelled", order.OrderNumber)

	refund, err := s.refunder.Refund(ctx, order.PaymentID, amountMinor, note)
	if err != nil {
		logger.Error("refund failed", "error", err, "order_id", order.ID, "payment_id", order.PaymentID)
		meter.Count("refund.failed", 1)
		if updateErr := s.orderStore.UpdateRefundStatus(ctx, order.ID, db.RefundFailed); updateErr != nil {
			logger.Error("failed to record refund failure", "error", updateErr, "order_id", order.ID)
		}
		result.RefundStatus = db.RefundFailed
		result.record(StepRefund, StepFailed, "payment gateway refund failed")
		return
	}

	status := db.RefundPending
	if refund.Status == "succeeded" {
		status = db.RefundProcessed
	}
	amount := decimal.NewFromInt(refund.AmountMinor).Div(decimal.NewFromInt(100))
	if err := s.orderStore.SetRefundResult(ctx, order.ID, status, refund.ID, amount); err != nil {
		logger.Error("failed to record refund result", "error", err, "order_id", order.ID, "refund_id", refund.ID)
	}
	meter.Count("refund.issued", 1, sentry.WithAttributes(
		attribute.String("status", string(status)),
	))
	result.RefundStatus = status
	result.record(StepRefund, StepSuccess, fmt.Sprintf("refund %s %s", refund.ID, status))
}

// Step 4: put the order's items back into stock.
func (s *CancellationService) runStockStep(ctx context.Context, order *db.Order, result *CancelResult) {
	if s.stock == nil || len(order.Items) == 0 {
		result.record(StepRestoreStock, StepSkipped, "nothing to restore")
		return
	}
	if err := s.stock.RestoreForCancelledOrder(ctx, order); err != nil {
		result.record(StepRestoreStock, StepFailed, "stock restore incomplete")
		return
	}
	result.record(StepRestoreStock, StepSuccess, "")
}

// Step 5: release the coupon so the customer can use it again.
func (s *CancellationService) runCouponStep(ctx context.Context, order *db.Order, result *CancelResult) {
	if order.CouponID == nil {
		result.record(StepReverseCoupon, StepSkipped, "no coupon on order")
		return
	}
	if s.coupons == nil {
		result.record(StepReverseCoupon, StepSkipped, "coupons not configured")
		return
	}
	if err := s.coupons.Reverse(ctx, *order.CouponID, order.ID); err != nil {
		s.loggerFromContext(ctx).Error("failed to reverse coupon", "error", err, "order_id", order.ID, "coupon_id", *order.CouponID)
		result.record(StepReverseCoupon, StepFailed, "coupon reversal failed")
		return
	}
	result.record(StepReverseCoupon, StepSuccess, "")
}

// Step 6: tell the customer what happened, including where their money is.
func (s *CancellationService) runEmailStep(ctx context.Context, order *db.Order, result *CancelResult) {
	if order.CustomerEmail == "" {
		result.record(StepNotifyCustomer, StepSkipped, "no customer email")
		return
	}

	input := OrderCancelledEmailInput{
		ReturnRequested: result.ReturnRequested,
		RefundLine:      refundLine(order, result.RefundStatus),
	}
	if err := s.emailSender.SendOrderCancelled(ctx, order, input); err != nil {
		s.loggerFromContext(ctx).Warn("failed to send cancellation email", "error", err, "order_id", order.ID)
		result.record(StepNotifyCustomer, StepFailed, "email delivery failed")
		return
	}
	result.record(StepNotifyCustomer, StepSuccess, "")
}

func refundLine(order *db.Order, status db.RefundStatus) string {
	amount := order.Total.StringFixed(2)
	switch status {
	case db.RefundProcessed:
		return fmt.Sprintf("A refund of %s has been issued to your original payment method.", amount)
	case db.RefundPending:
		return fmt.Sprintf("A refund of %s is on its way to your original payment method.", amount)
	case db.RefundFailed:
		return "Your refund could not be processed automatically. Our team will handle it shortly."
	default:
		return ""
	}
}

func (s *CancellationService) returnRequest(order *db.Order) carrier.ReturnRequest {
	request := carrier.ReturnRequest{
		OrderNumber: fmt.Sprintf("%d", order.OrderNumber),
		Pickup: carrier.Address{
			Name:       order.ShippingAddress.Name,
			Line1:      order.ShippingAddress.Line1,
			Line2:      order.ShippingAddress.Line2,
			City:       order.ShippingAddress.City,
			State:      order.ShippingAddress.State,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
			Phone:      order.ShippingAddress.Phone,
		},
		Drop: s.warehouse,
	}
	for _, item := range order.Items {
		request.Items = append(request.Items, carrier.ReturnItem{
			Name:      item.Name,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
		})
	}
	return request
}
