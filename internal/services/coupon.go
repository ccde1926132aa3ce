package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/cartloopapp/cartloop/internal/db"
	"github.com/cartloopapp/cartloop/internal/logging"
	"github.com/cartloopapp/cartloop/internal/observability"
)

type couponStore interface {
	GetByCode(ctx context.Context, code string) (*db.Coupon, error)
	Create(ctx context.Context, coupon *db.Coupon) error
	HasUserUsage(ctx context.Context, couponID, userID uuid.UUID) (bool, error)
	Apply(ctx context.Context, couponID, orderID, userID uuid.UUID) error
	Reverse(ctx context.Context, couponID, orderID uuid.UUID) error
}

type CouponService struct {
	store  couponStore
	logger *slog.Logger
}

func NewCouponService(store couponStore, logger *slog.Logger) *CouponService {
	return &CouponService{
		store:  store,
		logger: logger,
	}
}

func (s *CouponService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// Ineligibility reasons reported by Check. Ineligible coupons are a normal
// outcome, not an error.
const (
	CouponReasonNotFound    = "not_found"
	CouponReasonInactive    = "inactive"
	CouponReasonNotStarted  = "not_started"
	CouponReasonExpired     = "expired"
	CouponReasonMinAmount   = "below_minimum_amount"
	CouponReasonExhausted   = "usage_limit_reached"
	CouponReasonAlreadyUsed = "already_used_by_customer"
)

// CouponCheck is the outcome of validating a coupon code against an order
// amount and a customer.
type CouponCheck struct {
	Eligible bool
	Reason   string
	Coupon   *db.Coupon
	Discount decimal.Decimal
}

// Check validates a coupon code for a given order amount and customer. The
// checks run in a fixed order and the first failure wins, so the reported
// reason is deterministic.
func (s *CouponService) Check(ctx context.Context, code string, orderAmount decimal.Decimal, userID uuid.UUID) (*CouponCheck, error) {
	span := sentry.StartSpan(
		ctx,
		"service.coupon.check",
		sentry.WithOpName("service.coupon"),
		sentry.WithDescription("Check"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	ineligible := func(coupon *db.Coupon, reason string) *CouponCheck {
		meter.Count("coupon.check.ineligible", 1, sentry.WithAttributes(
			attribute.String("reason", reason),
		))
		return &CouponCheck{Eligible: false, Reason: reason, Coupon: coupon}
	}

	coupon, err := s.store.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ineligible(nil, CouponReasonNotFound), nil
		}
		return nil, fmt.Errorf("failed to look up coupon: %w", err)
	}

	if !coupon.Active {
		return ineligible(coupon, CouponReasonInactive), nil
	}

	now := time.Now()
	if coupon.ValidFrom != nil && now.Before(*coupon.ValidFrom) {
		return ineligible(coupon, CouponReasonNotStarted), nil
	}
	if coupon.ValidUntil != nil && now.After(*coupon.ValidUntil) {
		return ineligible(coupon, CouponReasonExpired), nil
	}

	if coupon.MinOrderAmount != nil && orderAmount.LessThan(*coupon.MinOrderAmount) {
		return ineligible(coupon, CouponReasonMinAmount), nil
	}

	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return ineligible(coupon, CouponReasonExhausted), nil
	}

	used, err := s.store.HasUserUsage(ctx, coupon.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check coupon usage: %w", err)
	}
	if used {
		return ineligible(coupon, CouponReasonAlreadyUsed), nil
	}

	meter.Count("coupon.check.eligible", 1)
	return &CouponCheck{
		Eligible: true,
		Coupon:   coupon,
		Discount: Discount(coupon, orderAmount),
	}, nil
}

// Discount computes the discount a coupon grants on an order amount. A
// percentage coupon is capped by MaxDiscount when set; a fixed coupon never
// exceeds the order amount itself.
func Discount(coupon *db.Coupon, orderAmount decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch coupon.Type {
	case db.CouponPercentage:
		discount = orderAmount.Mul(coupon.Value).Div(decimal.NewFromInt(100)).Round(2)
		if coupon.MaxDiscount != nil && discount.GreaterThan(*coupon.MaxDiscount) {
			discount = *coupon.MaxDiscount
		}
	case db.CouponFixed:
		discount = coupon.Value
		if discount.GreaterThan(orderAmount) {
			discount = orderAmount
		}
	}
	if discount.IsNegative() {
		return decimal.Zero
	}
	return discount
}

// ErrInvalidCoupon marks a coupon definition rejected before it reaches the
// store.
var ErrInvalidCoupon = errors.New("invalid coupon")

// Create adds a coupon. Percentage values are a percent of the order amount
// and must not exceed 100; fixed values are a currency amount.
func (s *CouponService) Create(ctx context.Context, coupon *db.Coupon) error {
	if coupon.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidCoupon)
	}
	switch coupon.Type {
	case db.CouponPercentage:
		if coupon.Value.LessThanOrEqual(decimal.Zero) || coupon.Value.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: percentage value must be between 0 and 100", ErrInvalidCoupon)
		}
	case db.CouponFixed:
		if coupon.Value.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: fixed value must be positive", ErrInvalidCoupon)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCoupon, coupon.Type)
	}
	if coupon.ValidFrom != nil && coupon.ValidUntil != nil && coupon.ValidUntil.Before(*coupon.ValidFrom) {
		return fmt.Errorf("%w: validity window ends before it starts", ErrInvalidCoupon)
	}

	if err := s.store.Create(ctx, coupon); err != nil {
		return fmt.Errorf("failed to create coupon: %w", err)
	}
	s.loggerFromContext(ctx).Info("coupon created", "coupon_id", coupon.ID, "code", coupon.Code)
	observability.MeterFromContext(ctx).Count("coupon.created", 1)
	return nil
}

// Apply records coupon consumption for an order. Applying the same coupon to
// the same order twice is a no-op.
func (s *CouponService) Apply(ctx context.Context, couponID, orderID, userID uuid.UUID) error {
	if err := s.store.Apply(ctx, couponID, orderID, userID); err != nil {
		return fmt.Errorf("failed to apply coupon: %w", err)
	}
	observability.MeterFromContext(ctx).Count("coupon.applied", 1)
	return nil
}

// Reverse releases a coupon consumption after an order is cancelled. Reversing
// a coupon that was never applied to the order is a no-op.
func (s *CouponService) Reverse(ctx context.Context, couponID, orderID uuid.UUID) error {
	if err := s.store.Reverse(ctx, couponID, orderID); err != nil {
		return fmt.Errorf("failed to reverse coupon: %w", err)
	}
	s.loggerFromContext(ctx).Info("reversed coupon usage", "coupon_id", couponID, "order_id", orderID)
	observability.MeterFromContext(ctx).Count("coupon.reversed", 1)
	return nil
}
