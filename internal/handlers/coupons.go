package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cartloopapp/cartloop/internal/db"
	"github.com/cartloopapp/cartloop/internal/services"
)

type checkCouponRequest struct {
	Code        string          `json:"code"`
	OrderAmount decimal.Decimal `json:"order_amount"`
}

type checkCouponResponse struct {
	Eligible bool            `json:"eligible"`
	Reason   string          `json:"reason,omitempty"`
	Discount decimal.Decimal `json:"discount"`
}

// CheckCoupon validates a coupon against an order amount before checkout.
// An ineligible coupon is a 200 with the reason, not an error.
func (h *Handlers) CheckCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkCouponRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}

	actor, _ := ActorFromContext(ctx)
	check, err := h.couponService.Check(ctx, req.Code, req.OrderAmount, actor.UserID)
	if err != nil {
		h.loggerFromContext(ctx).Error("failed to check coupon", "error", err, "code", req.Code)
		respondError(w, http.StatusInternalServerError, "failed to check coupon")
		return
	}

	respondJSON(w, http.StatusOK, checkCouponResponse{
		Eligible: check.Eligible,
		Reason:   check.Reason,
		Discount: check.Discount,
	})
}

type createCouponRequest struct {
	Code           string           `json:"code"`
	Type           db.CouponType    `json:"type"`
	Value          decimal.Decimal  `json:"value"`
	MinOrderAmount *decimal.Decimal `json:"min_order_amount"`
	MaxDiscount    *decimal.Decimal `json:"max_discount"`
	UsageLimit     *int             `json:"usage_limit"`
	ValidFrom      *time.Time       `json:"valid_from"`
	ValidUntil     *time.Time       `json:"valid_until"`
	Active         *bool            `json:"active"`
}

// CreateCoupon adds a coupon. Coupons default to active unless the request
// says otherwise.
func (h *Handlers) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createCouponRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	coupon := &db.Coupon{
		Code:           req.Code,
		Type:           req.Type,
		Value:          req.Value,
		MinOrderAmount: req.MinOrderAmount,
		MaxDiscount:    req.MaxDiscount,
		UsageLimit:     req.UsageLimit,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
		Active:         true,
	}
	if req.Active != nil {
		coupon.Active = *req.Active
	}

	if err := h.couponService.Create(ctx, coupon); err != nil {
		if errors.Is(err, services.ErrInvalidCoupon) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.loggerFromContext(ctx).Error("failed to create coupon", "error", err, "code", req.Code)
		respondError(w, http.StatusInternalServerError, "failed to create coupon")
		return
	}

	respondJSON(w, http.StatusCreated, coupon)
}
