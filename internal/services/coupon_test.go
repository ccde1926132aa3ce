package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/cartloopapp/cartloop/internal/db"
)

type fakeCouponStore struct {
	coupons  map[string]*db.Coupon
	usedBy   map[uuid.UUID]bool
	applied  int
	reversed int
}

func newFakeCouponStore(coupons ...*db.Coupon) *fakeCouponStore {
	store := &fakeCouponStore{
		coupons: make(map[string]*db.Coupon),
		usedBy:  make(map[uuid.UUID]bool),
	}
	for _, coupon := range coupons {
		store.coupons[coupon.Code] = coupon
	}
	return store
}

func (f *fakeCouponStore) GetByCode(_ context.Context, code string) (*db.Coupon, error) {
	coupon, ok := f.coupons[code]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return coupon, nil
}

func (f *fakeCouponStore) Create(_ context.Context, coupon *db.Coupon) error {
	if coupon.ID == uuid.Nil {
		coupon.ID = uuid.New()
	}
	f.coupons[coupon.Code] = coupon
	return nil
}

func (f *fakeCouponStore) HasUserUsage(_ context.Context, _, userID uuid.UUID) (bool, error) {
	return f.usedBy[userID], nil
}

func (f *fakeCouponStore) Apply(context.Context, uuid.UUID, uuid.UUID, uuid.UUID) error {
	f.applied++
	return nil
}

func (f *fakeCouponStore) Reverse(context.Context, uuid.UUID, uuid.UUID) error {
	f.reversed++
	return nil
}

func decimalPtr(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}

func intPtr(value int) *int {
	return &value
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestCouponCheck(t *testing.T) {
	t.Parallel()

	now := time.Now()
	repeatCustomer := uuid.New()

	tests := []struct {
		name        string
		coupon      *db.Coupon
		code        string
		orderAmount string
		userID      uuid.UUID
		wantReason  string
		wantDisc    string
	}{
		{
			name:        "unknown code",
			code:        "NOPE",
			orderAmount: "500",
			wantReason:  CouponReasonNotFound,
		},
		{
			name:        "inactive coupon",
			coupon:      &db.Coupon{ID: uuid.New(), Code: "OFF", Type: db.CouponFixed, Value: decimal.RequireFromString("50"), Active: false},
			code:        "OFF",
			orderAmount: "500",
			wantReason:  CouponReasonInactive,
		},
		{
			name: "not yet valid",
			coupon: &db.Coupon{
				ID: uuid.New(), Code: "SOON", Type: db.CouponFixed, Value: decimal.RequireFromString("50"), Active: true,
				ValidFrom: timePtr(now.Add(24 * time.Hour)),
			},
			code:        "SOON",
			orderAmount: "500",
			wantReason:  CouponReasonNotStarted,
		},
		{
			name: "expired",
			coupon: &db.Coupon{
				ID: uuid.New(), Code: "OLD", Type: db.CouponFixed, Value: decimal.RequireFromString("50"), Active: true,
				ValidUntil: timePtr(now.Add(-24 * time.Hour)),
			},
			code:        "OLD",
			orderAmount: "500",
			wantReason:  CouponReasonExpired,
		},
		{
			name: "below minimum order amount",
			coupon: &db.Coupon{
				ID: uuid.New(), Code: "BIG", Type: db.CouponFixed, Value: decimal.RequireFromString("100"), Active: true,
				MinOrderAmount: decimalPtr("1000"),
			},
			code:        "BIG",
			orderAmount: "999.99",
			wantReason:  CouponReasonMinAmount,
		},
		{
			name: "usage limit reached",
			coupon: &db.Coupon{
				ID: uuid.New(), Code: "RARE", Type: db.CouponFixed, Value: decimal.RequireFromString("50"), Active: true,
				UsageLimit: intPtr(100), UsedCount: 100,
			},
			code:        "RARE",
			orderAmount: "500",
			wantReason:  CouponReasonExhausted,
		},
		{
			name: "customer already used it",
			coupon: &db.Coupon{
				ID: uuid.New(), Code: "ONCE", Type: db.CouponFixed, Value: decimal.RequireFromString("50"), Active: true,
			},
			code:        "ONCE",
			orderAmount: "500",
			userID:      repeatCustomer,
			wantReason:  CouponReasonAlreadyUsed,
		},
		{
			name: "percentage discount",
			coupon: &db.Coupon{
				ID: uuid.New(), Code: "SAVE10", Type: db.CouponPercentage, Value: decimal.RequireFromString("10"), Active: true,
			},
			code:        "SAVE10",
			orderAmount: "500",
			wantDisc:    "50",
		},
		{
			name: "percentage discount capped",
			coupon: &db.Coupon{
				ID: uuid.New(), Code: "SAVE20", Type: db.CouponPercentage, Value: decimal.RequireFromString("20"), Active: true,
				MaxDiscount: decimalPtr("75"),
			},
			code:        "SAVE20",
			orderAmount: "1000",
			wantDisc:    "75",
		},
		{
			name: "fixed discount clamped to order amount",
			coupon: &db.Coupon{
				ID: uuid.New(), Code: "FLAT500", Type: db.CouponFixed, Value: decimal.RequireFromString("500"), Active: true,
			},
			code:        "FLAT500",
			orderAmount: "300",
			wantDisc:    "300",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newFakeCouponStore()
			if tt.coupon != nil {
				store.coupons[tt.coupon.Code] = tt.coupon
			}
			store.usedBy[repeatCustomer] = true
			service := NewCouponService(store, testLogger())

			userID := tt.userID
			if userID == uuid.Nil {
				userID = uuid.New()
			}
			check, err := service.Check(context.Background(), tt.code, decimal.RequireFromString(tt.orderAmount), userID)
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}

			if tt.wantReason != "" {
				if check.Eligible {
					t.Fatalf("Check() eligible, want reason %s", tt.wantReason)
				}
				if check.Reason != tt.wantReason {
					t.Errorf("Reason = %s, want %s", check.Reason, tt.wantReason)
				}
				return
			}

			if !check.Eligible {
				t.Fatalf("Check() ineligible with reason %s", check.Reason)
			}
			if want := decimal.RequireFromString(tt.wantDisc); !check.Discount.Equal(want) {
				t.Errorf("Discount = %s, want %s", check.Discount, want)
			}
		})
	}
}

func TestCheckReportsFirstFailure(t *testing.T) {
	t.Parallel()

	// Inactive and expired and exhausted at once: inactive is checked first.
	coupon := &db.Coupon{
		ID: uuid.New(), Code: "DEAD", Type: db.CouponFixed, Value: decimal.RequireFromString("50"),
		Active:     false,
		ValidUntil: timePtr(time.Now().Add(-time.Hour)),
		UsageLimit: intPtr(1), UsedCount: 1,
	}
	service := NewCouponService(newFakeCouponStore(coupon), testLogger())

	check, err := service.Check(context.Background(), "DEAD", decimal.RequireFromString("500"), uuid.New())
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if check.Reason != CouponReasonInactive {
		t.Errorf("Reason = %s, want %s", check.Reason, CouponReasonInactive)
	}
}

func TestCreateCouponValidatesDefinition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		coupon  *db.Coupon
		wantErr bool
	}{
		{
			name:   "valid percentage",
			coupon: &db.Coupon{Code: "SAVE10", Type: db.CouponPercentage, Value: decimal.RequireFromString("10"), Active: true},
		},
		{
			name:   "valid fixed",
			coupon: &db.Coupon{Code: "FLAT50", Type: db.CouponFixed, Value: decimal.RequireFromString("50"), Active: true},
		},
		{
			name:    "missing code",
			coupon:  &db.Coupon{Type: db.CouponFixed, Value: decimal.RequireFromString("50")},
			wantErr: true,
		},
		{
			name:    "percentage over 100",
			coupon:  &db.Coupon{Code: "ALL", Type: db.CouponPercentage, Value: decimal.RequireFromString("120")},
			wantErr: true,
		},
		{
			name:    "zero fixed value",
			coupon:  &db.Coupon{Code: "FREE", Type: db.CouponFixed, Value: decimal.Zero},
			wantErr: true,
		},
		{
			name:    "unknown type",
			coupon:  &db.Coupon{Code: "ODD", Type: db.CouponType("bogo"), Value: decimal.RequireFromString("1")},
			wantErr: true,
		},
		{
			name: "window ends before it starts",
			coupon: &db.Coupon{
				Code: "BACKWARDS", Type: db.CouponFixed, Value: decimal.RequireFromString("50"),
				ValidFrom:  timePtr(time.Now().Add(time.Hour)),
				ValidUntil: timePtr(time.Now()),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newFakeCouponStore()
			service := NewCouponService(store, testLogger())

			err := service.Create(context.Background(), tt.coupon)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCoupon) {
					t.Fatalf("Create() error = %v, want ErrInvalidCoupon", err)
				}
				if len(store.coupons) != 0 {
					t.Error("invalid coupon reached the store")
				}
				return
			}
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if _, ok := store.coupons[tt.coupon.Code]; !ok {
				t.Errorf("coupon %s not stored", tt.coupon.Code)
			}
		})
	}
}
