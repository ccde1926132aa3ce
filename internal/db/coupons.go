package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrCouponExhausted is returned when an apply would push used_count past
// the usage limit. The increment is guarded in SQL, so the limit holds even
// under concurrent applies.
var ErrCouponExhausted = errors.New("coupon usage limit reached")

type CouponStore struct {
	pool *pgxpool.Pool
}

func NewCouponStore(pool *pgxpool.Pool) *CouponStore {
	return &CouponStore{pool: pool}
}

func (s *CouponStore) GetByCode(ctx context.Context, code string) (*Coupon, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, code, type, value, min_order_amount, max_discount,
		       usage_limit, used_count, valid_from, valid_until, active, created_at
		FROM coupons WHERE code = $1
	`, code)
	return scanCoupon(row)
}

func (s *CouponStore) Create(ctx context.Context, coupon *Coupon) error {
	return s.pool.QueryRow(ctx, `
		INSERT INTO coupons (code, type, value, min_order_amount, max_discount, usage_limit, valid_from, valid_until, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, coupon.Code, string(coupon.Type), coupon.Value,
		nullDecimal(coupon.MinOrderAmount), nullDecimal(coupon.MaxDiscount),
		coupon.UsageLimit, coupon.ValidFrom, coupon.ValidUntil, coupon.Active,
	).Scan(&coupon.ID, &coupon.CreatedAt)
}

// HasUserUsage reports whether the user already consumed this coupon on any
// order.
func (s *CouponStore) HasUserUsage(ctx context.Context, couponID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2)`,
		couponID, userID,
	).Scan(&exists)
	return exists, err
}

// Apply records a usage row and increments used_count in one transaction.
// The (coupon_id, order_id) unique constraint makes duplicate applies for
// the same order a no-op rather than a double increment.
func (s *CouponStore) Apply(ctx context.Context, couponID, orderID, userID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx, `
		INSERT INTO coupon_usages (coupon_id, user_id, order_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (coupon_id, order_id) DO NOTHING
	`, couponID, userID, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		// Already applied for this order.
		return tx.Commit(ctx)
	}

	cmdTag, err = tx.Exec(ctx, `
		UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)
	`, couponID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: coupon %s", ErrCouponExhausted, couponID)
	}

	return tx.Commit(ctx)
}

// Reverse deletes the usage row and decrements used_count, floored at zero.
// Reversing a usage that does not exist is a no-op.
func (s *CouponStore) Reverse(ctx context.Context, couponID, orderID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cmdTag, err := tx.Exec(ctx,
		`DELETE FROM coupon_usages WHERE coupon_id = $1 AND order_id = $2`,
		couponID, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE coupons SET used_count = GREATEST(used_count - 1, 0) WHERE id = $1`,
			couponID)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func scanCoupon(row pgx.Row) (*Coupon, error) {
	var coupon Coupon
	var couponType string
	var minOrderAmount, maxDiscount decimal.NullDecimal
	var usageLimit pgtype.Int4
	var validFrom, validUntil pgtype.Timestamptz
	err := row.Scan(&coupon.ID, &coupon.Code, &couponType, &coupon.Value,
		&minOrderAmount, &maxDiscount, &usageLimit, &coupon.UsedCount,
		&validFrom, &validUntil, &coupon.Active, &coupon.CreatedAt)
	if err != nil {
		return nil, err
	}
	coupon.Type = CouponType(couponType)
	if minOrderAmount.Valid {
		coupon.MinOrderAmount = &minOrderAmount.Decimal
	}
	if maxDiscount.Valid {
		coupon.MaxDiscount = &maxDiscount.Decimal
	}
	if usageLimit.Valid {
		limit := int(usageLimit.Int32)
		coupon.UsageLimit = &limit
	}
	if validFrom.Valid {
		coupon.ValidFrom = &validFrom.Time
	}
	if validUntil.Valid {
		coupon.ValidUntil = &validUntil.Time
	}
	return &coupon, nil
}

func nullDecimal(value *decimal.Decimal) decimal.NullDecimal {
	if value == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *value, Valid: true}
}
