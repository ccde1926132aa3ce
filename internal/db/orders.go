package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cartloopapp/cartloop/internal/models"
)

type OrderStore struct {
	pool *pgxpool.Pool
}

var ErrInvalidStatusTransition = errors.New("invalid order status transition")

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `
	id, customer_id, order_number, status, payment_status, shipping_status,
	refund_status, subtotal, tax, shipping, discount, total, coupon_id,
	customer_email, customer_name, shipping_address, billing_address,
	payment_id, refund_id, refund_amount, carrier_order_id, shipment_id,
	awb, carrier_name, return_id, return_status, cancellation_reason,
	created_at, paid_at, shipped_at, delivered_at, cancelled_at`

// Create persists a new order and its item snapshots in one transaction.
// The order number comes from a database sequence, so it is monotonic across
// concurrent creations.
func (s *OrderStore) Create(ctx context.Context, order *Order) error {
	if len(order.Items) == 0 {
		return fmt.Errorf("order must have at least one item")
	}

	shippingAddr, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode shipping address: %w", err)
	}
	billingAddr, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode billing address: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// The id is assigned before the insert so coupon usage can be recorded
	// against it ahead of the commit.
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	query := `
		INSERT INTO orders (
			id, customer_id, status, payment_status, shipping_status, refund_status,
			subtotal, tax, shipping, discount, total, coupon_id,
			customer_email, customer_name, shipping_address, billing_address
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING order_number, created_at
	`
	var orderNumber int64
	var createdAt pgtype.Timestamptz
	err = tx.QueryRow(ctx, query,
		order.ID,
		order.CustomerID,
		string(order.Status),
		string(order.PaymentStatus),
		string(order.ShippingStatus),
		string(order.RefundStatus),
		order.Subtotal,
		order.Tax,
		order.Shipping,
		order.Discount,
		order.Total,
		order.CouponID,
		order.CustomerEmail,
		textOrNull(order.CustomerName),
		shippingAddr,
		billingAddr,
	).Scan(&orderNumber, &createdAt)
	if err != nil {
		return err
	}
	order.OrderNumber = int(orderNumber)
	order.CreatedAt = createdAt.Time

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, name, sku, unit_price, quantity, total, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		var snapshot []byte
		if item.Snapshot != nil {
			snapshot, err = json.Marshal(item.Snapshot)
			if err != nil {
				return fmt.Errorf("failed to encode item snapshot: %w", err)
			}
		}
		if err := tx.QueryRow(ctx, itemQuery,
			order.ID, item.ProductID, item.Name, item.SKU,
			item.UnitPrice, item.Quantity, item.Total, snapshot,
		).Scan(&item.ID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *OrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderStore) ListByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]*Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC LIMIT $2`,
		customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, order := range orders {
		if err := s.loadItems(ctx, order); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// UpdateStatus moves an order from one status to another. The expected
// current status is part of the WHERE clause, so concurrent transitions on
// the same order serialize: only one of them finds the row.
func (s *OrderStore) UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to OrderStatus) error {
	query := `UPDATE orders SET status = $1 WHERE id = $2 AND status = $3`
	cmdTag, err := s.pool.Exec(ctx, query, string(to), orderID, string(from))
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected %s", ErrInvalidStatusTransition, from)
	}
	return nil
}

// MarkCancelled is the saga's mandatory first step. The status guard makes
// each order cross the cancellation edge at most once.
func (s *OrderStore) MarkCancelled(ctx context.Context, orderID uuid.UUID, reason string) error {
	query := `
		UPDATE orders
		SET status = 'cancelled', shipping_status = 'cancelled',
		    cancellation_reason = $2, cancelled_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'confirmed', 'processing', 'shipped')
	`
	cmdTag, err := s.pool.Exec(ctx, query, orderID, reason)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected pending/confirmed/processing/shipped", ErrInvalidStatusTransition)
	}
	return nil
}

func (s *OrderStore) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status PaymentStatus, paymentID string) error {
	query := `
		UPDATE orders
		SET payment_status = $1,
		    payment_id = COALESCE(NULLIF($2, ''), payment_id),
		    paid_at = CASE WHEN $1 = 'paid' THEN NOW() ELSE paid_at END
		WHERE id = $3
	`
	cmdTag, err := s.pool.Exec(ctx, query, string(status), paymentID, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *OrderStore) UpdateShippingStatus(ctx context.Context, orderID uuid.UUID, status ShippingStatus) error {
	query := `
		UPDATE orders
		SET shipping_status = $1,
		    shipped_at = CASE WHEN $1 = 'shipped' AND shipped_at IS NULL THEN NOW() ELSE shipped_at END,
		    delivered_at = CASE WHEN $1 = 'delivered' AND delivered_at IS NULL THEN NOW() ELSE delivered_at END
		WHERE id = $2
	`
	cmdTag, err := s.pool.Exec(ctx, query, string(status), orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *OrderStore) UpdateRefundStatus(ctx context.Context, orderID uuid.UUID, status RefundStatus) error {
	cmdTag, err := s.pool.Exec(ctx, `UPDATE orders SET refund_status = $1 WHERE id = $2`, string(status), orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SetRefundResult records the gateway's answer. Amount is in the order's
// major currency unit; conversion from the gateway's minor unit happens in
// the payment client's caller.
func (s *OrderStore) SetRefundResult(ctx context.Context, orderID uuid.UUID, status RefundStatus, refundID string, amount decimal.Decimal) error {
	query := `
		UPDATE orders
		SET refund_status = $1, refund_id = $2, refund_amount = $3,
		    payment_status = CASE WHEN $1 IN ('processed', 'pending') THEN 'refunded' ELSE payment_status END
		WHERE id = $4
	`
	cmdTag, err := s.pool.Exec(ctx, query, string(status), textOrNull(refundID), amount, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *OrderStore) SetShipmentDetails(ctx context.Context, orderID uuid.UUID, carrierOrderID, shipmentID, awb, carrierName string) error {
	query := `
		UPDATE orders
		SET carrier_order_id = $1, shipment_id = $2, awb = $3, carrier_name = $4
		WHERE id = $5
	`
	cmdTag, err := s.pool.Exec(ctx, query,
		textOrNull(carrierOrderID), textOrNull(shipmentID), textOrNull(awb), textOrNull(carrierName), orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SetReturnRequested stores the carrier return id for a cancelled-after-ship
// order. The return sub-state is distinct from a plain cancellation.
func (s *OrderStore) SetReturnRequested(ctx context.Context, orderID uuid.UUID, returnID string) error {
	query := `UPDATE orders SET return_id = $1, return_status = 'requested' WHERE id = $2`
	cmdTag, err := s.pool.Exec(ctx, query, returnID, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *OrderStore) loadItems(ctx context.Context, order *Order) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, product_id, name, sku, unit_price, quantity, total, snapshot
		FROM order_items WHERE order_id = $1 ORDER BY created_at
	`, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		var snapshot []byte
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name,
			&item.SKU, &item.UnitPrice, &item.Quantity, &item.Total, &snapshot); err != nil {
			return err
		}
		if snapshot != nil {
			if err := json.Unmarshal(snapshot, &item.Snapshot); err != nil {
				return err
			}
		}
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var order Order
	var orderNumber int64
	var couponID pgtype.UUID
	var customerName, paymentID, refundID pgtype.Text
	var carrierOrderID, shipmentID, awb, carrierName pgtype.Text
	var returnID, returnStatus, cancellationReason pgtype.Text
	var refundAmount decimal.NullDecimal
	var shippingAddr, billingAddr []byte
	var createdAt, paidAt, shippedAt, deliveredAt, cancelledAt pgtype.Timestamptz

	err := row.Scan(
		&order.ID, &order.CustomerID, &orderNumber,
		&order.Status, &order.PaymentStatus, &order.ShippingStatus, &order.RefundStatus,
		&order.Subtotal, &order.Tax, &order.Shipping, &order.Discount, &order.Total,
		&couponID, &order.CustomerEmail, &customerName,
		&shippingAddr, &billingAddr,
		&paymentID, &refundID, &refundAmount,
		&carrierOrderID, &shipmentID, &awb, &carrierName,
		&returnID, &returnStatus, &cancellationReason,
		&createdAt, &paidAt, &shippedAt, &deliveredAt, &cancelledAt,
	)
	if err != nil {
		return nil, err
	}

	order.OrderNumber = int(orderNumber)
	if couponID.Valid {
		id := uuid.UUID(couponID.Bytes)
		order.CouponID = &id
	}
	if customerName.Valid {
		order.CustomerName = customerName.String
	}
	if paymentID.Valid {
		order.PaymentID = paymentID.String
	}
	if refundID.Valid {
		order.RefundID = refundID.String
	}
	if refundAmount.Valid {
		order.RefundAmount = refundAmount.Decimal
	}
	if carrierOrderID.Valid {
		order.CarrierOrderID = carrierOrderID.String
	}
	if shipmentID.Valid {
		order.ShipmentID = shipmentID.String
	}
	if awb.Valid {
		order.AWB = awb.String
	}
	if carrierName.Valid {
		order.CarrierName = carrierName.String
	}
	if returnID.Valid {
		order.ReturnID = returnID.String
	}
	if returnStatus.Valid {
		order.ReturnStatus = models.ReturnStatus(returnStatus.String)
	}
	if cancellationReason.Valid {
		order.CancellationReason = cancellationReason.String
	}

	if shippingAddr != nil {
		if err := json.Unmarshal(shippingAddr, &order.ShippingAddress); err != nil {
			return nil, err
		}
	}
	if billingAddr != nil {
		if err := json.Unmarshal(billingAddr, &order.BillingAddress); err != nil {
			return nil, err
		}
	}

	order.CreatedAt = createdAt.Time
	if paidAt.Valid {
		order.PaidAt = paidAt.Time
	}
	if shippedAt.Valid {
		order.ShippedAt = shippedAt.Time
	}
	if deliveredAt.Valid {
		order.DeliveredAt = deliveredAt.Time
	}
	if cancelledAt.Valid {
		order.CancelledAt = cancelledAt.Time
	}

	return &order, nil
}

func textOrNull(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}
