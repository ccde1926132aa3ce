package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInsufficientStock is returned by sale-path adjustments when the locked
// row does not cover the requested quantity.
var ErrInsufficientStock = errors.New("insufficient stock")

type InventoryStore struct {
	pool *pgxpool.Pool
}

func NewInventoryStore(pool *pgxpool.Pool) *InventoryStore {
	return &InventoryStore{pool: pool}
}

type AdjustParams struct {
	ProductID  uuid.UUID
	Delta      int
	ChangeType StockChangeType
	OrderID    *uuid.UUID
	ActorID    *uuid.UUID
	Note       string

	// FailOnShortfall makes the adjustment error out instead of clamping
	// when the stock cannot cover a negative delta. Sale-path only.
	FailOnShortfall bool
}

type AdjustResult struct {
	AppliedDelta int
	NewQuantity  int
}

// Adjust mutates a product's stock and appends the matching ledger entry as
// one transaction. The product row is locked, so concurrent adjustments to
// the same product serialize. Stock clamps at zero; the ledger records the
// applied delta, which may be smaller in magnitude than the requested one.
func (s *InventoryStore) Adjust(ctx context.Context, params AdjustParams) (AdjustResult, error) {
	var result AdjustResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, err
	}
	defer tx.Rollback(ctx)

	var current int
	err = tx.QueryRow(ctx,
		`SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE`,
		params.ProductID,
	).Scan(&current)
	if err != nil {
		return result, err
	}

	next := current + params.Delta
	if next < 0 {
		if params.FailOnShortfall {
			return result, ErrInsufficientStock
		}
		next = 0
	}
	applied := next - current

	_, err = tx.Exec(ctx,
		`UPDATE products SET stock_quantity = $1, updated_at = NOW() WHERE id = $2`,
		next, params.ProductID)
	if err != nil {
		return result, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO stock_ledger (product_id, change_type, delta, previous_quantity, new_quantity, order_id, note, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, params.ProductID, string(params.ChangeType), applied, current, next,
		params.OrderID, textOrNull(params.Note), params.ActorID)
	if err != nil {
		return result, err
	}

	if err := tx.Commit(ctx); err != nil {
		return result, err
	}

	result.AppliedDelta = applied
	result.NewQuantity = next
	return result, nil
}

func (s *InventoryStore) GetProduct(ctx context.Context, productID uuid.UUID) (*Product, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, sku, price, stock_quantity, attributes, created_at, updated_at
		FROM products WHERE id = $1
	`, productID)
	return scanProduct(row)
}

func (s *InventoryStore) GetProductBySKU(ctx context.Context, sku string) (*Product, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, sku, price, stock_quantity, attributes, created_at, updated_at
		FROM products WHERE sku = $1
	`, sku)
	return scanProduct(row)
}

func (s *InventoryStore) CreateProduct(ctx context.Context, product *Product) error {
	var attributes []byte
	if product.Attributes != nil {
		var err error
		attributes, err = json.Marshal(product.Attributes)
		if err != nil {
			return err
		}
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO products (name, sku, price, stock_quantity, attributes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, product.Name, product.SKU, product.Price, product.StockQuantity, attributes,
	).Scan(&product.ID, &product.CreatedAt, &product.UpdatedAt)
}

// LedgerEntries returns the newest-first stock history for a product, the
// audit trail used to explain any given stock value.
func (s *InventoryStore) LedgerEntries(ctx context.Context, productID uuid.UUID, limit int) ([]*StockLedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, change_type, delta, previous_quantity, new_quantity, order_id, note, created_by, created_at
		FROM stock_ledger WHERE product_id = $1 ORDER BY created_at DESC LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*StockLedgerEntry
	for rows.Next() {
		var entry StockLedgerEntry
		var changeType string
		var orderID, createdBy pgtype.UUID
		var note pgtype.Text
		if err := rows.Scan(&entry.ID, &entry.ProductID, &changeType, &entry.Delta,
			&entry.PreviousQuantity, &entry.NewQuantity, &orderID, &note, &createdBy, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.ChangeType = StockChangeType(changeType)
		if orderID.Valid {
			id := uuid.UUID(orderID.Bytes)
			entry.OrderID = &id
		}
		if createdBy.Valid {
			id := uuid.UUID(createdBy.Bytes)
			entry.CreatedBy = &id
		}
		if note.Valid {
			entry.Note = note.String
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func scanProduct(row pgx.Row) (*Product, error) {
	var product Product
	var attributes []byte
	var createdAt, updatedAt pgtype.Timestamptz
	err := row.Scan(&product.ID, &product.Name, &product.SKU, &product.Price,
		&product.StockQuantity, &attributes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if attributes != nil {
		if err := json.Unmarshal(attributes, &product.Attributes); err != nil {
			return nil, err
		}
	}
	product.CreatedAt = createdAt.Time
	product.UpdatedAt = updatedAt.Time
	return &product, nil
}
