package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	SKU           string          `json:"sku"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Attributes    map[string]any  `json:"attributes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// StockChangeType classifies why a product's stock moved.
type StockChangeType string

const (
	StockChangeSale       StockChangeType = "sale"
	StockChangeReturn     StockChangeType = "return"
	StockChangeRestock    StockChangeType = "restock"
	StockChangeAdjustment StockChangeType = "adjustment"
)

// StockLedgerEntry is one immutable row of the append-only stock history.
// Previous and new quantities are recorded, not derived, so the ledger is
// self-verifying against the product's current stock figure.
type StockLedgerEntry struct {
	ID               uuid.UUID       `json:"id"`
	ProductID        uuid.UUID       `json:"product_id"`
	ChangeType       StockChangeType `json:"change_type"`
	Delta            int             `json:"delta"`
	PreviousQuantity int             `json:"previous_quantity"`
	NewQuantity      int             `json:"new_quantity"`
	OrderID          *uuid.UUID      `json:"order_id,omitempty"`
	Note             string          `json:"note,omitempty"`
	CreatedBy        *uuid.UUID      `json:"created_by,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
