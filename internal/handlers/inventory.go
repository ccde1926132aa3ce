package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/cartloopapp/cartloop/internal/db"
	"github.com/cartloopapp/cartloop/internal/services"
)

type createProductRequest struct {
	Name          string          `json:"name"`
	SKU           string          `json:"sku"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Attributes    map[string]any  `json:"attributes"`
}

// CreateProduct adds a product to the catalog.
func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createProductRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.SKU == "" {
		respondError(w, http.StatusBadRequest, "name and sku are required")
		return
	}
	if req.Price.IsNegative() {
		respondError(w, http.StatusBadRequest, "price must not be negative")
		return
	}
	if req.StockQuantity < 0 {
		respondError(w, http.StatusBadRequest, "stock_quantity must not be negative")
		return
	}

	product := &db.Product{
		Name:          req.Name,
		SKU:           req.SKU,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
		Attributes:    req.Attributes,
	}
	if err := h.inventoryService.CreateProduct(ctx, product); err != nil {
		if errors.Is(err, services.ErrSKUExists) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.loggerFromContext(ctx).Error("failed to create product", "error", err, "sku", req.SKU)
		respondError(w, http.StatusInternalServerError, "failed to create product")
		return
	}

	respondJSON(w, http.StatusCreated, product)
}

type adjustStockRequest struct {
	Delta      int                `json:"delta"`
	ChangeType db.StockChangeType `json:"change_type"`
	Note       string             `json:"note"`
}

// AdjustStock applies a manual stock change through the ledger. The delta is
// clamped so stock never goes below zero; the response reports what was
// actually applied.
func (h *Handlers) AdjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req adjustStockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Delta == 0 {
		respondError(w, http.StatusBadRequest, "delta must not be zero")
		return
	}
	switch req.ChangeType {
	case db.StockChangeSale, db.StockChangeReturn, db.StockChangeRestock, db.StockChangeAdjustment:
	default:
		respondError(w, http.StatusBadRequest, "invalid change_type")
		return
	}

	actor, _ := ActorFromContext(ctx)
	actorID := actor.UserID
	result, err := h.inventoryService.Adjust(ctx, db.AdjustParams{
		ProductID:  productID,
		Delta:      req.Delta,
		ChangeType: req.ChangeType,
		Note:       req.Note,
		ActorID:    &actorID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondError(w, http.StatusNotFound, "product not found")
			return
		}
		h.loggerFromContext(ctx).Error("failed to adjust stock", "error", err, "product_id", productID)
		respondError(w, http.StatusInternalServerError, "failed to adjust stock")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"applied_delta": result.AppliedDelta,
		"new_quantity":  result.NewQuantity,
	})
}

// StockLedger returns the newest ledger entries for a product.
func (h *Handlers) StockLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	entries, err := h.inventoryService.Ledger(ctx, productID, limit)
	if err != nil {
		h.loggerFromContext(ctx).Error("failed to load stock ledger", "error", err, "product_id", productID)
		respondError(w, http.StatusInternalServerError, "failed to load stock ledger")
		return
	}
	if entries == nil {
		entries = []*db.StockLedgerEntry{}
	}

	respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
