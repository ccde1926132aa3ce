package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cartloopapp/cartloop/internal/db"
	"github.com/cartloopapp/cartloop/internal/logging"
	"github.com/cartloopapp/cartloop/internal/observability"
)

// ErrSKUExists is returned when a product is created with a SKU already in
// the catalog.
var ErrSKUExists = errors.New("sku already exists")

type stockStore interface {
	Adjust(ctx context.Context, params db.AdjustParams) (db.AdjustResult, error)
	GetProduct(ctx context.Context, productID uuid.UUID) (*db.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*db.Product, error)
	CreateProduct(ctx context.Context, product *db.Product) error
	LedgerEntries(ctx context.Context, productID uuid.UUID, limit int) ([]*db.StockLedgerEntry, error)
}

type InventoryService struct {
	store             stockStore
	emailSender       OrderEmailSender
	lowStockThreshold int
	logger            *slog.Logger
}

func NewInventoryService(store stockStore, emailSender OrderEmailSender, lowStockThreshold int, logger *slog.Logger) *InventoryService {
	if emailSender == nil {
		emailSender = noopOrderEmailSender{}
	}
	return &InventoryService{
		store:             store,
		emailSender:       emailSender,
		lowStockThreshold: lowStockThreshold,
		logger:            logger,
	}
}

func (s *InventoryService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

// Adjust applies a stock change through the ledger and fires a low-stock
// alert when the resulting quantity drops to the configured threshold.
func (s *InventoryService) Adjust(ctx context.Context, params db.AdjustParams) (db.AdjustResult, error) {
	span := sentry.StartSpan(
		ctx,
		"service.inventory.adjust",
		sentry.WithOpName("service.inventory"),
		sentry.WithDescription("Adjust"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	result, err := s.store.Adjust(ctx, params)
	if err != nil {
		meter.Count("stock.adjust.failed", 1, sentry.WithAttributes(
			attribute.String("change_type", string(params.ChangeType)),
		))
		return result, err
	}
	meter.Count("stock.adjusted", 1, sentry.WithAttributes(
		attribute.String("change_type", string(params.ChangeType)),
	))

	if result.NewQuantity > 0 && result.NewQuantity <= s.lowStockThreshold {
		s.alertLowStock(ctx, params.ProductID)
	}

	return result, nil
}

// GetProduct loads a product by id. Order creation goes through the service
// rather than the store so sale-path adjustments fire low-stock alerts too.
func (s *InventoryService) GetProduct(ctx context.Context, productID uuid.UUID) (*db.Product, error) {
	return s.store.GetProduct(ctx, productID)
}

// CreateProduct adds a product to the catalog. The SKU must be unique; the
// initial stock is recorded on the product row itself, so the ledger starts
// empty and explains only subsequent changes.
func (s *InventoryService) CreateProduct(ctx context.Context, product *db.Product) error {
	existing, err := s.store.GetProductBySKU(ctx, product.SKU)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to check sku: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrSKUExists, product.SKU)
	}

	if err := s.store.CreateProduct(ctx, product); err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	s.loggerFromContext(ctx).Info("product created",
		"product_id", product.ID, "sku", product.SKU, "stock", product.StockQuantity)
	observability.MeterFromContext(ctx).Count("product.created", 1)
	return nil
}

// Ledger returns the most recent ledger entries for a product, newest first.
func (s *InventoryService) Ledger(ctx context.Context, productID uuid.UUID, limit int) ([]*db.StockLedgerEntry, error) {
	entries, err := s.store.LedgerEntries(ctx, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

// RestoreForCancelledOrder puts every item of a cancelled order back into
// stock as a return. Items are restored independently; a failure on one does
// not block the rest.
func (s *InventoryService) RestoreForCancelledOrder(ctx context.Context, order *db.Order) error {
	span := sentry.StartSpan(
		ctx,
		"service.inventory.restore_for_cancelled_order",
		sentry.WithOpName("service.inventory"),
		sentry.WithDescription("RestoreForCancelledOrder"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	logger := s.loggerFromContext(ctx)

	var errs []error
	for _, item := range order.Items {
		orderID := order.ID
		_, err := s.store.Adjust(ctx, db.AdjustParams{
			ProductID:  item.ProductID,
			Delta:      item.Quantity,
			ChangeType: db.StockChangeReturn,
			OrderID:    &orderID,
			Note:       fmt.Sprintf("order #%d cancelled", order.OrderNumber),
		})
		if err != nil {
			logger.Error("failed to restore stock for cancelled order",
				"error", err, "order_id", order.ID, "product_id", item.ProductID, "quantity", item.Quantity)
			errs = append(errs, fmt.Errorf("product %s: %w", item.ProductID, err))
			continue
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to restore stock for %d of %d items: %w", len(errs), len(order.Items), errors.Join(errs...))
	}

	observability.MeterFromContext(ctx).Count("stock.restored_for_cancellation", 1)
	return nil
}

func (s *InventoryService) alertLowStock(ctx context.Context, productID uuid.UUID) {
	logger := s.loggerFromContext(ctx)

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		logger.Warn("failed to load product for low-stock alert", "error", err, "product_id", productID)
		return
	}

	logger.Warn("product stock is low", "product_id", productID, "sku", product.SKU, "quantity", product.StockQuantity)
	observability.MeterFromContext(ctx).Count("stock.low_stock_alert", 1)

	// Delivery must not block or inherit cancellation from the request that
	// triggered the threshold.
	go func(ctx context.Context) {
		if err := s.emailSender.SendLowStockAlert(ctx, product, s.lowStockThreshold); err != nil {
			logger.Warn("failed to send low-stock alert", "error", err, "product_id", productID)
		}
	}(context.WithoutCancel(ctx))
}
