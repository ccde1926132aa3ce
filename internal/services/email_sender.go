package services

import (
	"context"
	"fmt"

	"github.com/cartloopapp/cartloop/internal/db"
	"github.com/cartloopapp/cartloop/internal/email"
)

// OrderEmailSender delivers customer-facing order emails and internal alerts.
// All implementations are best effort; callers log failures and move on.
type OrderEmailSender interface {
	SendOrderConfirmation(ctx context.Context, order *db.Order) error
	SendOrderCancelled(ctx context.Context, order *db.Order, input OrderCancelledEmailInput) error
	SendLowStockAlert(ctx context.Context, product *db.Product, threshold int) error
}

type OrderCancelledEmailInput struct {
	RefundLine      string
	ReturnRequested bool
}

type RenderedOrderEmailSender struct {
	provider   email.Provider
	renderer   *email.Renderer
	adminEmail string
}

func NewRenderedOrderEmailSender(provider email.Provider, adminEmail string) (*RenderedOrderEmailSender, error) {
	renderer, err := email.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("failed to build email renderer: %w", err)
	}
	return &RenderedOrderEmailSender{
		provider:   provider,
		renderer:   renderer,
		adminEmail: adminEmail,
	}, nil
}

func (s *RenderedOrderEmailSender) SendOrderConfirmation(ctx context.Context, order *db.Order) error {
	mail, err := s.renderer.RenderOrder("order_confirmation", order.CustomerEmail, orderEmailInfo(order))
	if err != nil {
		return err
	}
	return s.provider.SendEmail(ctx, mail)
}

func (s *RenderedOrderEmailSender) SendOrderCancelled(ctx context.Context, order *db.Order, input OrderCancelledEmailInput) error {
	info := orderEmailInfo(order)
	info.RefundLine = input.RefundLine
	info.ReturnRequested = input.ReturnRequested

	mail, err := s.renderer.RenderOrder("order_cancelled", order.CustomerEmail, info)
	if err != nil {
		return err
	}
	return s.provider.SendEmail(ctx, mail)
}

func (s *RenderedOrderEmailSender) SendLowStockAlert(ctx context.Context, product *db.Product, threshold int) error {
	if s.adminEmail == "" {
		return nil
	}
	mail, err := s.renderer.RenderLowStock(s.adminEmail, email.LowStockInfo{
		ProductName: product.Name,
		SKU:         product.SKU,
		Quantity:    product.StockQuantity,
		Threshold:   threshold,
	})
	if err != nil {
		return err
	}
	return s.provider.SendEmail(ctx, mail)
}

func orderEmailInfo(order *db.Order) email.OrderInfo {
	info := email.OrderInfo{
		OrderNumber:        fmt.Sprintf("%d", order.OrderNumber),
		CustomerName:       order.CustomerName,
		OrderDate:          order.CreatedAt,
		Subtotal:           order.Subtotal.StringFixed(2),
		Discount:           order.Discount.String(),
		Tax:                order.Tax.StringFixed(2),
		Shipping:           order.Shipping.StringFixed(2),
		Total:              order.Total.StringFixed(2),
		CancellationReason: order.CancellationReason,
	}
	for _, item := range order.Items {
		info.Items = append(info.Items, email.LineItem{
			Name:      item.Name,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			Total:     item.Total.StringFixed(2),
		})
	}
	return info
}

type noopOrderEmailSender struct{}

func (noopOrderEmailSender) SendOrderConfirmation(context.Context, *db.Order) error {
	return nil
}

func (noopOrderEmailSender) SendOrderCancelled(context.Context, *db.Order, OrderCancelledEmailInput) error {
	return nil
}

func (noopOrderEmailSender) SendLowStockAlert(context.Context, *db.Product, int) error {
	return nil
}
