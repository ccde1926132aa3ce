package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type ShippingStatus string

const (
	ShippingNotShipped ShippingStatus = "not_shipped"
	ShippingProcessing ShippingStatus = "processing"
	ShippingShipped    ShippingStatus = "shipped"
	ShippingInTransit  ShippingStatus = "in_transit"
	ShippingDelivered  ShippingStatus = "delivered"
	ShippingCancelled  ShippingStatus = "cancelled"
)

type RefundStatus string

const (
	RefundNone      RefundStatus = "none"
	RefundPending   RefundStatus = "pending"
	RefundPartial   RefundStatus = "partial"
	RefundProcessed RefundStatus = "processed"
	RefundFailed    RefundStatus = "failed"
)

type ReturnStatus string

const (
	ReturnNone      ReturnStatus = ""
	ReturnRequested ReturnStatus = "requested"
)

// legalTransitions is the full order status transition table. Delivered and
// cancelled are terminal.
var legalTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered, StatusCancelled},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

// CanTransitionTo reports whether the status edge s -> next is legal.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsCancellable reports whether an order in this status may still be
// cancelled. Delivered orders never are.
func (s OrderStatus) IsCancellable() bool {
	return s.CanTransitionTo(StatusCancelled)
}

// Address is an immutable snapshot embedded in the order at creation time.
// Later edits to the customer's saved addresses do not alter it.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type Order struct {
	ID          uuid.UUID `json:"id"`
	CustomerID  uuid.UUID `json:"customer_id"`
	OrderNumber int       `json:"order_number"`

	Status         OrderStatus    `json:"status"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`
	ShippingStatus ShippingStatus `json:"shipping_status"`
	RefundStatus   RefundStatus   `json:"refund_status"`

	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`

	CouponID *uuid.UUID `json:"coupon_id,omitempty"`

	CustomerEmail   string  `json:"customer_email"`
	CustomerName    string  `json:"customer_name"`
	ShippingAddress Address `json:"shipping_address"`
	BillingAddress  Address `json:"billing_address"`

	PaymentID    string          `json:"payment_id,omitempty"`
	RefundID     string          `json:"refund_id,omitempty"`
	RefundAmount decimal.Decimal `json:"refund_amount"`

	CarrierOrderID string `json:"carrier_order_id,omitempty"`
	ShipmentID     string `json:"shipment_id,omitempty"`
	AWB            string `json:"awb,omitempty"`
	CarrierName    string `json:"carrier_name,omitempty"`

	ReturnID     string       `json:"return_id,omitempty"`
	ReturnStatus ReturnStatus `json:"return_status,omitempty"`

	CancellationReason string `json:"cancellation_reason,omitempty"`

	Items []OrderItem `json:"items"`

	CreatedAt   time.Time `json:"created_at"`
	PaidAt      time.Time `json:"paid_at"`
	ShippedAt   time.Time `json:"shipped_at"`
	DeliveredAt time.Time `json:"delivered_at"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// HasShipment reports whether the order was handed to the carrier.
func (o *Order) HasShipment() bool {
	return o.ShipmentID != "" || o.AWB != ""
}

// ShipmentInMotion reports whether the physical package already left the
// warehouse, in which case a cancellation needs a return pickup instead of a
// plain carrier cancellation.
func (o *Order) ShipmentInMotion() bool {
	switch o.ShippingStatus {
	case ShippingShipped, ShippingInTransit:
		return true
	default:
		return false
	}
}

// OrderItem carries a frozen snapshot of the product at order time, so later
// product edits or deletions never corrupt historical orders.
type OrderItem struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
	Snapshot  map[string]any  `json:"snapshot,omitempty"`
}
