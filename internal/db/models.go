package db

import "github.com/cartloopapp/cartloop/internal/models"

type Order = models.Order
type OrderItem = models.OrderItem
type OrderStatus = models.OrderStatus
type PaymentStatus = models.PaymentStatus
type ShippingStatus = models.ShippingStatus
type RefundStatus = models.RefundStatus
type Product = models.Product
type StockLedgerEntry = models.StockLedgerEntry
type StockChangeType = models.StockChangeType
type Coupon = models.Coupon
type CouponType = models.CouponType
type CouponUsage = models.CouponUsage

const (
	StatusPending    = models.StatusPending
	StatusConfirmed  = models.StatusConfirmed
	StatusProcessing = models.StatusProcessing
	StatusShipped    = models.StatusShipped
	StatusDelivered  = models.StatusDelivered
	StatusCancelled  = models.StatusCancelled
)

const (
	PaymentPending  = models.PaymentPending
	PaymentPaid     = models.PaymentPaid
	PaymentFailed   = models.PaymentFailed
	PaymentRefunded = models.PaymentRefunded
)

const (
	ShippingNotShipped = models.ShippingNotShipped
	ShippingProcessing = models.ShippingProcessing
	ShippingShipped    = models.ShippingShipped
	ShippingInTransit  = models.ShippingInTransit
	ShippingDelivered  = models.ShippingDelivered
	ShippingCancelled  = models.ShippingCancelled
)

const (
	RefundNone      = models.RefundNone
	RefundPending   = models.RefundPending
	RefundPartial   = models.RefundPartial
	RefundProcessed = models.RefundProcessed
	RefundFailed    = models.RefundFailed
)

const (
	CouponPercentage = models.CouponPercentage
	CouponFixed      = models.CouponFixed
)

const (
	StockChangeSale       = models.StockChangeSale
	StockChangeReturn     = models.StockChangeReturn
	StockChangeRestock    = models.StockChangeRestock
	StockChangeAdjustment = models.StockChangeAdjustment
)
