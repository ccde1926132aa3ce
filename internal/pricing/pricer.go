package pricing

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Quote is the fully-decided monetary breakdown of an order. Total always
// equals subtotal - discount + tax + shipping.
type Quote struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

type Pricer struct {
	taxRate  decimal.Decimal
	fee      decimal.Decimal
	freeOver decimal.Decimal

	lowStockThreshold int
}

func NewPricer(rules *Rules) *Pricer {
	return &Pricer{
		taxRate:           decimal.NewFromFloat(rules.TaxRatePercent),
		fee:               decimal.NewFromFloat(rules.Shipping.Fee),
		freeOver:          decimal.NewFromFloat(rules.Shipping.FreeOver),
		lowStockThreshold: rules.LowStockThreshold,
	}
}

// Tax applies the configured rate to the discounted subtotal, rounded to two
// decimal places.
func (p *Pricer) Tax(taxable decimal.Decimal) decimal.Decimal {
	if taxable.IsNegative() {
		taxable = decimal.Zero
	}
	return taxable.Mul(p.taxRate).Div(hundred).Round(2)
}

// ShippingFee is waived once the subtotal reaches the free-shipping
// threshold.
func (p *Pricer) ShippingFee(subtotal decimal.Decimal) decimal.Decimal {
	if p.freeOver.IsPositive() && subtotal.GreaterThanOrEqual(p.freeOver) {
		return decimal.Zero
	}
	return p.fee
}

// QuoteOrder computes the complete breakdown for a subtotal and an already
// locked-in discount amount.
func (p *Pricer) QuoteOrder(subtotal, discount decimal.Decimal) Quote {
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	taxable := subtotal.Sub(discount)
	tax := p.Tax(taxable)
	shipping := p.ShippingFee(subtotal)

	return Quote{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Shipping: shipping,
		Total:    subtotal.Sub(discount).Add(tax).Add(shipping),
	}
}

func (p *Pricer) LowStockThreshold() int {
	return p.lowStockThreshold
}
