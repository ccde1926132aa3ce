package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func testPricer() *Pricer {
	return NewPricer(&Rules{
		Currency:       "inr",
		TaxRatePercent: 18,
		Shipping: ShippingRules{
			Fee:      49,
			FreeOver: 999,
		},
		LowStockThreshold: 5,
	})
}

func TestQuoteOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		subtotal string
		discount string
		wantTax  string
		wantShip string
		wantTot  string
	}{
		{
			name:     "free shipping over threshold without coupon",
			subtotal: "1000",
			discount: "0",
			wantTax:  "180",
			wantShip: "0",
			wantTot:  "1180",
		},
		{
			name:     "shipping charged below threshold",
			subtotal: "500",
			discount: "0",
			wantTax:  "90",
			wantShip: "49",
			wantTot:  "639",
		},
		{
			name:     "discount reduces taxable amount",
			subtotal: "1000",
			discount: "100",
			wantTax:  "162",
			wantShip: "0",
			wantTot:  "1062",
		},
		{
			name:     "discount larger than subtotal clamps",
			subtotal: "100",
			discount: "250",
			wantTax:  "0",
			wantShip: "49",
			wantTot:  "49",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			quote := testPricer().QuoteOrder(
				decimal.RequireFromString(tt.subtotal),
				decimal.RequireFromString(tt.discount),
			)

			if !quote.Tax.Equal(decimal.RequireFromString(tt.wantTax)) {
				t.Errorf("Tax = %s, want %s", quote.Tax, tt.wantTax)
			}
			if !quote.Shipping.Equal(decimal.RequireFromString(tt.wantShip)) {
				t.Errorf("Shipping = %s, want %s", quote.Shipping, tt.wantShip)
			}
			if !quote.Total.Equal(decimal.RequireFromString(tt.wantTot)) {
				t.Errorf("Total = %s, want %s", quote.Total, tt.wantTot)
			}
		})
	}
}

func TestQuoteTotalIdentity(t *testing.T) {
	t.Parallel()

	quote := testPricer().QuoteOrder(decimal.RequireFromString("753.50"), decimal.RequireFromString("53.50"))
	identity := quote.Subtotal.Sub(quote.Discount).Add(quote.Tax).Add(quote.Shipping)
	if !quote.Total.Equal(identity) {
		t.Fatalf("Total = %s, identity = %s", quote.Total, identity)
	}
}

func TestParseAndValidateRules(t *testing.T) {
	t.Parallel()

	content := []byte(`
currency: inr
tax_rate_percent: 18
shipping:
  fee: 49
  free_over: 999
low_stock_threshold: 5
`)

	rules, err := NewParser().Parse(content)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if err := NewValidator().Validate(rules); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if rules.TaxRatePercent != 18 {
		t.Errorf("TaxRatePercent = %v, want 18", rules.TaxRatePercent)
	}
	if rules.LowStockThreshold != 5 {
		t.Errorf("LowStockThreshold = %v, want 5", rules.LowStockThreshold)
	}
}

func TestValidateRejectsBadRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rules Rules
	}{
		{name: "missing currency", rules: Rules{TaxRatePercent: 18}},
		{name: "negative tax", rules: Rules{Currency: "inr", TaxRatePercent: -1}},
		{name: "tax over 100", rules: Rules{Currency: "inr", TaxRatePercent: 101}},
		{name: "negative shipping fee", rules: Rules{Currency: "inr", Shipping: ShippingRules{Fee: -1}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := NewValidator().Validate(&tt.rules); err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}
}
