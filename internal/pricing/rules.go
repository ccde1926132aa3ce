// Package pricing provides pricing rules parsing and order total math.
package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Rules struct {
	Currency          string           `yaml:"currency"`
	TaxRatePercent    float64          `yaml:"tax_rate_percent"`
	Shipping          ShippingRules    `yaml:"shipping"`
	LowStockThreshold int              `yaml:"low_stock_threshold"`
	Warehouse         WarehouseAddress `yaml:"warehouse"`
}

type ShippingRules struct {
	Fee      float64 `yaml:"fee"`
	FreeOver float64 `yaml:"free_over"`
}

// WarehouseAddress is where return pickups are dropped.
type WarehouseAddress struct {
	Name       string `yaml:"name"`
	Line1      string `yaml:"line1"`
	Line2      string `yaml:"line2"`
	City       string `yaml:"city"`
	State      string `yaml:"state"`
	PostalCode string `yaml:"postal_code"`
	Country    string `yaml:"country"`
	Phone      string `yaml:"phone"`
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(content []byte) (*Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(content, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse pricing rules: %w", err)
	}
	return &rules, nil
}

func (p *Parser) ParseFile(path string) (*Rules, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing rules: %w", err)
	}
	return p.Parse(content)
}

type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) Validate(rules *Rules) error {
	if rules.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if rules.TaxRatePercent < 0 || rules.TaxRatePercent > 100 {
		return fmt.Errorf("tax_rate_percent must be between 0 and 100")
	}
	if rules.Shipping.Fee < 0 {
		return fmt.Errorf("shipping fee must not be negative")
	}
	if rules.Shipping.FreeOver < 0 {
		return fmt.Errorf("shipping free_over must not be negative")
	}
	if rules.LowStockThreshold < 0 {
		return fmt.Errorf("low_stock_threshold must not be negative")
	}
	return nil
}
