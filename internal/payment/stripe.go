// Package payment provides the Stripe payment gateway client.
package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"
)

// Client wraps the Stripe API surface the order backend needs: issuing
// refunds against completed payment intents.
type Client struct {
	client *stripe.Client
}

func NewClient(secretKey string) *Client {
	return &Client{
		client: stripe.NewClient(secretKey),
	}
}

// RefundResult carries the gateway's answer. Amount is in the gateway's
// minor currency unit; callers convert before storing on the order.
type RefundResult struct {
	ID          string
	AmountMinor int64
	Status      string
}

// Refund requests a refund for the full given amount against a payment
// intent. Amount is in minor units, matching the gateway's contract.
func (c *Client) Refund(ctx context.Context, paymentID string, amountMinor int64, note string) (*RefundResult, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if paymentID == "" {
		return nil, fmt.Errorf("payment ID is required")
	}
	if amountMinor <= 0 {
		return nil, fmt.Errorf("refund amount must be positive")
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(paymentID),
		Amount:        stripe.Int64(amountMinor),
	}
	if note != "" {
		params.Metadata = map[string]string{"note": note}
	}

	refund, err := c.client.V1Refunds.Create(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}

	return &RefundResult{
		ID:          refund.ID,
		AmountMinor: refund.Amount,
		Status:      string(refund.Status),
	}, nil
}
