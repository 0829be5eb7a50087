// Package payments wraps stripe-go for the manual-capture hold flow used at
// trip accept: hold at accept, capture on completion, release on cancel.
package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/example/ride-dispatch/internal/faults"
)

// StripeClient is a thin wrapper around stripe-go PaymentIntents. With an
// empty API key it is a no-op, so local runs do not need a Stripe account.
type StripeClient struct {
	enabled bool
}

func NewStripeClient(apiKey string) *StripeClient {
	if apiKey == "" {
		return &StripeClient{}
	}
	stripe.Key = apiKey
	return &StripeClient{enabled: true}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripeClient) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	if !s.enabled {
		return "", nil
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", faults.Upstream(err, "stripe hold failed")
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	if !s.enabled || paymentIntentID == "" {
		return nil
	}
	if _, err := paymentintent.Capture(paymentIntentID, nil); err != nil {
		return faults.Upstream(err, "stripe capture failed")
	}
	return nil
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	if !s.enabled || paymentIntentID == "" {
		return nil
	}
	if _, err := paymentintent.Cancel(paymentIntentID, nil); err != nil {
		return faults.Upstream(err, "stripe cancel failed")
	}
	return nil
}
