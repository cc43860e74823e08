// Package checkout turns a priced order into a Stripe payment intent. The
// catalog service calls it when recording an order; the session core never
// touches payments.
package checkout

import (
	"context"
	"log/slog"

	"github.com/stripe/stripe-go/v84"

	"github.com/darkwings/voicecart/pkg/core"
)

// paymentIntents is the slice of the Stripe client the processor uses.
type paymentIntents interface {
	Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
}

// Processor creates payment intents for completed voice orders.
type Processor struct {
	intents  paymentIntents
	currency string
	logger   *slog.Logger
}

// New creates a processor backed by the live Stripe API.
func New(apiKey, currency string, logger *slog.Logger) *Processor {
	client := stripe.NewClient(apiKey)
	return newProcessor(client.V1PaymentIntents, currency, logger)
}

func newProcessor(intents paymentIntents, currency string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if currency == "" {
		currency = "eur"
	}
	return &Processor{intents: intents, currency: currency, logger: logger}
}

// Payment is the subset of a payment intent the order flow needs.
type Payment struct {
	IntentID     string
	ClientSecret string
	Status       string
}

// Charge opens a payment intent for the given amount. AmountCents is the
// server-side priced total in the smallest currency unit; client-supplied
// totals are never trusted.
func (p *Processor) Charge(ctx context.Context, amountCents int64, description string, metadata map[string]string) (*Payment, error) {
	if amountCents <= 0 {
		return nil, core.NewInvalidRequestError("charge amount must be positive")
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:      stripe.Int64(amountCents),
		Currency:    stripe.String(p.currency),
		Description: stripe.String(description),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	intent, err := p.intents.Create(ctx, params)
	if err != nil {
		return nil, core.NewAPIError("create payment intent: " + err.Error())
	}
	p.logger.Info("payment intent created", "intent_id", intent.ID, "amount_cents", amountCents, "currency", p.currency)
	return &Payment{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
	}, nil
}
