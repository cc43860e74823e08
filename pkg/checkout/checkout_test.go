package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/stripe/stripe-go/v84"

	"github.com/darkwings/voicecart/pkg/core"
)

type fakeIntents struct {
	params *stripe.PaymentIntentCreateParams
	intent *stripe.PaymentIntent
	err    error
}

func (f *fakeIntents) Create(ctx context.Context, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	f.params = params
	return f.intent, f.err
}

func TestCharge(t *testing.T) {
	fake := &fakeIntents{intent: &stripe.PaymentIntent{
		ID:           "pi_123",
		ClientSecret: "pi_123_secret",
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}}
	p := newProcessor(fake, "eur", nil)

	payment, err := p.Charge(context.Background(), 2250, "voice order #7", map[string]string{"order_id": "7"})
	if err != nil {
		t.Fatalf("Charge() = %v", err)
	}
	if payment.IntentID != "pi_123" || payment.ClientSecret != "pi_123_secret" {
		t.Errorf("payment = %+v", payment)
	}
	if got := *fake.params.Amount; got != 2250 {
		t.Errorf("Amount = %d, want 2250", got)
	}
	if got := *fake.params.Currency; got != "eur" {
		t.Errorf("Currency = %q", got)
	}
	if fake.params.Metadata["order_id"] != "7" {
		t.Errorf("Metadata = %v", fake.params.Metadata)
	}
}

func TestCharge_RejectsNonPositiveAmount(t *testing.T) {
	p := newProcessor(&fakeIntents{}, "eur", nil)
	for _, amount := range []int64{0, -100} {
		if _, err := p.Charge(context.Background(), amount, "", nil); !core.IsType(err, core.ErrInvalidRequest) {
			t.Errorf("Charge(%d) error = %v, want invalid request", amount, err)
		}
	}
}

func TestCharge_APIError(t *testing.T) {
	p := newProcessor(&fakeIntents{err: errors.New("rate limited")}, "eur", nil)
	_, err := p.Charge(context.Background(), 100, "", nil)
	if !core.IsType(err, core.ErrAPI) {
		t.Fatalf("error = %v, want api error", err)
	}
}
