// Package gateway implements billing.Gateway against card/PSE processors.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"

	"github.com/backresidences/billing/internal/billing"
	"github.com/backresidences/billing/internal/money"
)

// ErrMissingSecretKey is returned when the Stripe adapter has no API key.
var ErrMissingSecretKey = errors.New("gateway: stripe secret key is required")

// StripeGateway creates payment intents through the Stripe API.
type StripeGateway struct {
	logger *slog.Logger
}

// NewStripeGateway configures the Stripe client with secretKey.
func NewStripeGateway(secretKey string, logger *slog.Logger) (*StripeGateway, error) {
	if strings.TrimSpace(secretKey) == "" {
		return nil, ErrMissingSecretKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	stripe.Key = secretKey
	return &StripeGateway{logger: logger}, nil
}

// CreateChargeIntent opens a payment intent for req.Amount.
func (g *StripeGateway) CreateChargeIntent(ctx context.Context, req billing.ChargeRequest) (billing.ChargeIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(money.ToMinorUnits(req.Amount)),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if len(req.Metadata) > 0 {
		params.Metadata = map[string]string{}
		maps.Copy(params.Metadata, req.Metadata)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		g.logger.Error("create payment intent", slog.Any("error", err))
		return billing.ChargeIntent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	g.logger.Info("payment intent created", slog.String("intent_id", pi.ID), slog.String("status", string(pi.Status)))
	return billing.ChargeIntent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

// ConfirmCharge reads the current state of a payment intent.
func (g *StripeGateway) ConfirmCharge(ctx context.Context, intentID string) (billing.ChargeOutcome, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(intentID, params)
	if err != nil {
		return billing.ChargeOutcome{}, fmt.Errorf("stripe: get payment intent %s: %w", intentID, err)
	}
	return billing.ChargeOutcome{
		IntentID: pi.ID,
		Status:   chargeStatus(pi.Status),
		Amount:   money.FromMinorUnits(pi.Amount),
	}, nil
}

func chargeStatus(status stripe.PaymentIntentStatus) billing.ChargeStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return billing.ChargeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return billing.ChargeFailed
	default:
		return billing.ChargeProcessing
	}
}
