package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/backresidences/billing/internal/billing"
)

// SimulatedGateway is an in-process gateway for development and test mode.
// Intents stay processing until Settle is called unless a default outcome is set.
type SimulatedGateway struct {
	mu       sync.Mutex
	fallback billing.ChargeStatus
	intents  map[string]billing.ChargeOutcome
}

// NewSimulatedGateway returns a gateway whose new intents resolve to outcome.
// An empty outcome keeps intents processing.
func NewSimulatedGateway(outcome billing.ChargeStatus) *SimulatedGateway {
	if outcome == "" {
		outcome = billing.ChargeProcessing
	}
	return &SimulatedGateway{fallback: outcome, intents: map[string]billing.ChargeOutcome{}}
}

func (g *SimulatedGateway) CreateChargeIntent(_ context.Context, req billing.ChargeRequest) (billing.ChargeIntent, error) {
	id := "pi_test_" + uuid.NewString()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents[id] = billing.ChargeOutcome{IntentID: id, Status: g.fallback, Amount: req.Amount}
	return billing.ChargeIntent{ID: id, ClientSecret: id + "_secret", Status: string(billing.ChargeProcessing)}, nil
}

func (g *SimulatedGateway) ConfirmCharge(_ context.Context, intentID string) (billing.ChargeOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	outcome, ok := g.intents[intentID]
	if !ok {
		return billing.ChargeOutcome{IntentID: intentID, Status: billing.ChargeFailed}, nil
	}
	return outcome, nil
}

// Settle forces the outcome of an existing intent.
func (g *SimulatedGateway) Settle(intentID string, status billing.ChargeStatus) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	outcome, ok := g.intents[intentID]
	if !ok {
		return false
	}
	outcome.Status = status
	g.intents[intentID] = outcome
	return true
}
