package push

import (
	"context"

	"github.com/sony/gobreaker/v2"

	"github.com/medtracker/medtracker/internal/resilience"
)

// BreakerGateway guards a Gateway with a circuit breaker. Only whole-call
// failures count against the breaker; per-message errors are normal results.
type BreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker[[]Result]
}

// NewBreakerGateway wraps next with a circuit breaker built from cfg.
func NewBreakerGateway(next Gateway, cfg resilience.CircuitBreakerConfig) *BreakerGateway {
	return &BreakerGateway{
		next: next,
		cb:   resilience.NewCircuitBreaker[[]Result](cfg),
	}
}

// SendEach forwards to the wrapped gateway unless the circuit is open.
func (g *BreakerGateway) SendEach(ctx context.Context, messages []Message) ([]Result, error) {
	results, err := g.cb.Execute(func() ([]Result, error) {
		return g.next.SendEach(ctx, messages)
	})
	if err != nil {
		return nil, resilience.MapBreakerError(err)
	}
	return results, nil
}

// State returns the breaker state.
func (g *BreakerGateway) State() gobreaker.State {
	return g.cb.State()
}

// Counts returns the breaker counters.
func (g *BreakerGateway) Counts() gobreaker.Counts {
	return g.cb.Counts()
}
