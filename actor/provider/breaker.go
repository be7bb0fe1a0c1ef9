package provider

import (
	"context"

	"github.com/sony/gobreaker"
	"github.com/teilomillet/plexity/actor/metrics"
	"github.com/teilomillet/plexity/actor/processing"
	"github.com/teilomillet/plexity/config"
	"github.com/teilomillet/plexity/errors"
	"go.uber.org/zap"
)

// BreakerClient guards a CompletionClient with a circuit breaker. Only
// transport failures count against the provider; a cancelled run does not.
// While the circuit is open, calls fail fast with a transport failure
// wrapping gobreaker.ErrOpenState.
type BreakerClient struct {
	next    CompletionClient
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewBreakerClient wraps next. m may be nil.
func NewBreakerClient(next CompletionClient, cfg config.BreakerConfig, m *metrics.Metrics, logger *zap.Logger) *BreakerClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 1
	}

	name := next.Name()
	if m != nil {
		m.BreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			return !errors.Is(err, errors.ErrTransportFailure)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if m == nil {
				return
			}
			m.BreakerState.WithLabelValues(name).Set(float64(to))
			if to == gobreaker.StateOpen {
				m.BreakerTrips.WithLabelValues(name).Inc()
			}
		},
	}

	return &BreakerClient{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Name implements CompletionClient.
func (c *BreakerClient) Name() string {
	return c.next.Name()
}

// State reports the breaker state.
func (c *BreakerClient) State() gobreaker.State {
	return c.breaker.State()
}

// Complete implements CompletionClient.
func (c *BreakerClient) Complete(ctx context.Context, payload processing.Payload) (any, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.next.Complete(ctx, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.NewTransportError(c.Name(), err)
	}
	return out, err
}
