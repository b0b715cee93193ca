package resilience

import (
	"errors"
	"time"

	"github.com/Agnikulu/EditWarCatcher/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds tunables for a circuit breaker.
type CircuitBreakerConfig struct {
	// Name is used in logs and metric labels.
	Name string
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens (default 5).
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before a trial call is
	// allowed (default 30s).
	ResetTimeout time.Duration
	// HalfOpenMaxCalls limits trial calls while half-open (default 1).
	HalfOpenMaxCalls int
}

func (c *CircuitBreakerConfig) setDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = 1
	}
}

// CircuitBreaker wraps gobreaker with logging and Prometheus state.
type CircuitBreaker struct {
	name   string
	cb     *gobreaker.CircuitBreaker[struct{}]
	logger zerolog.Logger

	onStateChange func(name string, from, to string)
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger zerolog.Logger) *CircuitBreaker {
	cfg.setDefaults()

	b := &CircuitBreaker{
		name:   cfg.Name,
		logger: logger.With().Str("component", "circuit-breaker").Str("breaker", cfg.Name).Logger(),
	}

	threshold := uint32(cfg.FailureThreshold)
	b.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: uint32(cfg.HalfOpenMaxCalls),
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
			b.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
			if b.onStateChange != nil {
				b.onStateChange(name, from.String(), to.String())
			}
		},
	})
	metrics.BreakerState.WithLabelValues(cfg.Name).Set(0)

	return b
}

// OnStateChange registers a callback fired on every transition. Call it
// before the breaker is shared.
func (b *CircuitBreaker) OnStateChange(fn func(name string, from, to string)) {
	b.onStateChange = fn
}

// Call runs fn through the breaker. While open it returns ErrCircuitOpen
// without calling fn.
func (b *CircuitBreaker) Call(fn func() error) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.BreakerRejectionsTotal.WithLabelValues(b.name).Inc()
		return ErrCircuitOpen
	}
	return err
}

// GetState returns "closed", "half-open" or "open".
func (b *CircuitBreaker) GetState() string {
	return b.cb.State().String()
}

// ConsecutiveFailures returns the current run of failures.
func (b *CircuitBreaker) ConsecutiveFailures() int {
	return int(b.cb.Counts().ConsecutiveFailures)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
