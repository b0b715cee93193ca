package ingestor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/metrics"
	"github.com/Agnikulu/EditWarCatcher/internal/models"
	"github.com/Agnikulu/EditWarCatcher/internal/resilience"
)

// Feed yields a bounded batch of recent edits per call.
type Feed interface {
	Fetch(ctx context.Context) ([]models.EditRecord, error)
	Source() string
}

// NewFeed builds the feed named by cfg.Source.
func NewFeed(cfg *config.Feed, timeouts resilience.FeedTimeouts, logger zerolog.Logger) (Feed, error) {
	switch cfg.Source {
	case "api", "":
		return NewRecentChangesClient(cfg, timeouts, logger), nil
	case "stream":
		return NewStreamClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown feed source %q", cfg.Source)
	}
}

// BreakerFeed guards a feed with a circuit breaker so a long-running process
// stops hammering an API that keeps failing. While the circuit is open Fetch
// returns resilience.ErrCircuitOpen without touching the network.
type BreakerFeed struct {
	feed    Feed
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewBreakerFeed wraps feed. failures consecutive errors open the circuit for
// cooldown.
func NewBreakerFeed(feed Feed, failures int, cooldown time.Duration, logger zerolog.Logger) *BreakerFeed {
	return &BreakerFeed{
		feed: feed,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "feed-" + feed.Source(),
			FailureThreshold: failures,
			ResetTimeout:     cooldown,
		}, logger),
		logger: logger.With().Str("component", "breaker-feed").Logger(),
	}
}

// Source reports the wrapped feed's source.
func (b *BreakerFeed) Source() string { return b.feed.Source() }

// State exposes the breaker state for health reporting.
func (b *BreakerFeed) State() string { return b.breaker.GetState() }

func (b *BreakerFeed) Fetch(ctx context.Context) ([]models.EditRecord, error) {
	var edits []models.EditRecord
	err := b.breaker.Call(func() error {
		var ferr error
		edits, ferr = b.feed.Fetch(ctx)
		return ferr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		b.logger.Warn().Str("source", b.feed.Source()).Msg("Feed circuit open, skipping fetch")
		metrics.FeedFailuresTotal.WithLabelValues(b.feed.Source()).Inc()
		return nil, err
	}
	return edits, err
}
