package ingestor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/metrics"
	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

// drainIdle is how long the drain goroutine waits for a late event before
// giving up on an abandoned subscription.
const drainIdle = 5 * time.Second

// StreamClient samples Wikimedia EventStreams for a bounded window and
// returns the edits it saw. Stream events carry no change tags, so only
// summary wording can mark them as reverts.
type StreamClient struct {
	url         string
	userAgent   string
	wiki        string
	namespace   int
	limit       int
	window      time.Duration
	excludeBots bool
	logger      zerolog.Logger
}

// NewStreamClient creates an SSE feed from cfg.
func NewStreamClient(cfg *config.Feed, logger zerolog.Logger) *StreamClient {
	return &StreamClient{
		url:         cfg.StreamURL,
		userAgent:   UserAgent(cfg.Contact),
		wiki:        cfg.Wiki,
		namespace:   cfg.Namespace,
		limit:       cfg.Limit,
		window:      cfg.StreamWindow,
		excludeBots: !cfg.IncludeBots,
		logger:      logger.With().Str("component", "sse-client").Logger(),
	}
}

// Source names the feed in metrics.
func (s *StreamClient) Source() string { return "stream" }

// Fetch subscribes to the stream and collects edits until limit is reached
// or the window elapses. Failing to connect is an error; the window running
// out is not.
func (s *StreamClient) Fetch(ctx context.Context) ([]models.EditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.window)
	defer cancel()

	client := sse.NewClient(s.url)
	client.Headers = map[string]string{
		"Accept":     "text/event-stream",
		"User-Agent": s.userAgent,
	}
	// one connection per fetch; the next poll reconnects
	client.ReconnectStrategy = &backoff.StopBackOff{}

	events := make(chan *sse.Event, 256)
	if err := client.SubscribeChanWithContext(ctx, "", events); err != nil {
		return nil, fmt.Errorf("failed to subscribe to SSE stream: %w", err)
	}
	defer drain(events)

	s.logger.Info().Str("url", s.url).Dur("window", s.window).Msg("Sampling EventStreams")

	var edits []models.EditRecord
	for len(edits) < s.limit {
		select {
		case <-ctx.Done():
			s.logger.Info().Int("fetched", len(edits)).Msg("Stream window elapsed")
			return edits, nil
		case event := <-events:
			if edit, ok := s.parseEvent(event); ok {
				edits = append(edits, edit)
			}
		}
	}

	s.logger.Info().Int("fetched", len(edits)).Msg("Stream limit reached")
	return edits, nil
}

// parseEvent decodes and filters a single SSE event. Unreadable or
// out-of-scope events are skipped rather than failing the fetch.
func (s *StreamClient) parseEvent(event *sse.Event) (models.EditRecord, bool) {
	if event == nil || len(event.Data) == 0 {
		return models.EditRecord{}, false
	}

	var edit models.StreamEdit
	if err := json.Unmarshal(event.Data, &edit); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to parse edit JSON")
		return models.EditRecord{}, false
	}
	if err := edit.Validate(); err != nil {
		s.logger.Debug().Err(err).Int64("edit_id", edit.ID).Msg("Edit validation failed")
		return models.EditRecord{}, false
	}

	switch {
	case edit.Type != "edit":
		metrics.EditsFilteredTotal.WithLabelValues("type").Inc()
		return models.EditRecord{}, false
	case s.wiki != "" && edit.Wiki != s.wiki:
		metrics.EditsFilteredTotal.WithLabelValues("wiki").Inc()
		return models.EditRecord{}, false
	case s.namespace >= 0 && edit.Namespace != s.namespace:
		metrics.EditsFilteredTotal.WithLabelValues("namespace").Inc()
		return models.EditRecord{}, false
	case s.excludeBots && edit.Bot:
		metrics.EditsFilteredTotal.WithLabelValues("bot").Inc()
		return models.EditRecord{}, false
	}

	return edit.ToEditRecord(), true
}

// drain keeps reading from an abandoned subscription so the SSE goroutine
// never blocks on a full channel while its connection winds down.
func drain(events <-chan *sse.Event) {
	go func() {
		for {
			select {
			case <-events:
			case <-time.After(drainIdle):
				return
			}
		}
	}()
}
