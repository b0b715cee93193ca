package ingestor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/models"
	"github.com/Agnikulu/EditWarCatcher/internal/resilience"
)

type stubFeed struct {
	calls int
	err   error
	edits []models.EditRecord
}

func (s *stubFeed) Source() string { return "stub" }

func (s *stubFeed) Fetch(ctx context.Context) ([]models.EditRecord, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.edits, nil
}

func TestNewFeed(t *testing.T) {
	timeouts := resilience.DefaultTimeoutConfig().Feed

	f, err := NewFeed(&config.Feed{Source: "api"}, timeouts, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "api", f.Source())

	f, err = NewFeed(&config.Feed{Source: "stream"}, timeouts, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "stream", f.Source())

	_, err = NewFeed(&config.Feed{Source: "irc"}, timeouts, zerolog.Nop())
	assert.Error(t, err)
}

func TestBreakerFeed_PassesThrough(t *testing.T) {
	stub := &stubFeed{edits: []models.EditRecord{{Title: "Page", User: "Alice"}}}
	feed := NewBreakerFeed(stub, 2, time.Minute, zerolog.Nop())

	edits, err := feed.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, edits, 1)
	assert.Equal(t, "stub", feed.Source())
	assert.Equal(t, "closed", feed.State())
}

func TestBreakerFeed_OpensAfterFailures(t *testing.T) {
	stub := &stubFeed{err: errors.New("api down")}
	feed := NewBreakerFeed(stub, 2, time.Minute, zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := feed.Fetch(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api down")
	}
	assert.Equal(t, "open", feed.State())

	_, err := feed.Fetch(context.Background())
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, stub.calls, "open circuit must not reach the feed")
}

func TestBreakerFeed_RecoversAfterCooldown(t *testing.T) {
	stub := &stubFeed{err: errors.New("api down")}
	feed := NewBreakerFeed(stub, 1, 20*time.Millisecond, zerolog.Nop())

	_, err := feed.Fetch(context.Background())
	require.Error(t, err)
	assert.Equal(t, "open", feed.State())

	time.Sleep(40 * time.Millisecond)
	stub.err = nil
	_, err = feed.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "closed", feed.State())
}
