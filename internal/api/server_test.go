package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/models"
	"github.com/Agnikulu/EditWarCatcher/internal/processor"
	"github.com/Agnikulu/EditWarCatcher/internal/storage"
)

var at = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

type staticResults struct{ result *processor.RunResult }

func (s staticResults) LastResult() *processor.RunResult { return s.result }

type stubAlerts struct {
	alerts []storage.Alert
	err    error
	kind   string
	count  int64
}

func (s *stubAlerts) GetRecentAlerts(ctx context.Context, kind string, count int64) ([]storage.Alert, error) {
	s.kind, s.count = kind, count
	return s.alerts, s.err
}

func sampleResult() *processor.RunResult {
	return &processor.RunResult{
		RunID:  "run-1",
		Stored: 7,
		Report: "== Possible 3RR violations ==\n* Page: Alice made 4 reverts\n",
		Findings: &models.Findings{
			RunID:      "run-1",
			DetectedAt: at,
			Violations: []models.ViolationCase{
				{Article: "Page", User: "Alice", LastRevert: at, RevertCount: 4},
				{Article: "Other", User: "Carol", LastRevert: at, RevertCount: 3},
			},
			Mutual: []models.MutualRevertCase{
				{Article: "Page", UserA: "Alice", UserB: "Bob", RevertsUserA: 4, RevertsUserB: 2, LastInteraction: at},
			},
		},
	}
}

func do(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	ff := config.NewFeatureFlags(zerolog.Nop())
	ff.RecordFailure(config.FeatureElasticsearchIndexing, errors.New("cluster down"))
	ff.DisableFeature(config.FeatureKafkaEvents, "dial tcp: connection refused")
	s := NewServer(staticResults{sampleResult()}, Options{
		Features:     ff,
		BreakerState: func() string { return "closed" },
		Version:      "test",
	}, zerolog.Nop())

	rec := do(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.LastRunID)
	assert.Equal(t, 7, resp.StoredEvents)
	assert.Equal(t, "closed", resp.FeedBreaker)
	assert.Equal(t, "test", resp.Version)
	assert.True(t, resp.Features[config.FeatureRedisAlerts].Enabled)

	es := resp.Features[config.FeatureElasticsearchIndexing]
	assert.True(t, es.Enabled)
	assert.Equal(t, 1, es.ConsecutiveFailures)
	assert.Equal(t, "cluster down", es.LastError)

	k := resp.Features[config.FeatureKafkaEvents]
	assert.False(t, k.Enabled)
	assert.Equal(t, "dial tcp: connection refused", k.DisabledReason)
	assert.NotNil(t, k.DisabledAt)
}

func TestHealth_StartingAndDegraded(t *testing.T) {
	s := NewServer(staticResults{}, Options{}, zerolog.Nop())
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(do(t, s, "/health").Body.Bytes(), &resp))
	assert.Equal(t, "starting", resp.Status)

	s = NewServer(staticResults{sampleResult()}, Options{BreakerState: func() string { return "open" }}, zerolog.Nop())
	require.NoError(t, json.Unmarshal(do(t, s, "/health").Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
}

func TestReport(t *testing.T) {
	s := NewServer(staticResults{sampleResult()}, Options{}, zerolog.Nop())
	rec := do(t, s, "/report")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", rec.Header().Get("X-Run-ID"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, rec.Body.String(), "Alice made 4 reverts")
}

func TestReport_NoRunYet(t *testing.T) {
	s := NewServer(staticResults{}, Options{}, zerolog.Nop())
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, "/report").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, "/cases").Code)
}

func TestCases(t *testing.T) {
	s := NewServer(staticResults{sampleResult()}, Options{}, zerolog.Nop())

	tests := []struct {
		path       string
		violations int
		mutual     int
	}{
		{"/cases", 2, 1},
		{"/cases?kind=3rr", 2, 0},
		{"/cases?kind=mutual", 0, 1},
		{"/cases?article=Page", 1, 1},
		{"/cases?kind=3rr&article=Nowhere", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, s, tt.path)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp CasesResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "run-1", resp.RunID)
			assert.Len(t, resp.Violations, tt.violations)
			assert.Len(t, resp.Mutual, tt.mutual)
		})
	}

	assert.Equal(t, http.StatusBadRequest, do(t, s, "/cases?kind=spam").Code)
}

func TestAlerts(t *testing.T) {
	alerts := &stubAlerts{alerts: []storage.Alert{{ID: "abc", Type: models.CaseKindViolation}}}
	s := NewServer(staticResults{sampleResult()}, Options{Alerts: alerts}, zerolog.Nop())

	rec := do(t, s, "/alerts/3rr?count=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3rr", alerts.kind)
	assert.Equal(t, int64(5), alerts.count)

	var got []storage.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(t, s, "/alerts/spam").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, "/alerts/mutual?count=0").Code)

	alerts.err = errors.New("redis down")
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, "/alerts/mutual").Code)
}

func TestAlerts_NotRoutedWithoutSource(t *testing.T) {
	s := NewServer(staticResults{sampleResult()}, Options{}, zerolog.Nop())
	assert.Equal(t, http.StatusNotFound, do(t, s, "/alerts/3rr").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer(staticResults{sampleResult()}, Options{}, zerolog.Nop())
	do(t, s, "/health")

	rec := do(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

type stubReverts struct {
	events []models.RevertEvent
	err    error
	query  string
}

func (s *stubReverts) QueryByArticle(ctx context.Context, article string) ([]models.RevertEvent, error) {
	s.query = "article=" + article
	return s.events, s.err
}

func (s *stubReverts) QueryByUser(ctx context.Context, user string) ([]models.RevertEvent, error) {
	s.query = "user=" + user
	return s.events, s.err
}

func (s *stubReverts) QuerySince(ctx context.Context, since time.Time) ([]models.RevertEvent, error) {
	s.query = "since=" + since.Format(time.RFC3339)
	return s.events, s.err
}

func TestReverts(t *testing.T) {
	reverts := &stubReverts{events: []models.RevertEvent{
		{Article: "Page", User: "Alice", RevID: 10, Timestamp: at},
	}}
	s := NewServer(staticResults{sampleResult()}, Options{Reverts: reverts}, zerolog.Nop())

	rec := do(t, s, "/reverts?article=Page")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "article=Page", reverts.query)

	var got []models.RevertEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(10), got[0].RevID)

	require.Equal(t, http.StatusOK, do(t, s, "/reverts?user=Alice").Code)
	assert.Equal(t, "user=Alice", reverts.query)

	require.Equal(t, http.StatusOK, do(t, s, "/reverts?since=2024-03-01T00:00:00Z").Code)
	assert.Equal(t, "since=2024-03-01T00:00:00Z", reverts.query)
}

func TestReverts_BadQueries(t *testing.T) {
	reverts := &stubReverts{}
	s := NewServer(staticResults{sampleResult()}, Options{Reverts: reverts}, zerolog.Nop())

	assert.Equal(t, http.StatusBadRequest, do(t, s, "/reverts").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, "/reverts?article=Page&user=Alice").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, "/reverts?since=yesterday").Code)

	rec := do(t, s, "/reverts?user=Nobody")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	reverts.err = errors.New("database is locked")
	assert.Equal(t, http.StatusInternalServerError, do(t, s, "/reverts?user=Alice").Code)
}

func TestReverts_NotRoutedWithoutSource(t *testing.T) {
	s := NewServer(staticResults{sampleResult()}, Options{}, zerolog.Nop())
	assert.Equal(t, http.StatusNotFound, do(t, s, "/reverts?user=Alice").Code)
}
