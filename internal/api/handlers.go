package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

const (
	ErrCodeInvalidParameter   = "INVALID_PARAMETER"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status       string                          `json:"status"`
	Timestamp    string                          `json:"timestamp"`
	Uptime       int64                           `json:"uptime"`
	Version      string                          `json:"version,omitempty"`
	LastRunID    string                          `json:"last_run_id,omitempty"`
	StoredEvents int                             `json:"stored_events"`
	FeedBreaker  string                          `json:"feed_breaker,omitempty"`
	Features     map[string]config.FeatureStatus `json:"features,omitempty"`
}

// CasesResponse is the /cases payload.
type CasesResponse struct {
	RunID      string                    `json:"run_id"`
	DetectedAt time.Time                 `json:"detected_at"`
	Violations []models.ViolationCase    `json:"violations"`
	Mutual     []models.MutualRevertCase `json:"mutual"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleHealth reports "ok" once a run has completed, "starting" before
// that, and "degraded" while the feed circuit is open.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    int64(time.Since(s.startTime).Seconds()),
		Version:   s.opts.Version,
	}

	if last := s.results.LastResult(); last != nil {
		resp.LastRunID = last.RunID
		resp.StoredEvents = last.Stored
	} else {
		resp.Status = "starting"
	}
	if s.opts.BreakerState != nil {
		resp.FeedBreaker = s.opts.BreakerState()
		if resp.FeedBreaker == "open" {
			resp.Status = "degraded"
		}
	}
	if s.opts.Features != nil {
		resp.Features = s.opts.Features.Status()
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	last := s.results.LastResult()
	if last == nil {
		respondError(w, http.StatusServiceUnavailable, "no run has completed yet", ErrCodeServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Run-ID", last.RunID)
	_, _ = w.Write([]byte(last.Report))
}

// handleCases returns the latest findings, optionally narrowed by ?kind=
// and ?article=.
func (s *Server) handleCases(w http.ResponseWriter, r *http.Request) {
	last := s.results.LastResult()
	if last == nil || last.Findings == nil {
		respondError(w, http.StatusServiceUnavailable, "no run has completed yet", ErrCodeServiceUnavailable)
		return
	}

	kind := r.URL.Query().Get("kind")
	switch kind {
	case "", models.CaseKindViolation, models.CaseKindMutual:
	default:
		respondError(w, http.StatusBadRequest, "kind must be 3rr or mutual", ErrCodeInvalidParameter)
		return
	}
	article := r.URL.Query().Get("article")

	f := last.Findings
	resp := CasesResponse{
		RunID:      f.RunID,
		DetectedAt: f.DetectedAt,
		Violations: []models.ViolationCase{},
		Mutual:     []models.MutualRevertCase{},
	}
	if kind != models.CaseKindMutual {
		for _, v := range f.Violations {
			if article == "" || v.Article == article {
				resp.Violations = append(resp.Violations, v)
			}
		}
	}
	if kind != models.CaseKindViolation {
		for _, m := range f.Mutual {
			if article == "" || m.Article == article {
				resp.Mutual = append(resp.Mutual, m)
			}
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if kind != models.CaseKindViolation && kind != models.CaseKindMutual {
		respondError(w, http.StatusBadRequest, "kind must be 3rr or mutual", ErrCodeInvalidParameter)
		return
	}

	count := int64(20)
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "count must be between 1 and 500", ErrCodeInvalidParameter)
			return
		}
		count = n
	}

	alerts, err := s.opts.Alerts.GetRecentAlerts(r.Context(), kind, count)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", kind).Msg("Failed to read alerts")
		respondError(w, http.StatusServiceUnavailable, "alerts unavailable", ErrCodeServiceUnavailable)
		return
	}
	respondJSON(w, http.StatusOK, alerts)
}

// handleReverts reads stored history by exactly one of ?article=, ?user= or
// ?since= (RFC 3339). Vandalism reverts are included.
func (s *Server) handleReverts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	article, user, since := q.Get("article"), q.Get("user"), q.Get("since")

	set := 0
	for _, v := range []string{article, user, since} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		respondError(w, http.StatusBadRequest, "exactly one of article, user or since is required", ErrCodeInvalidParameter)
		return
	}

	var (
		events []models.RevertEvent
		err    error
	)
	switch {
	case article != "":
		events, err = s.opts.Reverts.QueryByArticle(r.Context(), article)
	case user != "":
		events, err = s.opts.Reverts.QueryByUser(r.Context(), user)
	default:
		ts, perr := time.Parse(time.RFC3339, since)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp", ErrCodeInvalidParameter)
			return
		}
		events, err = s.opts.Reverts.QuerySince(r.Context(), ts)
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query revert history")
		respondError(w, http.StatusInternalServerError, "failed to query revert history", ErrCodeInternalError)
		return
	}
	if events == nil {
		events = []models.RevertEvent{}
	}
	respondJSON(w, http.StatusOK, events)
}
