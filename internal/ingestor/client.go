package ingestor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/metrics"
	"github.com/Agnikulu/EditWarCatcher/internal/models"
	"github.com/Agnikulu/EditWarCatcher/internal/resilience"
)

const (
	Version = "0.2"

	// DefaultRCProps are the recentchanges properties the classifier needs.
	DefaultRCProps = "title|ids|timestamp|user|comment|tags|flags"

	// DefaultRCTypes leaves out log and categorize entries, which have no
	// revision of their own.
	DefaultRCTypes = "edit|new"

	// maxPageSize is the API's rclimit ceiling for ordinary accounts.
	maxPageSize = 500
)

// UserAgent builds the User-Agent Wikimedia's API policy requires.
func UserAgent(contact string) string {
	if contact == "" {
		contact = "unset"
	}
	return fmt.Sprintf("EditWarCatcherBot/%s (contact: %s)", Version, contact)
}

// recentChangesResponse is the formatversion=2 query response.
type recentChangesResponse struct {
	Continue map[string]string `json:"continue"`
	Query    *struct {
		RecentChanges []models.EditRecord `json:"recentchanges"`
	} `json:"query"`
	Error *struct {
		Code string `json:"code"`
		Info string `json:"info"`
	} `json:"error"`
}

// RecentChangesClient polls list=recentchanges on a MediaWiki API.
type RecentChangesClient struct {
	httpClient  *http.Client
	apiURL      string
	userAgent   string
	limit       int
	namespace   int
	excludeBots bool
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

// NewRecentChangesClient creates an API feed from cfg.
func NewRecentChangesClient(cfg *config.Feed, timeouts resilience.FeedTimeouts, logger zerolog.Logger) *RecentChangesClient {
	if cfg.Timeout > 0 {
		timeouts.Fetch = cfg.Timeout
	}
	pageRate := rate.Limit(cfg.PageRate)
	if cfg.PageRate <= 0 {
		pageRate = rate.Inf
	}

	return &RecentChangesClient{
		httpClient:  timeouts.NewHTTPClient(),
		apiURL:      cfg.APIURL,
		userAgent:   UserAgent(cfg.Contact),
		limit:       cfg.Limit,
		namespace:   cfg.Namespace,
		excludeBots: !cfg.IncludeBots,
		timeout:     timeouts.Fetch,
		limiter:     rate.NewLimiter(pageRate, 1),
		logger:      logger.With().Str("component", "recentchanges-client").Logger(),
	}
}

// Source names the feed in metrics.
func (c *RecentChangesClient) Source() string { return "api" }

// Fetch returns up to limit recent changes, following rccontinue across
// pages. The whole fetch shares one timeout. Any failure, including a
// payload without query.recentchanges, is returned as an error and no
// records; callers treat that as an empty poll.
func (c *RecentChangesClient) Fetch(ctx context.Context) ([]models.EditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Info().Str("api_url", c.apiURL).Int("limit", c.limit).Msg("Fetching recent changes")

	var (
		edits        []models.EditRecord
		continuation map[string]string
		pages        int
	)
	for len(edits) < c.limit {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("page rate limiter: %w", err)
		}

		page, next, err := c.fetchPage(ctx, c.limit-len(edits), continuation)
		if err != nil {
			return nil, err
		}
		pages++

		for _, e := range page {
			if err := e.Validate(); err != nil {
				metrics.EditsFilteredTotal.WithLabelValues("invalid").Inc()
				c.logger.Debug().Err(err).Int64("revid", e.RevID).Msg("Dropping incomplete recent change")
				continue
			}
			if c.excludeBots && e.Bot {
				metrics.EditsFilteredTotal.WithLabelValues("bot").Inc()
				continue
			}
			edits = append(edits, e)
		}

		if len(next) == 0 {
			break
		}
		continuation = next
	}

	if len(edits) > c.limit {
		edits = edits[:c.limit]
	}

	c.logger.Info().Int("fetched", len(edits)).Int("pages", pages).Msg("Fetched recent changes")
	return edits, nil
}

func (c *RecentChangesClient) fetchPage(ctx context.Context, want int, continuation map[string]string) ([]models.EditRecord, map[string]string, error) {
	if want > maxPageSize {
		want = maxPageSize
	}

	params := url.Values{}
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("formatversion", "2")
	params.Set("list", "recentchanges")
	params.Set("rctype", DefaultRCTypes)
	params.Set("rcprop", DefaultRCProps)
	params.Set("rclimit", strconv.Itoa(want))
	if c.excludeBots {
		params.Set("rcshow", "!bot")
	}
	if c.namespace >= 0 {
		params.Set("rcnamespace", strconv.Itoa(c.namespace))
	}
	for k, v := range continuation {
		params.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request recent changes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body recentChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, nil, fmt.Errorf("failed to parse recent changes JSON: %w", err)
	}
	if body.Error != nil {
		return nil, nil, fmt.Errorf("api error %s: %s", body.Error.Code, body.Error.Info)
	}
	if body.Query == nil || body.Query.RecentChanges == nil {
		return nil, nil, fmt.Errorf("unexpected API response structure: missing query.recentchanges")
	}

	return body.Query.RecentChanges, body.Continue, nil
}
