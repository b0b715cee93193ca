package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/metrics"
	"github.com/Agnikulu/EditWarCatcher/internal/models"
	"github.com/Agnikulu/EditWarCatcher/internal/resilience"
)

// Feed yields a bounded batch of recent edits.
type Feed interface {
	Fetch(ctx context.Context) ([]models.EditRecord, error)
	Source() string
}

// EventStore is the append-only revert history.
type EventStore interface {
	Append(ctx context.Context, events []models.RevertEvent) (int, error)
	QueryNonVandalism(ctx context.Context) ([]models.RevertEvent, error)
	Count(ctx context.Context) (int, error)
}

// CasePublisher receives every run's detected cases.
type CasePublisher interface {
	Name() string
	PublishCases(ctx context.Context, findings *models.Findings) (int, error)
}

// EventPublisher receives the revert events a run stored.
type EventPublisher interface {
	Name() string
	PublishReverts(ctx context.Context, events []models.RevertEvent) (int, error)
}

// Renderer formats detected cases.
type Renderer interface {
	Render(violations []models.ViolationCase, mutual []models.MutualRevertCase) string
}

// RunResult summarizes one pipeline pass.
type RunResult struct {
	RunID     string
	Fetched   int
	Reverts   int
	Vandalism int
	Persisted int
	Stored    int
	Findings  *models.Findings
	Report    string
	Duration  time.Duration
}

type casePublisher struct {
	feature string
	CasePublisher
}

type eventPublisher struct {
	feature string
	EventPublisher
}

// Pipeline runs poll → classify → persist → detect → report → publish.
// Passes are sequential; a Pipeline is not meant to be run concurrently.
type Pipeline struct {
	feed       Feed
	store      EventStore
	renderer   Renderer
	classifier *Classifier
	detection  config.Detection
	features   *config.FeatureFlags
	retry      resilience.RetryConfig
	timeouts   resilience.TimeoutConfig
	now        func() time.Time
	logger     zerolog.Logger

	casePublishers  []casePublisher
	eventPublishers []eventPublisher

	mu   sync.Mutex
	last *RunResult
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClassifier replaces the default classifier.
func WithClassifier(c *Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// WithCasePublisher adds a case sink gated by the named feature flag.
func WithCasePublisher(feature string, pub CasePublisher) Option {
	return func(p *Pipeline) {
		p.casePublishers = append(p.casePublishers, casePublisher{feature: feature, CasePublisher: pub})
	}
}

// WithEventPublisher adds a revert event sink gated by the named feature flag.
func WithEventPublisher(feature string, pub EventPublisher) Option {
	return func(p *Pipeline) {
		p.eventPublishers = append(p.eventPublishers, eventPublisher{feature: feature, EventPublisher: pub})
	}
}

// WithFeatureFlags sets the flags that gate publishers.
func WithFeatureFlags(ff *config.FeatureFlags) Option {
	return func(p *Pipeline) { p.features = ff }
}

// WithRetry overrides the publisher retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(p *Pipeline) { p.retry = cfg }
}

// WithTimeouts overrides the store and publisher deadlines.
func WithTimeouts(cfg resilience.TimeoutConfig) Option {
	return func(p *Pipeline) { p.timeouts = cfg }
}

// WithClock overrides time.Now for detection timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline wires a pipeline. feed may be nil for detect-only use.
func NewPipeline(feed Feed, store EventStore, renderer Renderer, detection config.Detection, logger zerolog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		feed:      feed,
		store:     store,
		renderer:  renderer,
		detection: detection,
		retry:     resilience.RetryConfig{MaxAttempts: 3},
		timeouts:  resilience.DefaultTimeoutConfig(),
		now:       time.Now,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.classifier == nil {
		p.classifier = DefaultClassifier(logger)
	}
	if p.features == nil {
		p.features = config.NewFeatureFlags(logger)
	}
	return p
}

// Run performs one full pass. Feed failures degrade to an empty poll;
// persistence and detection failures abort the run.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	if p.feed == nil {
		return nil, fmt.Errorf("pipeline has no feed")
	}

	start := time.Now()
	runID := uuid.NewString()
	logger := p.logger.With().Str("run_id", runID).Logger()
	logger.Info().Str("source", p.feed.Source()).Msg("Starting run")

	result := &RunResult{RunID: runID}

	edits := p.fetch(ctx, logger)
	result.Fetched = len(edits)

	reverts := make([]models.RevertEvent, 0)
	for _, c := range p.classifier.ClassifyAll(edits) {
		ev, ok := c.ToRevertEvent()
		if !ok {
			continue
		}
		reverts = append(reverts, ev)
		if ev.IsVandalism {
			result.Vandalism++
		}
		metrics.RevertsClassifiedTotal.WithLabelValues(fmt.Sprintf("%t", ev.IsVandalism)).Inc()
	}
	result.Reverts = len(reverts)

	appendCtx, cancel := context.WithTimeout(ctx, p.timeouts.Store.Append)
	persisted, err := p.store.Append(appendCtx, reverts)
	cancel()
	if err != nil {
		metrics.RunsTotal.WithLabelValues("run", "error").Inc()
		return nil, fmt.Errorf("persist reverts: %w", err)
	}
	result.Persisted = persisted
	metrics.EventsPersistedTotal.Add(float64(persisted))
	logger.Info().
		Int("fetched", result.Fetched).
		Int("reverts", result.Reverts).
		Int("vandalism", result.Vandalism).
		Int("persisted", persisted).
		Msg("Persisted revert events")

	p.publishReverts(ctx, logger, reverts)

	if err := p.detect(ctx, logger, result); err != nil {
		metrics.RunsTotal.WithLabelValues("run", "error").Inc()
		return nil, err
	}

	p.finish("run", start, result, logger)
	return result, nil
}

// Detect skips the feed and reports over the stored history.
func (p *Pipeline) Detect(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := p.logger.With().Str("run_id", runID).Logger()

	result := &RunResult{RunID: runID}
	if err := p.detect(ctx, logger, result); err != nil {
		metrics.RunsTotal.WithLabelValues("detect", "error").Inc()
		return nil, err
	}

	p.finish("detect", start, result, logger)
	return result, nil
}

// LastResult returns the most recent successful pass, or nil.
func (p *Pipeline) LastResult() *RunResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Pipeline) fetch(ctx context.Context, logger zerolog.Logger) []models.EditRecord {
	source := p.feed.Source()
	fetchStart := time.Now()
	edits, err := p.feed.Fetch(ctx)
	metrics.FeedFetchDuration.WithLabelValues(source).Observe(time.Since(fetchStart).Seconds())
	if err != nil {
		metrics.FeedFailuresTotal.WithLabelValues(source).Inc()
		logger.Warn().Err(err).Str("source", source).Msg("Feed fetch failed, continuing with no new edits")
		return nil
	}
	metrics.EditsFetchedTotal.WithLabelValues(source).Add(float64(len(edits)))
	if len(edits) == 0 {
		logger.Warn().Str("source", source).Msg("No recent changes fetched")
	}
	return validEdits(edits, logger)
}

// validEdits drops records that could never be stored, so one incomplete
// record cannot fail the append for the rest of the poll.
func validEdits(edits []models.EditRecord, logger zerolog.Logger) []models.EditRecord {
	valid := edits[:0:0]
	for i := range edits {
		if err := edits[i].Validate(); err != nil {
			metrics.EditsFilteredTotal.WithLabelValues("invalid").Inc()
			logger.Warn().Err(err).Msg("Dropping incomplete edit record")
			continue
		}
		valid = append(valid, edits[i])
	}
	return valid
}

func (p *Pipeline) detect(ctx context.Context, logger zerolog.Logger, result *RunResult) error {
	queryCtx, cancel := context.WithTimeout(ctx, p.timeouts.Store.Query)
	defer cancel()

	events, err := p.store.QueryNonVandalism(queryCtx)
	if err != nil {
		return fmt.Errorf("load revert history: %w", err)
	}
	stored, err := p.store.Count(queryCtx)
	if err != nil {
		return fmt.Errorf("count revert history: %w", err)
	}
	result.Stored = stored
	metrics.StoredEvents.Set(float64(stored))

	d := p.detection
	consolidated := Consolidate(events, d.ConsolidationWindow)
	logger.Info().Int("events", len(events)).Int("actions", len(consolidated)).Msg("Consolidated revert actions")

	violationInput := events
	if d.CountConsolidated {
		violationInput = ActionsAsEvents(consolidated)
	}
	violations := DetectViolations(violationInput, d.ViolationWindow, d.ViolationThreshold)
	mutual := DetectMutualReverts(events, d.MutualWindow, d.MutualMinEach)

	metrics.CasesDetectedTotal.WithLabelValues(models.CaseKindViolation).Add(float64(len(violations)))
	metrics.CasesDetectedTotal.WithLabelValues(models.CaseKindMutual).Add(float64(len(mutual)))
	metrics.OpenCases.WithLabelValues(models.CaseKindViolation).Set(float64(len(violations)))
	metrics.OpenCases.WithLabelValues(models.CaseKindMutual).Set(float64(len(mutual)))
	logger.Info().
		Int("violations", len(violations)).
		Int("mutual", len(mutual)).
		Bool("count_consolidated", d.CountConsolidated).
		Msg("Detection complete")

	result.Findings = &models.Findings{
		RunID:        result.RunID,
		DetectedAt:   p.now().UTC(),
		Consolidated: consolidated,
		Violations:   violations,
		Mutual:       mutual,
		Threshold:    d.ViolationThreshold,
	}
	result.Report = p.renderer.Render(violations, mutual)

	p.publishCases(ctx, logger, result.Findings)
	return nil
}

func (p *Pipeline) finish(mode string, start time.Time, result *RunResult, logger zerolog.Logger) {
	result.Duration = time.Since(start)
	metrics.RunsTotal.WithLabelValues(mode, "success").Inc()
	metrics.RunDuration.WithLabelValues(mode).Observe(result.Duration.Seconds())
	metrics.LastRunTimestamp.WithLabelValues(mode).Set(float64(time.Now().Unix()))

	p.mu.Lock()
	p.last = result
	p.mu.Unlock()

	logger.Info().Dur("duration", result.Duration).Str("mode", mode).Msg("Run completed")
}

// publishCases fans findings out to the enabled case sinks. Failures are
// logged and counted, never returned: the store is the source of truth.
func (p *Pipeline) publishCases(ctx context.Context, logger zerolog.Logger, findings *models.Findings) {
	for _, pub := range p.casePublishers {
		pub := pub
		err := p.features.SafeExecute(pub.feature, func() error {
			return p.withRetry(ctx, logger, pub.Name(), func(ctx context.Context) error {
				n, err := pub.PublishCases(ctx, findings)
				if err != nil {
					return err
				}
				metrics.CasesPublishedTotal.WithLabelValues(pub.Name()).Add(float64(n))
				return nil
			})
		})
		p.recordSink(logger, pub.feature, pub.Name(), err)
	}
}

func (p *Pipeline) publishReverts(ctx context.Context, logger zerolog.Logger, events []models.RevertEvent) {
	if len(events) == 0 {
		return
	}
	for _, pub := range p.eventPublishers {
		pub := pub
		err := p.features.SafeExecute(pub.feature, func() error {
			return p.withRetry(ctx, logger, pub.Name(), func(ctx context.Context) error {
				_, err := pub.PublishReverts(ctx, events)
				return err
			})
		})
		p.recordSink(logger, pub.feature, pub.Name(), err)
	}
}

func (p *Pipeline) withRetry(ctx context.Context, logger zerolog.Logger, sink string, fn func(ctx context.Context) error) error {
	cfg := p.retry
	cfg.Logger = &logger
	cfg.OperationName = "publish " + sink
	timeout := p.timeouts.Publish.For(sink)
	return resilience.RetryWithBackoff(ctx, cfg, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(attemptCtx)
	})
}

// recordSink feeds a publish outcome into the sink's failure streak. A sink
// that keeps failing is switched off by the feature flags.
func (p *Pipeline) recordSink(logger zerolog.Logger, feature, sink string, err error) {
	if err == nil {
		p.features.RecordSuccess(feature)
		return
	}

	metrics.PublishErrorsTotal.WithLabelValues(sink).Inc()
	failures, disabled := p.features.RecordFailure(feature, err)
	logger.Error().Err(err).Str("sink", sink).Int("consecutive_failures", failures).Msg("Publish failed")
	if disabled {
		logger.Warn().Str("sink", sink).Str("feature", feature).Msg("Publisher switched off until restart")
	}
}
