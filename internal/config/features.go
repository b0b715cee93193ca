package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Publisher features. Each names one optional downstream sink.
const (
	FeatureRedisAlerts           = "redis_alerts"
	FeatureElasticsearchIndexing = "elasticsearch_indexing"
	FeatureKafkaEvents           = "kafka_events"
)

// DefaultMaxFailures is how many runs in a row a publisher may fail before
// it is switched off.
const DefaultMaxFailures = 5

// AllFeatures returns the list of known feature names.
func AllFeatures() []string {
	return []string{
		FeatureRedisAlerts,
		FeatureElasticsearchIndexing,
		FeatureKafkaEvents,
	}
}

// FeatureStatus is one publisher's state as reported on /health.
type FeatureStatus struct {
	Enabled             bool       `json:"enabled"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	DisabledReason      string     `json:"disabled_reason,omitempty"`
	DisabledAt          *time.Time `json:"disabled_at,omitempty"`
}

// FeatureFlags switches the optional publishers on and off. A publisher is
// switched off when it cannot connect at startup, or when it fails
// maxFailures runs in a row; it stays off until the process restarts.
// All methods are goroutine-safe.
type FeatureFlags struct {
	mu          sync.RWMutex
	states      map[string]*FeatureStatus
	maxFailures int
	now         func() time.Time
	logger      zerolog.Logger
}

var (
	featureEnabled = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feature_flag_enabled",
		Help: "Current state of feature flags (1=enabled, 0=disabled)",
	}, []string{"feature"})

	featureFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feature_consecutive_failures",
		Help: "Runs in a row in which a publisher failed",
	}, []string{"feature"})

	featureDisables = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feature_flag_disable_total",
		Help: "Number of times a feature flag was disabled",
	}, []string{"feature"})

	registerFeatureMetrics sync.Once
)

// NewFeatureFlags enables every known feature with the default failure
// limit.
func NewFeatureFlags(logger zerolog.Logger) *FeatureFlags {
	registerFeatureMetrics.Do(func() {
		for _, c := range []prometheus.Collector{featureEnabled, featureFailures, featureDisables} {
			var are prometheus.AlreadyRegisteredError
			if err := prometheus.Register(c); err != nil && !errors.As(err, &are) {
				logger.Warn().Err(err).Msg("Failed to register feature flag metrics")
			}
		}
	})

	ff := &FeatureFlags{
		states:      make(map[string]*FeatureStatus),
		maxFailures: DefaultMaxFailures,
		now:         time.Now,
		logger:      logger.With().Str("component", "feature-flags").Logger(),
	}
	for _, f := range AllFeatures() {
		ff.states[f] = &FeatureStatus{Enabled: true}
		featureEnabled.WithLabelValues(f).Set(1)
		featureFailures.WithLabelValues(f).Set(0)
	}
	return ff
}

// NewFeatureFlagsFromConfig applies the features section: publishers not
// asked for start disabled.
func NewFeatureFlagsFromConfig(cfg *Features, logger zerolog.Logger) *FeatureFlags {
	ff := NewFeatureFlags(logger)
	if cfg.MaxFailures > 0 {
		ff.maxFailures = cfg.MaxFailures
	}

	wanted := map[string]bool{
		FeatureRedisAlerts:           cfg.RedisAlerts,
		FeatureElasticsearchIndexing: cfg.ElasticsearchIndexing,
		FeatureKafkaEvents:           cfg.KafkaEvents,
	}
	for f, on := range wanted {
		if !on {
			ff.states[f].Enabled = false
			ff.states[f].DisabledReason = "not enabled in config"
			featureEnabled.WithLabelValues(f).Set(0)
		}
	}
	return ff
}

// MaxFailures returns the consecutive failure limit.
func (ff *FeatureFlags) MaxFailures() int {
	return ff.maxFailures
}

// IsEnabled reports whether a feature is on. Unknown features are off.
func (ff *FeatureFlags) IsEnabled(feature string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	st, ok := ff.states[feature]
	return ok && st.Enabled
}

// DisableFeature switches a feature off and records why.
func (ff *FeatureFlags) DisableFeature(feature, reason string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.disableLocked(feature, reason)
}

func (ff *FeatureFlags) disableLocked(feature, reason string) {
	st, ok := ff.states[feature]
	if !ok || !st.Enabled {
		return
	}
	at := ff.now().UTC()
	st.Enabled = false
	st.DisabledReason = reason
	st.DisabledAt = &at

	ff.logger.Warn().
		Str("feature", feature).
		Str("reason", reason).
		Msg("Feature disabled")
	featureDisables.WithLabelValues(feature).Inc()
	featureEnabled.WithLabelValues(feature).Set(0)
}

// RecordSuccess clears a publisher's failure streak.
func (ff *FeatureFlags) RecordSuccess(feature string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	st, ok := ff.states[feature]
	if !ok || !st.Enabled {
		return
	}
	st.ConsecutiveFailures = 0
	st.LastError = ""
	featureFailures.WithLabelValues(feature).Set(0)
}

// RecordFailure extends a publisher's failure streak and switches the
// feature off once the streak reaches the limit. It returns the streak
// length and whether this call disabled the feature.
func (ff *FeatureFlags) RecordFailure(feature string, err error) (int, bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	st, ok := ff.states[feature]
	if !ok || !st.Enabled {
		return 0, false
	}
	st.ConsecutiveFailures++
	st.LastError = err.Error()
	featureFailures.WithLabelValues(feature).Set(float64(st.ConsecutiveFailures))

	if st.ConsecutiveFailures < ff.maxFailures {
		return st.ConsecutiveFailures, false
	}
	ff.disableLocked(feature, fmt.Sprintf("%d consecutive publish failures", st.ConsecutiveFailures))
	return st.ConsecutiveFailures, true
}

// SafeExecute runs fn only when the feature is enabled; otherwise it is a
// no-op returning nil. A panic inside fn comes back as an error.
func (ff *FeatureFlags) SafeExecute(feature string, fn func() error) (err error) {
	if !ff.IsEnabled(feature) {
		ff.logger.Debug().
			Str("feature", feature).
			Msg("Skipping execution, feature disabled")
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in feature %s: %v", feature, r)
			ff.logger.Error().
				Str("feature", feature).
				Interface("panic", r).
				Msg("Panic recovered in SafeExecute")
		}
	}()
	return fn()
}

// Status returns a copy of every feature's state.
func (ff *FeatureFlags) Status() map[string]FeatureStatus {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	out := make(map[string]FeatureStatus, len(ff.states))
	for f, st := range ff.states {
		cp := *st
		if st.DisabledAt != nil {
			at := *st.DisabledAt
			cp.DisabledAt = &at
		}
		out[f] = cp
	}
	return out
}
