package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

// Alert is one case as it appears on a Redis stream.
type Alert struct {
	ID        string               `json:"id"`
	Type      string               `json:"type"`
	Timestamp time.Time            `json:"timestamp"`
	Case      *models.CaseDocument `json:"case"`
}

// RedisAlerts publishes detected cases onto Redis streams, one stream per
// case kind (alerts:3rr, alerts:mutual). A case already announced within the
// dedupe TTL is not published again, so serve mode does not repeat itself
// every tick.
type RedisAlerts struct {
	client    *redis.Client
	maxLen    int64
	dedupeTTL time.Duration
	logger    zerolog.Logger
}

// NewRedisAlerts creates a case publisher on client.
func NewRedisAlerts(client *redis.Client, maxLen int64, dedupeTTL time.Duration, logger zerolog.Logger) *RedisAlerts {
	return &RedisAlerts{
		client:    client,
		maxLen:    maxLen,
		dedupeTTL: dedupeTTL,
		logger:    logger.With().Str("component", "redis-alerts").Logger(),
	}
}

// Name identifies the sink in logs and metrics.
func (r *RedisAlerts) Name() string { return "redis" }

// StreamName returns the stream a case kind is published to.
func StreamName(kind string) string {
	return "alerts:" + kind
}

func seenKey(id string) string {
	return "alerts:seen:" + id
}

// PublishCases announces every new case in findings and returns how many
// were published.
func (r *RedisAlerts) PublishCases(ctx context.Context, findings *models.Findings) (int, error) {
	published := 0
	for _, doc := range caseDocuments(findings) {
		ok, err := r.publishOnce(ctx, doc)
		if err != nil {
			return published, err
		}
		if ok {
			published++
		}
	}
	if published > 0 {
		r.logger.Info().Int("published", published).Str("run_id", findings.RunID).Msg("Published case alerts")
	}
	return published, nil
}

// publishOnce claims the case's dedupe key and appends it to its stream. If
// the append fails the claim is released so a retry can publish it.
func (r *RedisAlerts) publishOnce(ctx context.Context, doc *models.CaseDocument) (bool, error) {
	claimed, err := r.client.SetNX(ctx, seenKey(doc.ID), doc.RunID, r.dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim alert %s: %w", doc.ID, err)
	}
	if !claimed {
		return false, nil
	}

	if err := r.publishAlert(ctx, doc); err != nil {
		r.client.Del(context.WithoutCancel(ctx), seenKey(doc.ID))
		return false, err
	}
	return true, nil
}

func (r *RedisAlerts) publishAlert(ctx context.Context, doc *models.CaseDocument) error {
	alert := Alert{
		ID:        doc.ID,
		Type:      doc.Kind,
		Timestamp: doc.DetectedAt,
		Case:      doc,
	}
	alertJSON, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	_, err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamName(doc.Kind),
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"alert_data": alertJSON,
			"type":       alert.Type,
			"article":    doc.Article,
			"severity":   doc.Severity,
			"timestamp":  alert.Timestamp.Unix(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add alert to stream: %w", err)
	}

	r.logger.Debug().Str("type", alert.Type).Str("article", doc.Article).Str("id", doc.ID).Msg("Published alert")
	return nil
}

// GetRecentAlerts returns up to count alerts of one kind, newest first.
func (r *RedisAlerts) GetRecentAlerts(ctx context.Context, kind string, count int64) ([]Alert, error) {
	result, err := r.client.XRevRangeN(ctx, StreamName(kind), "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent alerts: %w", err)
	}

	alerts := make([]Alert, 0, len(result))
	for _, message := range result {
		alert, err := parseAlertMessage(message)
		if err != nil {
			r.logger.Warn().Err(err).Str("message_id", message.ID).Msg("Skipping unreadable alert")
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func parseAlertMessage(message redis.XMessage) (Alert, error) {
	var alert Alert

	alertDataStr, exists := message.Values["alert_data"].(string)
	if !exists {
		return alert, fmt.Errorf("alert_data field missing from message")
	}
	if err := json.Unmarshal([]byte(alertDataStr), &alert); err != nil {
		return alert, fmt.Errorf("failed to unmarshal alert data: %w", err)
	}
	if alert.ID == "" {
		alert.ID = message.ID
	}
	return alert, nil
}

// caseDocuments flattens findings into documents, violations first.
func caseDocuments(f *models.Findings) []*models.CaseDocument {
	docs := make([]*models.CaseDocument, 0, len(f.Violations)+len(f.Mutual))
	for _, v := range f.Violations {
		docs = append(docs, models.FromViolation(v, f.Threshold, f.RunID, f.DetectedAt))
	}
	for _, m := range f.Mutual {
		docs = append(docs, models.FromMutual(m, f.RunID, f.DetectedAt))
	}
	return docs
}
