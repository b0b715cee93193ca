package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog"

	"github.com/Agnikulu/EditWarCatcher/internal/config"
	"github.com/Agnikulu/EditWarCatcher/internal/models"
	"github.com/Agnikulu/EditWarCatcher/internal/resilience"
)

// ElasticsearchClient indexes detected cases so they can be searched across
// runs. Document IDs are derived from the case, so a case found again on a
// later run overwrites its document.
type ElasticsearchClient struct {
	client *elasticsearch.Client
	index  string
	logger zerolog.Logger
}

// BulkOperation represents a single bulk operation
type BulkOperation struct {
	Index *BulkIndex `json:"index,omitempty"`
}

type BulkIndex struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// caseMappings is the index mapping for CaseDocument.
var caseMappings = map[string]interface{}{
	"settings": map[string]interface{}{
		"number_of_shards":   1,
		"number_of_replicas": 0,
	},
	"mappings": map[string]interface{}{
		"properties": map[string]interface{}{
			"id":      map[string]interface{}{"type": "keyword"},
			"kind":    map[string]interface{}{"type": "keyword"},
			"article": map[string]interface{}{"type": "text", "fields": map[string]interface{}{"keyword": map[string]interface{}{"type": "keyword"}}},
			"users":   map[string]interface{}{"type": "keyword"},
			"reverts": map[string]interface{}{"type": "integer"},
			"last_revert": map[string]interface{}{
				"type":   "date",
				"format": "yyyy-MM-dd'T'HH:mm:ss.SSS'Z'",
			},
			"severity": map[string]interface{}{"type": "keyword"},
			"run_id":   map[string]interface{}{"type": "keyword"},
			"detected_at": map[string]interface{}{
				"type":   "date",
				"format": "yyyy-MM-dd'T'HH:mm:ss.SSS'Z'",
			},
		},
	},
}

// NewElasticsearchClient connects to cfg.URL, verifies the cluster answers
// and makes sure the case index exists.
func NewElasticsearchClient(ctx context.Context, cfg *config.Elasticsearch, logger zerolog.Logger) (*ElasticsearchClient, error) {
	esConfig := elasticsearch.Config{Addresses: []string{cfg.URL}}
	resilience.DefaultElasticsearchPoolConfig().Apply(&esConfig)

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := client.Ping(client.Ping.WithContext(pingCtx))
	if err != nil {
		return nil, fmt.Errorf("failed to ping ES: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("ES ping failed with status: %s", res.Status())
	}

	es := &ElasticsearchClient{
		client: client,
		index:  cfg.Index,
		logger: logger.With().Str("component", "es-cases").Str("index", cfg.Index).Logger(),
	}

	if err := es.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	return es, nil
}

// Name identifies the sink in logs and metrics.
func (es *ElasticsearchClient) Name() string { return "elasticsearch" }

// EnsureIndex creates the case index with its mapping. An existing index is
// left alone.
func (es *ElasticsearchClient) EnsureIndex(ctx context.Context) error {
	body, _ := json.Marshal(caseMappings)
	req := esapi.IndicesCreateRequest{
		Index: es.index,
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(ctx, es.client)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", es.index, err)
	}
	defer res.Body.Close()

	// 400 is resource_already_exists_exception
	if res.IsError() && res.StatusCode != 400 {
		return fmt.Errorf("failed to create index %s, status: %s", es.index, res.Status())
	}
	return nil
}

// PublishCases bulk-indexes every case in findings. Rejected documents make
// the call fail; a 4xx rejection is marked non-retryable.
func (es *ElasticsearchClient) PublishCases(ctx context.Context, findings *models.Findings) (int, error) {
	docs := caseDocuments(findings)
	if len(docs) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		meta := BulkOperation{Index: &BulkIndex{Index: es.index, ID: doc.ID}}
		metaJSON, _ := json.Marshal(meta)
		buf.Write(metaJSON)
		buf.WriteByte('\n')

		docJSON, err := json.Marshal(doc)
		if err != nil {
			return 0, fmt.Errorf("marshal case %s: %w", doc.ID, err)
		}
		buf.Write(docJSON)
		buf.WriteByte('\n')
	}

	res, err := es.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		es.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk index cases: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		err := fmt.Errorf("bulk index cases: status %s", res.Status())
		if res.StatusCode >= 400 && res.StatusCode < 500 && res.StatusCode != 429 {
			return 0, resilience.NewNonRetryableError(err)
		}
		return 0, err
	}

	var bulkResponse struct {
		Errors bool                                `json:"errors"`
		Items  []map[string]map[string]interface{} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResponse); err != nil {
		return 0, fmt.Errorf("failed to parse bulk response: %w", err)
	}

	successCount, errorCount, clientErrors := 0, 0, 0
	for _, item := range bulkResponse.Items {
		for _, op := range item {
			status, _ := op["status"].(float64)
			if status > 0 && status < 300 {
				successCount++
				continue
			}
			errorCount++
			if status >= 400 && status < 500 && status != 429 {
				clientErrors++
			}
			es.logger.Warn().Interface("error", op["error"]).Float64("status", status).Msg("Case indexing error")
		}
	}

	es.logger.Info().Int("indexed", successCount).Int("errors", errorCount).Msg("Bulk indexed cases")

	if errorCount > 0 {
		err := fmt.Errorf("bulk index cases: %d of %d documents rejected", errorCount, len(docs))
		if clientErrors == errorCount {
			return successCount, resilience.NewNonRetryableError(err)
		}
		return successCount, err
	}
	return successCount, nil
}
