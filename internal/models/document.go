package models

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Case kinds used in documents, alerts and metrics labels.
const (
	CaseKindViolation = "3rr"
	CaseKindMutual    = "mutual"
)

// CaseDocument is a detected case flattened for Elasticsearch indexing.
// The ID is derived from the case identity so re-detecting the same case on
// a later run overwrites the document instead of duplicating it.
type CaseDocument struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Article    string    `json:"article"`
	Users      []string  `json:"users"`
	Reverts    []int     `json:"reverts"`
	LastRevert time.Time `json:"last_revert"`
	Severity   string    `json:"severity"`
	RunID      string    `json:"run_id"`
	DetectedAt time.Time `json:"detected_at"`
}

// FromViolation builds the document for a 3RR case.
func FromViolation(v ViolationCase, threshold int, runID string, detectedAt time.Time) *CaseDocument {
	return &CaseDocument{
		ID:         caseID(CaseKindViolation, v.Article, v.LastRevert, v.User),
		Kind:       CaseKindViolation,
		Article:    v.Article,
		Users:      []string{v.User},
		Reverts:    []int{v.RevertCount},
		LastRevert: v.LastRevert.UTC(),
		Severity:   v.Severity(threshold),
		RunID:      runID,
		DetectedAt: detectedAt.UTC(),
	}
}

// FromMutual builds the document for a mutual revert case.
func FromMutual(m MutualRevertCase, runID string, detectedAt time.Time) *CaseDocument {
	return &CaseDocument{
		ID:         caseID(CaseKindMutual, m.Article, m.LastInteraction, m.UserA, m.UserB),
		Kind:       CaseKindMutual,
		Article:    m.Article,
		Users:      []string{m.UserA, m.UserB},
		Reverts:    []int{m.RevertsUserA, m.RevertsUserB},
		LastRevert: m.LastInteraction.UTC(),
		Severity:   m.Severity(),
		RunID:      runID,
		DetectedAt: detectedAt.UTC(),
	}
}

func caseID(kind, article string, at time.Time, users ...string) string {
	// usernames and titles may contain spaces and dashes but never NUL
	parts := append([]string{kind, article, strconv.FormatInt(at.Unix(), 10)}, users...)
	idStr := strings.Join(parts, "\x00")
	hash := sha256.Sum256([]byte(idStr))
	return fmt.Sprintf("%x", hash)[:16]
}

// MarshalJSON formats timestamps with milliseconds for Elasticsearch's
// strict_date_optional_time.
func (d *CaseDocument) MarshalJSON() ([]byte, error) {
	const esTime = "2006-01-02T15:04:05.000Z"
	return json.Marshal(&struct {
		ID         string   `json:"id"`
		Kind       string   `json:"kind"`
		Article    string   `json:"article"`
		Users      []string `json:"users"`
		Reverts    []int    `json:"reverts"`
		LastRevert string   `json:"last_revert"`
		Severity   string   `json:"severity"`
		RunID      string   `json:"run_id"`
		DetectedAt string   `json:"detected_at"`
	}{
		ID:         d.ID,
		Kind:       d.Kind,
		Article:    d.Article,
		Users:      d.Users,
		Reverts:    d.Reverts,
		LastRevert: d.LastRevert.UTC().Format(esTime),
		Severity:   d.Severity,
		RunID:      d.RunID,
		DetectedAt: d.DetectedAt.UTC().Format(esTime),
	})
}
