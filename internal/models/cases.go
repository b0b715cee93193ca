package models

import "time"

// ConsolidatedAction is a run of same-user, same-article reverts close
// enough together to count as one administrative action.
type ConsolidatedAction struct {
	Article        string    `json:"article"`
	User           string    `json:"user"`
	FirstRevert    time.Time `json:"first_revert"`
	RawRevertCount int       `json:"raw_revert_count"`
}

// ViolationCase is a possible three-revert-rule violation.
type ViolationCase struct {
	Article     string    `json:"article"`
	User        string    `json:"user"`
	LastRevert  time.Time `json:"last_revert"`
	RevertCount int       `json:"revert_count"`
}

// Severity grades a violation by how far past the threshold it went.
func (v ViolationCase) Severity(threshold int) string {
	over := v.RevertCount - threshold
	switch {
	case over >= 4:
		return "critical"
	case over >= 2:
		return "high"
	case over >= 1:
		return "medium"
	default:
		return "low"
	}
}

// MutualRevertCase is two users reverting each other on one article.
// UserA always sorts before UserB.
type MutualRevertCase struct {
	Article         string    `json:"article"`
	UserA           string    `json:"user_a"`
	UserB           string    `json:"user_b"`
	RevertsUserA    int       `json:"reverts_user_a"`
	RevertsUserB    int       `json:"reverts_user_b"`
	LastInteraction time.Time `json:"last_interaction"`
}

// Severity grades a mutual revert case by total reverts exchanged.
func (m MutualRevertCase) Severity() string {
	total := m.RevertsUserA + m.RevertsUserB
	switch {
	case total > 10:
		return "critical"
	case total > 5:
		return "high"
	case total > 4:
		return "medium"
	default:
		return "low"
	}
}

// Findings bundles one run's detection output for the publishers.
type Findings struct {
	RunID        string               `json:"run_id"`
	DetectedAt   time.Time            `json:"detected_at"`
	Consolidated []ConsolidatedAction `json:"consolidated"`
	Violations   []ViolationCase      `json:"violations"`
	Mutual       []MutualRevertCase   `json:"mutual"`
	// Threshold is the violation threshold the cases were detected with.
	Threshold int `json:"threshold"`
}
