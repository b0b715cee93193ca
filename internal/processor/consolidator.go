package processor

import (
	"cmp"
	"slices"
	"time"

	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

// DefaultConsolidationWindow is the gap under which consecutive reverts by
// one user on one article count as a single action.
const DefaultConsolidationWindow = 5 * time.Minute

// Consolidate merges each user's rapid consecutive reverts on an article
// into single actions. A new action starts at the first event of a
// partition and whenever the gap to the previous event exceeds window; a
// gap of exactly window stays in the same action. Vandalism reverts are
// ignored. Actions are ordered by first timestamp, then article, then user.
func Consolidate(events []models.RevertEvent, window time.Duration) []models.ConsolidatedAction {
	var actions []models.ConsolidatedAction

	for _, p := range partitionByArticleUser(events) {
		var prev time.Time
		for i, ts := range p.times {
			if i == 0 || ts.Sub(prev) > window {
				actions = append(actions, models.ConsolidatedAction{
					Article:     p.article,
					User:        p.user,
					FirstRevert: ts,
				})
			}
			actions[len(actions)-1].RawRevertCount++
			prev = ts
		}
	}

	slices.SortStableFunc(actions, func(a, b models.ConsolidatedAction) int {
		if c := a.FirstRevert.Compare(b.FirstRevert); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Article, b.Article); c != 0 {
			return c
		}
		return cmp.Compare(a.User, b.User)
	})
	return actions
}

// ActionsAsEvents turns consolidated actions back into one revert event per
// action, stamped with the action's first timestamp. Feeding these to
// DetectViolations counts actions rather than raw reverts.
func ActionsAsEvents(actions []models.ConsolidatedAction) []models.RevertEvent {
	out := make([]models.RevertEvent, 0, len(actions))
	for _, a := range actions {
		out = append(out, models.RevertEvent{
			Article:   a.Article,
			User:      a.User,
			Timestamp: a.FirstRevert,
		})
	}
	return out
}
