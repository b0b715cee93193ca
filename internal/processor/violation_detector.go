package processor

import (
	"cmp"
	"slices"
	"time"

	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

// Three-revert rule defaults.
const (
	DefaultViolationWindow    = 24 * time.Hour
	DefaultViolationThreshold = 3
)

// DetectViolations reports every (article, user) pair whose trailing
// rolling count reaches threshold. For each event at time t the count is the
// number of that pair's events in [t-window, t], both bounds inclusive.
// A pair is reported once, with the highest count and the latest timestamp
// at which that count was reached. Vandalism reverts are ignored.
// Cases are ordered by last revert, newest first.
func DetectViolations(events []models.RevertEvent, window time.Duration, threshold int) []models.ViolationCase {
	var cases []models.ViolationCase

	for _, p := range partitionByArticleUser(events) {
		if len(p.times) < threshold {
			continue
		}

		var (
			best   int
			bestAt time.Time
			lo     int
		)
		for hi, ts := range p.times {
			// events sharing a timestamp are all inside each other's window,
			// so only evaluate at the last of them
			if hi+1 < len(p.times) && p.times[hi+1].Equal(ts) {
				continue
			}
			for ts.Sub(p.times[lo]) > window {
				lo++
			}
			if n := hi - lo + 1; n >= best {
				best = n
				bestAt = ts
			}
		}

		if best >= threshold {
			cases = append(cases, models.ViolationCase{
				Article:     p.article,
				User:        p.user,
				LastRevert:  bestAt,
				RevertCount: best,
			})
		}
	}

	slices.SortStableFunc(cases, func(a, b models.ViolationCase) int {
		if c := b.LastRevert.Compare(a.LastRevert); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Article, b.Article); c != 0 {
			return c
		}
		return cmp.Compare(a.User, b.User)
	})
	return cases
}
