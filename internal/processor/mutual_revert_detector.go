package processor

import (
	"cmp"
	"slices"
	"time"

	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

// Mutual revert defaults.
const (
	DefaultMutualWindow  = 24 * time.Hour
	DefaultMutualMinEach = 2
)

// DetectMutualReverts finds pairs of distinct users reverting on the same
// article within window of each other. For a pair (A, B), RevertsUserA is
// the number of A's reverts within window of at least one of B's, and
// symmetrically for B. The pair is reported when both counts reach minEach.
// UserA always sorts before UserB so (A, B) and (B, A) are one case.
// Vandalism reverts are ignored. Cases are ordered by last interaction,
// newest first.
func DetectMutualReverts(events []models.RevertEvent, window time.Duration, minEach int) []models.MutualRevertCase {
	var cases []models.MutualRevertCase

	// partitions are sorted by article then user, so each article's users
	// form a contiguous, already-ordered run
	parts := partitionByArticleUser(events)
	for start := 0; start < len(parts); {
		end := start + 1
		for end < len(parts) && parts[end].article == parts[start].article {
			end++
		}

		users := parts[start:end]
		for i := 0; i < len(users); i++ {
			for j := i + 1; j < len(users); j++ {
				a, b := users[i], users[j]

				countA, lastA := hasPartnerWithin(a.times, b.times, window)
				countB, lastB := hasPartnerWithin(b.times, a.times, window)
				if countA == 0 || countB == 0 || countA < minEach || countB < minEach {
					continue
				}

				last := lastA
				if lastB.After(last) {
					last = lastB
				}
				cases = append(cases, models.MutualRevertCase{
					Article:         a.article,
					UserA:           a.user,
					UserB:           b.user,
					RevertsUserA:    countA,
					RevertsUserB:    countB,
					LastInteraction: last,
				})
			}
		}
		start = end
	}

	slices.SortStableFunc(cases, func(x, y models.MutualRevertCase) int {
		if c := y.LastInteraction.Compare(x.LastInteraction); c != 0 {
			return c
		}
		if c := cmp.Compare(x.Article, y.Article); c != 0 {
			return c
		}
		if c := cmp.Compare(x.UserA, y.UserA); c != 0 {
			return c
		}
		return cmp.Compare(x.UserB, y.UserB)
	})
	return cases
}
