package processor

import (
	"cmp"
	"slices"
	"time"

	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

// partition holds the sorted revert timestamps of one user on one article.
type partition struct {
	article string
	user    string
	times   []time.Time
}

type partitionKey struct {
	article string
	user    string
}

// partitionByArticleUser groups non-vandalism events by (article, user).
// Partitions come back ordered by article then user and each timestamp
// slice is ascending, so callers see the same order for any input order.
func partitionByArticleUser(events []models.RevertEvent) []partition {
	index := make(map[partitionKey]int)
	var parts []partition

	for _, e := range events {
		if e.IsVandalism {
			continue
		}
		k := partitionKey{article: e.Article, user: e.User}
		i, ok := index[k]
		if !ok {
			i = len(parts)
			index[k] = i
			parts = append(parts, partition{article: e.Article, user: e.User})
		}
		parts[i].times = append(parts[i].times, e.Timestamp)
	}

	for i := range parts {
		slices.SortFunc(parts[i].times, func(a, b time.Time) int { return a.Compare(b) })
	}
	slices.SortFunc(parts, func(a, b partition) int {
		if c := cmp.Compare(a.article, b.article); c != 0 {
			return c
		}
		return cmp.Compare(a.user, b.user)
	})
	return parts
}

// hasPartnerWithin counts the timestamps in xs that lie within window of at
// least one timestamp in ys (both ascending, bounds inclusive). It also
// returns the latest such timestamp.
func hasPartnerWithin(xs, ys []time.Time, window time.Duration) (int, time.Time) {
	var (
		count int
		last  time.Time
		j     int
	)
	for _, x := range xs {
		lower := x.Add(-window)
		for j < len(ys) && ys[j].Before(lower) {
			j++
		}
		if j < len(ys) && !ys[j].After(x.Add(window)) {
			count++
			last = x
		}
	}
	return count, last
}
