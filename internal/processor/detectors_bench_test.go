package processor

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

// benchEvents spreads n reverts over a week across articles and users, with
// a few hot articles so windows actually fill up.
func benchEvents(n int) []models.RevertEvent {
	rng := rand.New(rand.NewSource(42))
	events := make([]models.RevertEvent, n)
	for i := range events {
		article := fmt.Sprintf("Article_%d", rng.Intn(n/20+1))
		if rng.Intn(4) == 0 {
			article = fmt.Sprintf("Hot_%d", rng.Intn(5))
		}
		events[i] = models.RevertEvent{
			Article:   article,
			User:      fmt.Sprintf("User_%d", rng.Intn(50)),
			RevID:     int64(i + 1),
			Timestamp: t0.Add(time.Duration(rng.Int63n(int64(7 * 24 * time.Hour)))),
		}
	}
	return events
}

func BenchmarkConsolidate(b *testing.B) {
	for _, n := range []int{1000, 10000} {
		events := benchEvents(n)
		b.Run(fmt.Sprintf("events=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				Consolidate(events, DefaultConsolidationWindow)
			}
		})
	}
}

func BenchmarkDetectViolations(b *testing.B) {
	for _, n := range []int{1000, 10000} {
		events := benchEvents(n)
		b.Run(fmt.Sprintf("events=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				DetectViolations(events, DefaultViolationWindow, DefaultViolationThreshold)
			}
		})
	}
}

func BenchmarkDetectMutualReverts(b *testing.B) {
	for _, n := range []int{1000, 10000} {
		events := benchEvents(n)
		b.Run(fmt.Sprintf("events=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				DetectMutualReverts(events, DefaultMutualWindow, DefaultMutualMinEach)
			}
		})
	}
}

func BenchmarkClassifyAll(b *testing.B) {
	edits := make([]models.EditRecord, 1000)
	comments := []string{"copyedit", "Undid revision 5 by X", "rvv", "Reverted edits by Y", "added ref"}
	for i := range edits {
		edits[i] = models.EditRecord{Title: "Page", User: "U", RevID: int64(i), Comment: comments[i%len(comments)]}
		if i%7 == 0 {
			edits[i].Tags = []string{"mw-rollback"}
		}
	}
	c := DefaultClassifier(zerolog.Nop())

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.ClassifyAll(edits)
	}
}
