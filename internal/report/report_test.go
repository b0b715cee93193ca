package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

var at = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

func sampleCases() ([]models.ViolationCase, []models.MutualRevertCase) {
	return []models.ViolationCase{
			{Article: "Page", User: "Alice", LastRevert: at, RevertCount: 4},
		}, []models.MutualRevertCase{
			{Article: "Page", UserA: "Alice", UserB: "Bob", RevertsUserA: 2, RevertsUserB: 3, LastInteraction: at.Add(time.Hour)},
		}
}

func TestNewRenderer(t *testing.T) {
	for _, format := range []string{FormatText, FormatWikitext, FormatTable} {
		r, err := NewRenderer(format)
		require.NoError(t, err)
		assert.Equal(t, format, r.Format())
	}

	r, err := NewRenderer("")
	require.NoError(t, err)
	assert.Equal(t, FormatText, r.Format())

	_, err = NewRenderer("html")
	assert.Error(t, err)
}

func TestTextRenderer(t *testing.T) {
	v, m := sampleCases()
	out := TextRenderer{}.Render(v, m)

	assert.Equal(t, `== Possible 3RR violations ==
* Page: Alice made 4 reverts (last 2024-03-01 14:00 UTC)

== Mutual revert edit wars ==
* Page: Alice (2) <-> Bob (3), last interaction 2024-03-01 15:00 UTC
`, out)
}

func TestWikitextRenderer(t *testing.T) {
	v, m := sampleCases()
	out := WikitextRenderer{}.Render(v, m)

	assert.Contains(t, out, "== Possible 3RR violations ==\n{| class=\"wikitable sortable\"")
	assert.Contains(t, out, "| [[Page]] || {{user|Alice}} || 4 || 2024-03-01 14:00 UTC")
	assert.Contains(t, out, "| [[Page]] || {{user|Alice}} || 2 || {{user|Bob}} || 3 || 2024-03-01 15:00 UTC")
	assert.Equal(t, 2, strings.Count(out, "|}"))
	assert.NotContains(t, out, noneDetected)
}

func TestTableRenderer(t *testing.T) {
	v, m := sampleCases()
	out := TableRenderer{}.Render(v, m)

	assert.Contains(t, out, violationHeading)
	assert.Contains(t, out, mutualHeading)
	for _, want := range []string{"Article", "Last interaction", "Alice", "Bob", "2024-03-01 15:00 UTC"} {
		assert.Contains(t, out, want)
	}
}

func TestRenderers_EmptyReport(t *testing.T) {
	for _, format := range []string{FormatText, FormatWikitext, FormatTable} {
		t.Run(format, func(t *testing.T) {
			r, err := NewRenderer(format)
			require.NoError(t, err)

			out := r.Render(nil, nil)
			assert.Contains(t, out, violationHeading)
			assert.Contains(t, out, mutualHeading)
			assert.Equal(t, 2, strings.Count(out, noneDetected))
		})
	}
}
