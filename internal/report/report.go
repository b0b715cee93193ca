// Package report renders detected cases for humans. The wikitext format is
// what the bot would post on-wiki; text and table are for logs and terminals.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

const (
	FormatText     = "text"
	FormatWikitext = "wikitext"
	FormatTable    = "table"

	violationHeading = "Possible 3RR violations"
	mutualHeading    = "Mutual revert edit wars"
	noneDetected     = "None detected."

	timeLayout = "2006-01-02 15:04 UTC"
)

// Renderer turns one run's cases into a report. Empty inputs still yield a
// report with both sections.
type Renderer interface {
	Render(violations []models.ViolationCase, mutual []models.MutualRevertCase) string
	Format() string
}

// NewRenderer returns the renderer for format.
func NewRenderer(format string) (Renderer, error) {
	switch format {
	case FormatText, "":
		return TextRenderer{}, nil
	case FormatWikitext:
		return WikitextRenderer{}, nil
	case FormatTable:
		return TableRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// TextRenderer is the plain format used in logs and by default on stdout.
type TextRenderer struct{}

func (TextRenderer) Format() string { return FormatText }

func (TextRenderer) Render(violations []models.ViolationCase, mutual []models.MutualRevertCase) string {
	var b strings.Builder

	fmt.Fprintf(&b, "== %s ==\n", violationHeading)
	if len(violations) == 0 {
		b.WriteString(noneDetected + "\n")
	}
	for _, v := range violations {
		fmt.Fprintf(&b, "* %s: %s made %d reverts (last %s)\n",
			v.Article, v.User, v.RevertCount, formatTime(v.LastRevert))
	}

	fmt.Fprintf(&b, "\n== %s ==\n", mutualHeading)
	if len(mutual) == 0 {
		b.WriteString(noneDetected + "\n")
	}
	for _, m := range mutual {
		fmt.Fprintf(&b, "* %s: %s (%d) <-> %s (%d), last interaction %s\n",
			m.Article, m.UserA, m.RevertsUserA, m.UserB, m.RevertsUserB, formatTime(m.LastInteraction))
	}

	return b.String()
}
