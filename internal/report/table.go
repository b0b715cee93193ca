package report

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// TableRenderer draws bordered tables for terminals.
type TableRenderer struct{}

func (TableRenderer) Format() string { return FormatTable }

func (TableRenderer) Render(violations []models.ViolationCase, mutual []models.MutualRevertCase) string {
	var b strings.Builder

	b.WriteString(headingStyle.Render(violationHeading) + "\n")
	if len(violations) == 0 {
		b.WriteString(noneDetected + "\n")
	} else {
		rows := make([][]string, 0, len(violations))
		for _, v := range violations {
			rows = append(rows, []string{v.Article, v.User, strconv.Itoa(v.RevertCount), formatTime(v.LastRevert)})
		}
		b.WriteString(newTable([]string{"Article", "User", "Reverts", "Last revert"}, rows) + "\n")
	}

	b.WriteString("\n" + headingStyle.Render(mutualHeading) + "\n")
	if len(mutual) == 0 {
		b.WriteString(noneDetected + "\n")
	} else {
		rows := make([][]string, 0, len(mutual))
		for _, m := range mutual {
			rows = append(rows, []string{
				m.Article,
				m.UserA, strconv.Itoa(m.RevertsUserA),
				m.UserB, strconv.Itoa(m.RevertsUserB),
				formatTime(m.LastInteraction),
			})
		}
		b.WriteString(newTable([]string{"Article", "User A", "Reverts", "User B", "Reverts", "Last interaction"}, rows) + "\n")
	}

	return b.String()
}

func newTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}
