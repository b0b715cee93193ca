package report

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/Agnikulu/EditWarCatcher/internal/models"
)

const wikitextTemplate = `== {{.ViolationHeading}} ==
{{- if .Violations}}
{| class="wikitable sortable"
! Article !! User !! Reverts !! Last revert
{{- range .Violations}}
|-
| [[{{.Article}}]] || {{"{{"}}user|{{.User}}{{"}}"}} || {{.RevertCount}} || {{when .LastRevert}}
{{- end}}
|}
{{- else}}
''{{.None}}''
{{- end}}

== {{.MutualHeading}} ==
{{- if .Mutual}}
{| class="wikitable sortable"
! Article !! User A !! Reverts !! User B !! Reverts !! Last interaction
{{- range .Mutual}}
|-
| [[{{.Article}}]] || {{"{{"}}user|{{.UserA}}{{"}}"}} || {{.RevertsUserA}} || {{"{{"}}user|{{.UserB}}{{"}}"}} || {{.RevertsUserB}} || {{when .LastInteraction}}
{{- end}}
|}
{{- else}}
''{{.None}}''
{{- end}}
`

var wikitext = template.Must(template.New("wikitext").
	Funcs(template.FuncMap{"when": formatTime}).
	Parse(wikitextTemplate))

type wikitextData struct {
	ViolationHeading string
	MutualHeading    string
	None             string
	Violations       []models.ViolationCase
	Mutual           []models.MutualRevertCase
}

// WikitextRenderer emits MediaWiki tables with article and user links.
type WikitextRenderer struct{}

func (WikitextRenderer) Format() string { return FormatWikitext }

func (WikitextRenderer) Render(violations []models.ViolationCase, mutual []models.MutualRevertCase) string {
	data := wikitextData{
		ViolationHeading: violationHeading,
		MutualHeading:    mutualHeading,
		None:             noneDetected,
		Violations:       violations,
		Mutual:           mutual,
	}

	var buf bytes.Buffer
	if err := wikitext.Execute(&buf, data); err != nil {
		// only reachable on a template bug; keep the report readable
		return "<!-- report rendering failed: " + strings.ReplaceAll(err.Error(), "--", "- -") + " -->\n"
	}
	return buf.String()
}
