package processor

import (
	"strings"

	"github.com/Agnikulu/EditWarCatcher/internal/models"
	"github.com/rs/zerolog"
)

// Change tags set by MediaWiki's revert tools. High confidence.
var revertTagMarkers = []string{
	"mw-rollback",
	"mw-undo",
	"mw-reverted",
	"rollback",
	"revert",
}

// Edit summary wording that usually means a manual revert.
var revertSummaryKeywords = []string{
	"revert",
	"reverted",
	"undo",
	"undid",
	"rv",
	"restore",
	"restored",
}

// Summary wording for vandalism patrol. Such reverts are exempt from 3RR.
var vandalismKeywords = []string{
	"vandal",
	"vandalism",
	"rvv",
	"reverted vandalism",
	"undo vandalism",
	"test edit",
	"spam",
}

// Strategy is one way of recognising a revert or a vandalism revert.
// Implementations must be pure.
type Strategy interface {
	Name() string
	Match(edit *models.EditRecord) bool
}

// TagStrategy matches when any change tag contains one of Markers.
type TagStrategy struct {
	Markers []string
}

func (s TagStrategy) Name() string { return "tag" }

func (s TagStrategy) Match(edit *models.EditRecord) bool {
	for _, tag := range edit.Tags {
		if containsAny(tag, s.Markers) {
			return true
		}
	}
	return false
}

// SummaryStrategy matches when the edit summary contains one of Keywords.
type SummaryStrategy struct {
	Keywords []string
}

func (s SummaryStrategy) Name() string { return "summary" }

func (s SummaryStrategy) Match(edit *models.EditRecord) bool {
	return containsAny(edit.Comment, s.Keywords)
}

// ToolWordingStrategy matches a tool tag combined with summary wording,
// e.g. a rollback whose summary mentions vandalism.
type ToolWordingStrategy struct {
	TagMarker string
	Keyword   string
}

func (s ToolWordingStrategy) Name() string { return "tool+summary" }

func (s ToolWordingStrategy) Match(edit *models.EditRecord) bool {
	if !containsAny(edit.Comment, []string{s.Keyword}) {
		return false
	}
	for _, tag := range edit.Tags {
		if containsAny(tag, []string{s.TagMarker}) {
			return true
		}
	}
	return false
}

// Classifier decides whether an edit is a revert and whether that revert
// is vandalism patrol. Strategies are tried in order and the first match
// wins, so the tag strategy must stay ahead of the summary strategy.
type Classifier struct {
	revert    []Strategy
	vandalism []Strategy
	logger    zerolog.Logger
}

// NewClassifier creates a classifier from ordered strategy lists.
func NewClassifier(revert, vandalism []Strategy, logger zerolog.Logger) *Classifier {
	return &Classifier{
		revert:    revert,
		vandalism: vandalism,
		logger:    logger.With().Str("component", "revert-classifier").Logger(),
	}
}

// DefaultClassifier returns the tag-then-summary revert rules and the
// summary or rollback+"vandal" vandalism rules.
func DefaultClassifier(logger zerolog.Logger) *Classifier {
	return NewClassifier(
		[]Strategy{
			TagStrategy{Markers: revertTagMarkers},
			SummaryStrategy{Keywords: revertSummaryKeywords},
		},
		[]Strategy{
			SummaryStrategy{Keywords: vandalismKeywords},
			ToolWordingStrategy{TagMarker: "rollback", Keyword: "vandal"},
		},
		logger,
	)
}

var defaultClassifier = DefaultClassifier(zerolog.Nop())

// Classify runs the default rules over a single edit.
func Classify(edit models.EditRecord) models.ClassifiedEvent {
	return defaultClassifier.Classify(edit)
}

// Classify returns the edit with its verdict. It never fails: missing
// comment or tags simply match nothing.
func (c *Classifier) Classify(edit models.EditRecord) models.ClassifiedEvent {
	result := models.ClassifiedEvent{EditRecord: edit}

	result.RevertSignal = firstMatch(c.revert, &edit)
	result.IsRevert = result.RevertSignal != ""

	if result.IsRevert {
		result.VandalismSignal = firstMatch(c.vandalism, &edit)
		result.IsVandalismRevert = result.VandalismSignal != ""
	}

	c.logger.Debug().
		Str("article", edit.Title).
		Str("user", edit.User).
		Bool("revert", result.IsRevert).
		Str("revert_signal", result.RevertSignal).
		Bool("vandalism", result.IsVandalismRevert).
		Msg("Classified change")

	return result
}

// ClassifyAll classifies a batch, preserving order.
func (c *Classifier) ClassifyAll(edits []models.EditRecord) []models.ClassifiedEvent {
	out := make([]models.ClassifiedEvent, 0, len(edits))
	for _, e := range edits {
		out = append(out, c.Classify(e))
	}
	return out
}

func firstMatch(strategies []Strategy, edit *models.EditRecord) string {
	for _, s := range strategies {
		if s.Match(edit) {
			return s.Name()
		}
	}
	return ""
}

// containsAny is a case-insensitive substring check. Keywords are lowercase.
func containsAny(text string, keywords []string) bool {
	if text == "" {
		return false
	}
	text = strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
