package report

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"tagforge/internal/drift"
	"tagforge/internal/resolve"
	"tagforge/internal/tags"
)

var (
	colorSuccess = lipgloss.Color("#8BC34A")
	colorWarning = lipgloss.Color("#FFC107")
	colorDanger  = lipgloss.Color("#e53935")
	colorInfo    = lipgloss.Color("#2196F3")
	colorMuted   = lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#9ca3af"}
)

// Styles renders short status lines for the terminal.
type Styles struct {
	Title    lipgloss.Style
	AutoAdd  lipgloss.Style
	Manual   lipgloss.Style
	Dropped  lipgloss.Style
	Positive lipgloss.Style
	Negative lipgloss.Style
	Muted    lipgloss.Style
}

// DefaultStyles returns the standard palette.
func DefaultStyles() Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(colorInfo),
		AutoAdd:  lipgloss.NewStyle().Bold(true).Foreground(colorSuccess),
		Manual:   lipgloss.NewStyle().Foreground(colorWarning),
		Dropped:  lipgloss.NewStyle().Foreground(colorDanger),
		Positive: lipgloss.NewStyle().Foreground(colorSuccess),
		Negative: lipgloss.NewStyle().Foreground(colorDanger),
		Muted:    lipgloss.NewStyle().Foreground(colorMuted),
	}
}

// Suggestion renders one suggestion line, e.g. "+ api 0.80 [auto-add]".
func (s Styles) Suggestion(sg resolve.Suggestion) string {
	label := fmt.Sprintf("[%s]", sg.Action)
	switch sg.Action {
	case resolve.ActionAutoAdd:
		label = s.AutoAdd.Render(label)
	default:
		label = s.Manual.Render(label)
	}
	return fmt.Sprintf("+ %s %.2f %s", sg.Tag, sg.Confidence, label)
}

// DroppedTag renders a dropped-tag candidate line.
func (s Styles) DroppedTag(t tags.Tag) string {
	return s.Dropped.Render(fmt.Sprintf("- %s", t)) + " " + s.Muted.Render("(not detected)")
}

// Delta renders a signed count change.
func (s Styles) Delta(n int) string {
	switch {
	case n > 0:
		return s.Positive.Render(signed(n))
	case n < 0:
		return s.Negative.Render(signed(n))
	default:
		return s.Muted.Render("0")
	}
}

// Summary renders a compact multi-line terminal summary of a drift report.
func (s Styles) Summary(r *drift.Report) string {
	if r == nil {
		return ""
	}
	if r.Status == drift.StatusNoConfig {
		return s.Manual.Render(r.Message)
	}
	out := s.Title.Render("drift") + " "
	if r.HasDrift() {
		out += s.Manual.Render("changes proposed")
	} else {
		out += s.Positive.Render("up to date")
	}
	for _, sg := range r.NewTagSuggestions {
		out += "\n  " + s.Suggestion(sg)
	}
	for _, t := range r.DroppedTagCandidates {
		out += "\n  " + s.DroppedTag(t)
	}
	if r.TierChange != nil {
		out += fmt.Sprintf("\n  tier %s -> %s", r.TierChange.From, r.TierChange.To)
	}
	return out
}
