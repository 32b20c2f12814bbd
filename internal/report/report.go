// Package report renders compositions, drift reports and history listings
// as Markdown, and Markdown for the terminal.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"tagforge/internal/compose"
	"tagforge/internal/drift"
	"tagforge/internal/fragment"
	"tagforge/internal/history"
	"tagforge/internal/tags"
)

// Formats accepted by the CLI's --format flag.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatTerminal = "terminal"
)

// Formats lists the output formats.
func Formats() []string {
	return []string{FormatMarkdown, FormatJSON, FormatTerminal}
}

// Markdown renders a drift report.
func Markdown(r *drift.Report) string {
	var b strings.Builder
	b.WriteString("# Drift report\n\n")
	if r == nil {
		b.WriteString("_No report._\n")
		return b.String()
	}
	if r.Status == drift.StatusNoConfig {
		fmt.Fprintf(&b, "**Status:** %s\n\n%s\n", r.Status, r.Message)
		return b.String()
	}

	fmt.Fprintf(&b, "**Status:** %s", r.Status)
	if !r.HasDrift() {
		b.WriteString(" (no drift)")
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "- Current tags: %s\n", codeList(r.CurrentTags))
	fmt.Fprintf(&b, "- Proposed tags: %s\n", codeList(r.ProposedTags))
	if r.TierChange != nil {
		fmt.Fprintf(&b, "- Tier: %s -> %s\n", r.TierChange.From, r.TierChange.To)
	} else if r.Proposed != nil {
		fmt.Fprintf(&b, "- Tier: %s\n", r.Proposed.Tier)
	}

	if len(r.NewTagSuggestions) > 0 {
		b.WriteString("\n## Suggested tags\n\n")
		b.WriteString("| Tag | Confidence | Action | Evidence |\n")
		b.WriteString("|-----|-----------:|--------|----------|\n")
		for _, s := range r.NewTagSuggestions {
			fmt.Fprintf(&b, "| %s | %.2f | %s | %s |\n", s.Tag, s.Confidence, s.Action, escapeCell(strings.Join(s.Evidence, "; ")))
		}
	}

	if len(r.DroppedTagCandidates) > 0 {
		b.WriteString("\n## Dropped tag candidates\n\n")
		for _, t := range r.DroppedTagCandidates {
			fmt.Fprintf(&b, "- `%s` (no longer detected)\n", t)
		}
	}

	if len(r.FragmentCountDelta) > 0 {
		b.WriteString("\n## Fragment counts\n\n")
		b.WriteString("| Kind | Before | After | Delta |\n")
		b.WriteString("|------|-------:|------:|------:|\n")
		for _, k := range fragment.Kinds() {
			d, ok := r.FragmentCountDelta[k]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "| %s | %d | %d | %s |\n", k, d.Before, d.After, signed(d.Delta))
		}
	}

	if len(r.Rejected) > 0 {
		b.WriteString("\n## Rejected detections\n\n")
		for _, msg := range r.Rejected {
			fmt.Fprintf(&b, "- %s\n", msg)
		}
	}
	return b.String()
}

// ComposeMarkdown renders a composition as a single Markdown document.
func ComposeMarkdown(res *compose.Result) string {
	var b strings.Builder
	b.WriteString("# Composition\n\n")
	if res == nil {
		b.WriteString("_Nothing composed._\n")
		return b.String()
	}
	fmt.Fprintf(&b, "- Tags: %s\n- Tier: %s\n", codeList(res.Tags), res.Tier)
	if len(res.MissingTags) > 0 {
		fmt.Fprintf(&b, "- Tags without fragments: %s\n", codeList(res.MissingTags))
	}

	if len(res.Instructions) > 0 {
		b.WriteString("\n## Instructions\n")
		for _, blk := range res.Instructions {
			writeBlock(&b, blk)
		}
	}

	if len(res.Structure) > 0 {
		b.WriteString("\n## Structure\n\n")
		for _, e := range res.Structure {
			if e.Description != "" {
				fmt.Fprintf(&b, "- `%s` %s\n", e.Path, e.Description)
			} else {
				fmt.Fprintf(&b, "- `%s`\n", e.Path)
			}
		}
	}

	if len(res.Requirements) > 0 {
		b.WriteString("\n## Requirements\n")
		for _, blk := range res.Requirements {
			writeBlock(&b, blk)
		}
	}

	if len(res.Checklists) > 0 {
		b.WriteString("\n## Checklists\n")
		for _, blk := range res.Checklists {
			fmt.Fprintf(&b, "\n### %s\n\n", heading(blk.Block))
			if blk.Body != "" {
				fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(blk.Body))
			}
			for _, item := range blk.Items {
				fmt.Fprintf(&b, "- [ ] %s\n", item)
			}
		}
	}

	if len(res.Hooks) > 0 {
		b.WriteString("\n## Hooks\n")
		for _, h := range res.Hooks {
			fmt.Fprintf(&b, "\n### %s", h.Name)
			if h.Event != "" {
				fmt.Fprintf(&b, " (%s)", h.Event)
			}
			b.WriteString("\n\n")
			if h.Description != "" {
				fmt.Fprintf(&b, "%s\n\n", h.Description)
			}
			fmt.Fprintf(&b, "```sh\n%s\n```\n", strings.TrimRight(h.Script, "\n"))
		}
	}
	return b.String()
}

// HistoryMarkdown renders a history listing as a table.
func HistoryMarkdown(runs []history.Run) string {
	var b strings.Builder
	b.WriteString("# Drift history\n\n")
	if len(runs) == 0 {
		b.WriteString("_No recorded runs._\n")
		return b.String()
	}
	b.WriteString("| Run | When | Status | Tags | Suggested | Dropped | Tier | Applied |\n")
	b.WriteString("|-----|------|--------|------|----------:|--------:|------|---------|\n")
	for _, r := range runs {
		tier := ""
		if r.TierFrom != "" {
			tier = r.TierFrom + " -> " + r.TierTo
		}
		applied := "no"
		if r.Applied {
			applied = "yes"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %d | %d | %s | %s |\n",
			shortID(r.ID), r.CreatedAt.Format("2006-01-02 15:04:05"), r.Status,
			strings.Join(tags.Strings(r.CurrentTags), ", "), r.Suggestions, r.Dropped, tier, applied)
	}
	return b.String()
}

// Terminal renders Markdown for a terminal of the given width. A width of
// zero or less uses 80 columns.
func Terminal(md string, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("report: create renderer: %w", err)
	}
	out, err := renderer.Render(md)
	if err != nil {
		return "", fmt.Errorf("report: render: %w", err)
	}
	return out, nil
}

func writeBlock(b *strings.Builder, blk compose.Block) {
	fmt.Fprintf(b, "\n### %s\n\n", heading(blk.Block))
	if blk.Body != "" {
		fmt.Fprintf(b, "%s\n", strings.TrimSpace(blk.Body))
	}
	if len(blk.Items) > 0 {
		if blk.Body != "" {
			b.WriteString("\n")
		}
		for _, item := range blk.Items {
			fmt.Fprintf(b, "- %s\n", item)
		}
	}
}

func heading(blk fragment.Block) string {
	if blk.Title != "" {
		return blk.Title
	}
	return blk.ID
}

func codeList(ts []tags.Tag) string {
	if len(ts) == 0 {
		return "_none_"
	}
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = "`" + string(t) + "`"
	}
	return strings.Join(parts, ", ")
}

func signed(n int) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprintf("%d", n)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
