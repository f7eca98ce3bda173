// Package report builds the markdown run report and renders it for terminals.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/hylla/riskcast/internal/app"
	"github.com/hylla/riskcast/internal/mitigation"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// defaultTopN bounds the impact table of the report.
const defaultTopN = 15

// Options configures Markdown.
type Options struct {
	// Language selects number formatting; the zero tag means English.
	Language language.Tag
	// TopN bounds the impact table; zero uses defaultTopN, negative lists all.
	TopN int
	// Chart is an optional pre-rendered chart block placed under the impacts.
	Chart string
}

// Markdown renders the run snapshot as a markdown document.
func Markdown(snap app.Snapshot, opts Options) string {
	tag := opts.Language
	if tag == language.Und {
		tag = language.English
	}
	p := message.NewPrinter(tag)
	run := snap.Run

	var b strings.Builder
	fmt.Fprintf(&b, "# Risk run %s\n\n", run.ID)
	fmt.Fprintf(&b, "- **Created:** %s\n", run.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "- **Mode:** %s (summary by %s)\n", run.Mode, run.SummaryMode)
	b.WriteString(p.Sprintf("- **Trials:** %d per risk-activity pair, %d worker(s)", run.Iterations, run.Workers))
	fmt.Fprintf(&b, ", seed %d\n", run.Seed)
	b.WriteString(p.Sprintf("- **Baseline duration:** %.1f days over %d activities\n", run.Baseline, run.ActivityCount))
	b.WriteString(p.Sprintf("- **Risks:** %d simulated of %d, %d samples\n", run.ValidRiskCount, run.RiskCount, run.SampleCount))

	b.WriteString("\n## Ranked impacts\n\n")
	if len(snap.Ranked) == 0 {
		b.WriteString("_No simulated impacts._\n")
	} else {
		limit := opts.TopN
		if limit == 0 {
			limit = defaultTopN
		}
		points := snap.Ranked
		if limit > 0 && len(points) > limit {
			points = points[:limit]
		}
		b.WriteString("| # | Risk | Impact | P10 | P90 |\n")
		b.WriteString("|---:|---|---:|---:|---:|\n")
		for i, point := range points {
			b.WriteString(p.Sprintf("| %d | %s | %.2f | %.2f | %.2f |\n",
				i+1, escapeCell(point.Label), point.Value, point.Low, point.High))
		}
		if len(points) < len(snap.Ranked) {
			b.WriteString(p.Sprintf("\n_%d more rows in the summary table._\n", len(snap.Ranked)-len(points)))
		}
	}
	if chart := strings.TrimRight(opts.Chart, "\n"); chart != "" {
		b.WriteString("\n```\n")
		b.WriteString(chart)
		b.WriteString("\n```\n")
	}

	b.WriteString("\n## Mitigation allocation\n\n")
	status := mitigation.Status(run.AllocationStatus)
	if status == mitigation.StatusOptimal {
		b.WriteString(p.Sprintf("Optimal plan spends **%.2f** of a **%.2f** budget.\n", run.Objective, run.Budget))
	} else {
		reason := strings.TrimSpace(run.AllocationReason)
		if reason == "" {
			reason = "solver did not reach an optimum"
		}
		fmt.Fprintf(&b, "No optimal plan (%s): %s. Nothing is allocated.\n", run.AllocationStatus, reason)
	}
	selected := snap.Selected()
	if len(selected) > 0 {
		b.WriteString("\n| Risk | Level (days) | Spend |\n")
		b.WriteString("|---|---:|---:|\n")
		for _, item := range selected {
			b.WriteString(p.Sprintf("| %s | %.2f | %.2f |\n", escapeCell(item.RiskID), item.Level, item.Spend))
		}
	} else if status == mitigation.StatusOptimal {
		b.WriteString("\n_No risk is worth mitigating under this budget._\n")
	}

	if len(snap.Diagnostics) > 0 {
		b.WriteString("\n## Skipped input\n\n")
		for _, diag := range snap.Diagnostics {
			subject := diag.RiskID
			if diag.Ref != "" {
				subject += " → " + diag.Ref
			}
			if subject == "" {
				fmt.Fprintf(&b, "- `%s`: %s\n", diag.Kind, diag.Message)
				continue
			}
			fmt.Fprintf(&b, "- `%s` %s: %s\n", diag.Kind, subject, diag.Message)
		}
	}
	return b.String()
}

// escapeCell keeps pipes inside labels from splitting table cells.
func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// Renderer renders markdown for terminals and recreates the glamour renderer
// when the wrap width changes.
type Renderer struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
}

// NewRenderer constructs a renderer. An empty style uses "dark".
func NewRenderer(style string) *Renderer {
	style = strings.TrimSpace(style)
	if style == "" {
		style = "dark"
	}
	return &Renderer{style: style}
}

// Render converts markdown into ANSI-styled terminal text wrapped at width.
func (r *Renderer) Render(markdown string, width int) (string, error) {
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return "", nil
	}

	wrapWidth := width
	if wrapWidth < 24 {
		wrapWidth = 24
	}

	if r.renderer == nil || r.width != wrapWidth {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(wrapWidth),
		)
		if err != nil {
			return "", fmt.Errorf("create markdown renderer: %w", err)
		}
		r.renderer = renderer
		r.width = wrapWidth
	}

	rendered, err := r.renderer.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return strings.TrimRight(rendered, "\n"), nil
}
