// Package chart renders the ranked impact series as a terminal tornado chart.
package chart

import (
	"fmt"
	"image/color"
	"math"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/hylla/riskcast/internal/domain"
)

// defaultWidth is the total chart width when none is requested.
const defaultWidth = 96

// minBarWidth keeps each half of the chart readable on narrow terminals.
const minBarWidth = 8

// maxLabelWidth truncates long activity/risk labels.
const maxLabelWidth = 28

// Options configures Tornado.
type Options struct {
	Width int
	// Limit keeps only the first N points; zero keeps all.
	Limit int
	// Plain disables styling for pipes and golden comparisons.
	Plain bool
	Title string
}

// palette holds the chart colors.
type palette struct {
	low    color.Color
	high   color.Color
	axis   color.Color
	label  color.Color
	muted  color.Color
	accent color.Color
}

func defaultPalette() palette {
	return palette{
		low:    lipgloss.Color("#4FB3BF"),
		high:   lipgloss.Color("#E8725C"),
		axis:   lipgloss.Color("241"),
		label:  lipgloss.Color("252"),
		muted:  lipgloss.Color("244"),
		accent: lipgloss.Color("62"),
	}
}

// Tornado renders one row per ranked point. Each row is centered on the
// point's impact: the bar left of the axis spans down to the P10 impact and
// the bar right of it spans up to the P90 impact, all on a shared scale.
func Tornado(points []domain.RankedPoint, opts Options) string {
	if opts.Limit > 0 && len(points) > opts.Limit {
		points = points[:opts.Limit]
	}
	if len(points) == 0 {
		return "no ranked impacts"
	}
	width := opts.Width
	if width <= 0 {
		width = defaultWidth
	}

	labelWidth := 0
	for _, p := range points {
		labelWidth = max(labelWidth, lipgloss.Width(truncate(p.Label, maxLabelWidth)))
	}
	valueWidth := 0
	for _, p := range points {
		valueWidth = max(valueWidth, len(formatValue(p.Value)))
	}
	// label | space | left | axis | right | space | value
	half := max(minBarWidth, (width-labelWidth-valueWidth-3)/2)

	scale := 0.0
	for _, p := range points {
		scale = math.Max(scale, math.Max(p.Value-p.Low, p.High-p.Value))
	}

	pal := defaultPalette()
	paint := func(c color.Color, s string) string {
		if opts.Plain || s == "" {
			return s
		}
		return lipgloss.NewStyle().Foreground(c).Render(s)
	}

	rows := make([]string, 0, len(points)+2)
	if title := strings.TrimSpace(opts.Title); title != "" {
		if !opts.Plain {
			title = lipgloss.NewStyle().Foreground(pal.accent).Bold(true).Render(title)
		}
		rows = append(rows, title)
	}
	for _, p := range points {
		left := barCells(p.Value-p.Low, scale, half)
		right := barCells(p.High-p.Value, scale, half)
		label := truncate(p.Label, maxLabelWidth)
		label += strings.Repeat(" ", labelWidth-lipgloss.Width(label))

		var b strings.Builder
		b.WriteString(paint(pal.label, label))
		b.WriteString(" ")
		b.WriteString(strings.Repeat(" ", half-left))
		b.WriteString(paint(pal.low, strings.Repeat("█", left)))
		b.WriteString(paint(pal.axis, "│"))
		b.WriteString(paint(pal.high, strings.Repeat("█", right)))
		b.WriteString(strings.Repeat(" ", half-right))
		b.WriteString(" ")
		value := formatValue(p.Value)
		b.WriteString(paint(pal.label, strings.Repeat(" ", valueWidth-len(value))+value))
		rows = append(rows, b.String())
	}
	legend := fmt.Sprintf("%s P10 %s impact %s P90",
		strings.Repeat(" ", labelWidth), strings.Repeat("─", max(1, half-5)), strings.Repeat("─", max(1, half-6)))
	rows = append(rows, paint(pal.muted, legend))
	return strings.Join(rows, "\n")
}

// barCells maps a spread onto a number of cells in [0, width].
func barCells(spread, scale float64, width int) int {
	if scale <= 0 || spread <= 0 || math.IsNaN(spread) {
		return 0
	}
	cells := int(math.Round(spread / scale * float64(width)))
	return min(max(cells, 0), width)
}

// formatValue renders an impact with a sign and one decimal.
func formatValue(v float64) string {
	return fmt.Sprintf("%+.1f", v)
}

// truncate shortens text to fit one line at the requested width.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width == 1 {
		return string(runes[:1])
	}
	return string(runes[:width-1]) + "~"
}
