// Package tui renders trialflow results for the terminal.
// Simple, streaming output: no full-screen UI.
package tui

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/mikkeyboi/custom-neuropype/pkg/engine"
	"github.com/mikkeyboi/custom-neuropype/pkg/query"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warning = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warning)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

const rule = "  ─────────────────────────────────────"

// Version is printed in the header.
var Version = "0.1.0"

// PrintHeader prints the banner.
func PrintHeader(w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  TRIALFLOW")+mutedStyle.Render(" v"+Version))
	fmt.Fprintln(w, mutedStyle.Render("  Trial reconstruction for VR task marker streams"))
	fmt.Fprintln(w)
}

// RunReport describes one finished conversion.
type RunReport struct {
	Inputs     []string
	Output     string
	InputSize  int64
	OutputSize int64
	Duration   time.Duration
	Summary    engine.Summary
}

// PrintRunReport prints results after a conversion.
func PrintRunReport(w io.Writer, r *RunReport) {
	s := r.Summary
	inputs := make([]string, len(r.Inputs))
	for i, in := range r.Inputs {
		inputs[i] = filepath.Base(in)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("  ✓ CONVERSION COMPLETE"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s → %s\n", mutedStyle.Render("Files:"), strings.Join(inputs, ", "), codeStyle.Render(r.Output))
	fmt.Fprintf(w, "  %s %s %s\n", mutedStyle.Render("Protocol:"), titleStyle.Render(s.Protocol), mutedStyle.Render("run "+s.RunID))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	fmt.Fprintf(w, "  %s %s %s\n",
		mutedStyle.Render("Markers:"),
		titleStyle.Render(formatNumber(int64(s.Markers))),
		mutedStyle.Render(fmt.Sprintf("(%d decoded, %d dropped)", s.Decoded, s.Dropped)))
	fmt.Fprintf(w, "  %s %s %s\n",
		mutedStyle.Render("Trials:"),
		titleStyle.Render(formatNumber(int64(s.Trials))),
		mutedStyle.Render(fmt.Sprintf("(%d emitted, %d skipped)", s.Emitted, len(s.Skipped))))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Rows:"), titleStyle.Render(formatNumber(int64(s.Rows))))

	if s.Discarded+s.Promoted+s.Synthesized > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Repair:"),
			fmt.Sprintf("%d duplicates discarded, %d early aborts promoted, %d intertrials inserted",
				s.Discarded, s.Promoted, s.Synthesized))
	}
	if s.RepairIncomplete {
		fmt.Fprintln(w, warnStyle.Render("  ! stream ended while a feedback record was pending"))
	}
	if s.ConfigErrors > 0 {
		fmt.Fprintln(w, accentStyle.Render(fmt.Sprintf("  ✗ %d trials skipped on configuration errors", s.ConfigErrors)))
	}
	if len(s.MissingPhases) > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Missing:"), formatCounts(s.MissingPhases))
	}
	if len(s.Fixups) > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Fixups:"), formatCounts(s.Fixups))
	}

	if r.InputSize > 0 && r.OutputSize > 0 {
		fmt.Fprintf(w, "  %s %s → %s\n",
			mutedStyle.Render("Size:"),
			formatBytes(r.InputSize),
			formatBytes(r.OutputSize))
	}
	if r.Duration > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Time:"), titleStyle.Render(formatDuration(r.Duration)))
	}
	fmt.Fprintln(w)
}

// PrintFailure prints a failed conversion.
func PrintFailure(w io.Writer, input string, err error) {
	fmt.Fprintf(w, "  %s %s %s\n", accentStyle.Render("✗"), filepath.Base(input), mutedStyle.Render(err.Error()))
}

// PrintTableSummary prints the output of query.Summarize.
func PrintTableSummary(w io.Writer, name string, s *query.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ "+strings.ToUpper(name)))
	fmt.Fprintf(w, "  %s %s  %s %s\n",
		mutedStyle.Render("Rows:"), titleStyle.Render(formatNumber(s.Rows)),
		mutedStyle.Render("Trials:"), titleStyle.Render(formatNumber(s.Trials)))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	for _, m := range s.Markers {
		fmt.Fprintf(w, "  %-14s %8d rows %8d trials\n", m.Marker, m.Rows, m.Trials)
	}
	if len(s.Groups) == 0 {
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintln(w, mutedStyle.Render(rule))
	for _, g := range s.Groups {
		latency := "n/a"
		if g.MeanLatency.Valid {
			latency = fmt.Sprintf("%.3fs (n=%d)", g.MeanLatency.Float64, g.LatencyCount)
		}
		fmt.Fprintf(w, "  %-14s %6d trials  %s %5.1f%%  %s %s\n",
			g.Group, g.Trials,
			mutedStyle.Render("accuracy"), g.Accuracy*100,
			mutedStyle.Render("rt"), latency)
	}
	fmt.Fprintln(w)
}

// PrintProtocols lists protocol names, marking the selected one.
func PrintProtocols(w io.Writer, names []string, selected string) {
	fmt.Fprintln(w, accentStyle.Render("▸ PROTOCOLS"))
	for _, n := range names {
		if n == selected {
			fmt.Fprintf(w, "  %s %s\n", successStyle.Render("●"), titleStyle.Render(n))
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("○"), n)
	}
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s×%d", k, m[k])
	}
	return strings.Join(parts, ", ")
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// ShowProgress creates a progress bar counting finished files.
func ShowProgress(w io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}
