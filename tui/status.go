// Package tui renders the auto-claude status screen
package tui

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hochfrequenz/auto-claude/internal/control"
	"github.com/hochfrequenz/auto-claude/internal/domain"
	"github.com/hochfrequenz/auto-claude/internal/ingest"
	"github.com/hochfrequenz/auto-claude/internal/runner"
	"github.com/hochfrequenz/auto-claude/internal/runstore"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("39"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))

	toneStyles = map[Tone]lipgloss.Style{
		ToneMuted:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		ToneError:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		ToneRunning:  lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
		TonePaused:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		ToneSkipping: lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		ToneActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
)

// Tone selects the colour of a status line
type Tone int

const (
	ToneMuted Tone = iota
	ToneError
	ToneRunning
	TonePaused
	ToneSkipping
	ToneActive
)

// sessionPattern matches the command line of an unattended agent session
const sessionPattern = "claude.*--output-format stream-json"

// ControlStatus is the one-line state of the control file
type ControlStatus struct {
	Icon string `json:"icon"`
	Text string `json:"status"`
	Tone Tone   `json:"-"`
}

// ReadControlStatus summarises the control file. Running sessions take
// precedence over a pause or pending skips.
func ReadControlStatus(f *control.File, sessions int, now time.Time) ControlStatus {
	st, err := f.Load()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ControlStatus{Icon: "🤖", Text: "No control file", Tone: ToneMuted}
	case err != nil:
		return ControlStatus{Icon: "⚠️", Text: "Error reading control file", Tone: ToneError}
	}

	if sessions > 0 {
		return ControlStatus{Icon: "🔄", Text: fmt.Sprintf("Running (%d sessions)", sessions), Tone: ToneRunning}
	}
	if st.Paused(now) {
		return ControlStatus{
			Icon: "⏸️",
			Text: "Paused until " + st.PauseUntil.Local().Format("15:04"),
			Tone: TonePaused,
		}
	}
	if st.SkipCount > 0 {
		return ControlStatus{Icon: "⏭️", Text: fmt.Sprintf("Skipping %d runs", st.SkipCount), Tone: ToneSkipping}
	}
	return ControlStatus{Icon: "🤖", Text: "Active", Tone: ToneActive}
}

// ActiveSessions counts running agent sessions with pgrep. Any failure,
// including pgrep finding nothing, counts as zero.
func ActiveSessions(ctx context.Context, r runner.Runner) int {
	out, err := r.Run(ctx, runner.Command{Name: "pgrep", Args: []string{"-f", sessionPattern}})
	if err != nil {
		return 0
	}
	n := 0
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// LogFile is a run log in the logs directory
type LogFile struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified"`
}

// RecentLogs returns up to limit run logs in dir, newest first. The events
// log and summary files are left out.
func RecentLogs(dir string, limit int) []LogFile {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil
	}
	var logs []LogFile
	for _, path := range matches {
		name := filepath.Base(path)
		if name == ingest.EventsLogName || strings.HasPrefix(name, "summary") {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		logs = append(logs, LogFile{
			Name:    strings.TrimSuffix(name, ".jsonl"),
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].ModTime.After(logs[j].ModTime)
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs
}

// FormatSize renders a byte count as B, KB or MB
func FormatSize(n int64) string {
	switch {
	case n > 1024*1024:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	case n > 1024:
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

// Status is everything the status screen shows
type Status struct {
	Control ControlStatus     `json:"control"`
	Summary runstore.Summary  `json:"last_24h"`
	LastRun *domain.RunRecord `json:"last_run,omitempty"`
	Logs    []LogFile         `json:"recent_logs"`
}

// Render draws the status screen at the given width
func Render(s Status, width int) string {
	if width < 40 {
		width = 40
	}
	var b strings.Builder

	b.WriteString(titleStyle.Render("Auto-Claude"))
	b.WriteString("\n")

	tone := toneStyles[s.Control.Tone]
	b.WriteString(sectionStyle.Width(width - 2).Render(
		labelStyle.Render("Status") + "\n" + tone.Render(s.Control.Icon+" "+s.Control.Text)))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Width(width - 2).Render(renderSummary(s.Summary)))
	b.WriteString("\n")

	b.WriteString(sectionStyle.Width(width - 2).Render(renderLastRun(s.LastRun)))
	b.WriteString("\n")

	if len(s.Logs) > 0 {
		b.WriteString(sectionStyle.Width(width - 2).Render(renderLogs(s.Logs)))
		b.WriteString("\n")
	}
	return b.String()
}

func renderSummary(sum runstore.Summary) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("Last 24h"))
	b.WriteString("\n")
	if sum.RunCount == 0 {
		b.WriteString(dimmedStyle.Render("No runs"))
		return b.String()
	}
	fmt.Fprintf(&b, "Runs: %d   PRs: %d   Tasks: %d   Blocked: %d\n",
		sum.RunCount, sum.PRsCreated, sum.TasksCompleted, sum.TasksBlocked)
	fmt.Fprintf(&b, "Tokens: %s   Max context: %.0f%%",
		domain.FormatNumber(sum.TotalTokens()), sum.MaxContextUsage)
	return b.String()
}

func renderLastRun(run *domain.RunRecord) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("Last run"))
	b.WriteString("\n")
	if run == nil {
		b.WriteString(dimmedStyle.Render("No runs yet"))
		return b.String()
	}

	when := "unknown"
	if run.StartedAt != nil {
		when = run.StartedAt.Local().Format("Jan 02 15:04")
	}
	status := toneStyles[ToneMuted].Render("? (unknown)")
	if run.ExitCode != nil {
		if *run.ExitCode == 0 {
			status = toneStyles[ToneActive].Render("✓ (exit 0)")
		} else {
			status = toneStyles[ToneError].Render(fmt.Sprintf("✗ (exit %d)", *run.ExitCode))
		}
	}
	fmt.Fprintf(&b, "%s  %s\n", when, run.Repo)
	fmt.Fprintf(&b, "Status: %s   Units: %d   Tokens: %s",
		status, run.WorkUnits(), domain.FormatNumber(run.TotalTokens()))
	return b.String()
}

func renderLogs(logs []LogFile) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render("Recent logs"))
	for _, l := range logs {
		fmt.Fprintf(&b, "\n%s %s", l.Name, dimmedStyle.Render("("+FormatSize(l.Size)+")"))
	}
	return b.String()
}
