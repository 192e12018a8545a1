package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/kingrea/codeforge/internal/jobs"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).MarginTop(1)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	selectedRow  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#2D3B55"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	statusStyles = map[jobs.Status]lipgloss.Style{
		jobs.StatusTodo:       lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")),
		jobs.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true),
		jobs.StatusStopped:    lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true),
		jobs.StatusDone:       lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
	}
)

// View renders the whole screen.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	leftWidth := max(30, width/2-2)
	rightWidth := max(30, width-leftWidth-4)

	sections := []string{a.renderHeader()}
	left := panelStyle.Width(leftWidth).Render(a.renderJobs(leftWidth - 4))
	right := panelStyle.Width(rightWidth).Render(a.renderPreview())
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	if panel := a.renderEvents(); panel != "" {
		sections = append(sections, panel)
	}
	sections = append(sections, a.renderFooter())
	return strings.Join(sections, "\n")
}

func (a *App) renderHeader() string {
	state := "connected"
	if !a.connected {
		state = errorStyle.Render("disconnected")
	}
	line := fmt.Sprintf("⬡ CODEFORGE · %s", state)
	if n := a.running(); n > 0 {
		line += fmt.Sprintf(" · %s %d running", a.spinner.View(), n)
	}
	return titleStyle.Render(line)
}

func (a *App) renderJobs(width int) string {
	title := titleStyle.Render(fmt.Sprintf("Jobs (%d)", len(a.visible)))
	var lines []string
	lines = append(lines, title)
	if a.focus == focusFilter || a.filter.Value() != "" {
		lines = append(lines, a.filter.View())
	}
	if len(a.visible) == 0 {
		note := "No jobs yet. Send a prompt with `codeforge send prompt`."
		if a.filter.Value() != "" {
			note = "No jobs match the filter."
		}
		lines = append(lines, mutedStyle.Render(note))
		return strings.Join(lines, "\n")
	}
	for i, row := range a.visible {
		lines = append(lines, a.renderRow(row, i == a.selection && a.focus != focusFilter, width))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderRow(row jobRow, selected bool, width int) string {
	style, ok := statusStyles[row.pipeline]
	if !ok {
		style = mutedStyle
	}
	badge := style.Render(fmt.Sprintf("%-10s", row.pipeline))
	line := fmt.Sprintf("%s %s", badge, row.job.Name)
	meta := fmt.Sprintf("%s · attempt %d", row.job.Type, row.job.Attempt)
	if !row.job.UpdatedAt.IsZero() {
		meta += " · " + humanize.RelTime(row.job.UpdatedAt, a.now(), "ago", "from now")
	}
	if row.job.Error != "" {
		meta += " · " + errorStyle.Render(truncate(row.job.Error, max(10, width-len(meta)-6)))
	}
	content := line + "\n  " + mutedStyle.Render(meta)
	if selected {
		return selectedRow.Width(max(20, width)).Render("› " + line) + "\n  " + mutedStyle.Render(meta)
	}
	return "  " + content
}

func (a *App) renderPreview() string {
	if a.previewFile == "" {
		return mutedStyle.Render("No file selected. Enter on a generated file opens it here.")
	}
	title := titleStyle.Render(a.previewFile)
	if a.previewFile == a.streaming {
		title += " " + a.spinner.View()
	}
	body := a.preview.View()
	footer := mutedStyle.Render(fmt.Sprintf("%d lines · %s", strings.Count(a.files[a.previewFile], "\n")+1, humanize.Bytes(uint64(len(a.files[a.previewFile])))))
	return lipgloss.JoinVertical(lipgloss.Left, title, body, footer)
}

func (a *App) renderEvents() string {
	if len(a.events) == 0 {
		return ""
	}
	return mutedStyle.Render(strings.Join(a.events, "\n"))
}

func (a *App) renderFooter() string {
	var hint string
	switch a.focus {
	case focusFilter:
		hint = "Enter → keep filter    Esc → clear"
	case focusPreview:
		hint = "↑/↓ → scroll    Esc → back to jobs"
	default:
		hint = "s → start    x → stop    r → retry    / → filter    Enter → preview    q → quit"
	}
	lines := []string{hintStyle.Render(hint)}
	if a.err != nil {
		lines = append(lines, errorStyle.Render("⚠ "+a.err.Error()))
	}
	if a.statusMsg != "" {
		lines = append(lines, mutedStyle.Render(a.statusMsg))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
