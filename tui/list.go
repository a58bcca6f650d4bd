package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/eval-exec/go-epc/epc"
	"github.com/eval-exec/go-epc/highlight"
)

func eventStatus(ev epc.CallEvent) string {
	if ev.Err != "" {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).Render("E")
	}
	if ev.Flood {
		return lipgloss.NewStyle().
			Foreground(lipgloss.Color("3")).Render("FLOOD")
	}
	return ""
}

// Column widths.
const (
	colMarker   = 2 // "▶ " or "  "
	colDir      = 4
	colKind     = 13
	colDuration = 10
	colTime     = 12
	colStatus   = 5
)

func (m Model) renderList(maxRows int) string {
	innerWidth := max(m.width-4, 20)
	colMethod := max(innerWidth-colMarker-colDir-colKind-colDuration-colTime-colStatus-6, 10)

	var title string
	if m.searchQuery != "" || m.filterQuery != "" {
		title = fmt.Sprintf(" go-epc (%d/%d calls) ", len(m.filtered), len(m.events))
	} else {
		title = fmt.Sprintf(" go-epc (%d calls) ", len(m.events))
	}
	if m.sortMode == sortDuration {
		title += "[slow] "
	}

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth)

	dataRows := max(maxRows-1, 1) // -1 for header row

	start := 0
	if len(m.filtered) > dataRows {
		start = max(m.cursor-dataRows/2, 0)
		if start+dataRows > len(m.filtered) {
			start = len(m.filtered) - dataRows
		}
	}
	end := min(start+dataRows, len(m.filtered))

	header := fmt.Sprintf("  %-*s %-*s %-*s %*s %*s %-*s",
		colDir, "Dir",
		colKind, "Kind",
		colMethod, "Method",
		colDuration, "Duration",
		colTime, "Time",
		colStatus, "",
	)

	var rows []string
	rows = append(rows, lipgloss.NewStyle().Bold(true).Render(header))
	for i := start; i < end; i++ {
		rows = append(rows, m.renderEventRow(i, i == m.cursor, colMethod))
	}

	borderColor := lipgloss.Color("240")
	border = border.BorderForeground(borderColor)
	content := strings.Join(rows, "\n")

	box := border.Render(content)
	lines := strings.Split(box, "\n")
	if len(lines) > 0 {
		borderFg := lipgloss.NewStyle().Foreground(borderColor)
		titleStyle := lipgloss.NewStyle().Bold(true)
		dashes := max(innerWidth-len([]rune(title)), 0)
		lines[0] = borderFg.Render("╭") +
			titleStyle.Render(title) +
			borderFg.Render(strings.Repeat("─", dashes)+"╮")
		box = strings.Join(lines, "\n")
	}

	return box
}

func (m Model) renderEventRow(idx int, isCursor bool, colMethod int) string {
	ev := m.events[m.filtered[idx]]

	marker := "  "
	if isCursor {
		marker = "▶ "
	}

	dir := "out"
	if ev.Direction == epc.Inbound {
		dir = "in"
	}
	kind := ev.Kind.String()
	dur := formatDuration(ev.Duration)
	t := formatTime(ev.StartTime)
	method := truncate(ev.Method, colMethod)
	if method == "" {
		method = "-"
	}
	status := eventStatus(ev)

	row := fmt.Sprintf("%s%-*s %-*s %-*s %*s %*s",
		marker,
		colDir, dir,
		colKind, kind,
		colMethod, method,
		colDuration, dur,
		colTime, t,
	) + " " + status
	if isCursor {
		row = lipgloss.NewStyle().Bold(true).Render(row)
	}
	return row
}

func (m Model) renderPreview() string {
	innerWidth := max(m.width-4, 20)

	ev := m.cursorEvent()
	if ev == nil {
		return ""
	}

	var lines []string
	lines = append(lines, "Dir:      "+ev.Direction.String())
	lines = append(lines, "Kind:     "+ev.Kind.String())
	if ev.Method != "" {
		maxLen := max(innerWidth-10, 20)
		lines = append(lines, "Method:   "+highlight.Sexp(truncate(ev.Method, maxLen)))
	}
	if ev.Args != "" {
		maxLen := max(innerWidth-10, 20)
		lines = append(lines, "Args:     "+highlight.Sexp(truncate(ev.Args, maxLen)))
	}

	lines = append(lines, "Duration: "+formatDuration(ev.Duration))

	if ev.Err != "" {
		lines = append(lines, "Error:    "+ev.Err)
	}

	content := strings.Join(lines, "\n")

	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth).
		BorderForeground(lipgloss.Color("240"))

	return border.Render(content)
}
