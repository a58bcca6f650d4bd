package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/eval-exec/go-epc/clipboard"
	"github.com/eval-exec/go-epc/highlight"
)

func (m Model) updateInspect(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "q":
		m.view = viewList
		return m, nil
	case "c", "C":
		return m.copyEvent(msg.String() == "C"), nil
	case "j", "down":
		maxScroll := max(len(m.inspectLines())-m.inspectVisibleRows(), 0)
		if m.inspectScroll < maxScroll {
			m.inspectScroll++
		}
		return m, nil
	case "k", "up":
		if m.inspectScroll > 0 {
			m.inspectScroll--
		}
		return m, nil
	}
	return m, nil
}

func (m Model) inspectLines() []string {
	ev := m.cursorEvent()
	if ev == nil {
		return nil
	}

	var lines []string
	lines = append(lines, "Conn:     "+ev.ConnID)
	lines = append(lines, "Dir:      "+ev.Direction.String())
	lines = append(lines, "Kind:     "+ev.Kind.String())
	lines = append(lines, fmt.Sprintf("UID:      %d", ev.UID))

	if ev.Method != "" {
		lines = append(lines, "Method:   "+ev.Method)
	}
	if ev.Args != "" {
		lines = append(lines, "Args:")
		for l := range strings.SplitSeq(ev.Args, "\n") {
			lines = append(lines, "  "+highlight.Sexp(strings.TrimSpace(l)))
		}
	}
	if ev.Result != "" {
		lines = append(lines, "Result:")
		for l := range strings.SplitSeq(ev.Result, "\n") {
			lines = append(lines, "  "+highlight.Sexp(strings.TrimSpace(l)))
		}
	}

	lines = append(lines, "Duration: "+formatDuration(ev.Duration))
	lines = append(lines, "Time:     "+formatTimeFull(ev.StartTime))

	if ev.Err != "" {
		lines = append(lines, "Error:    "+ev.Err)
	}
	if ev.Flood {
		lines = append(lines, "Flood:    yes")
	}

	return lines
}

func (m Model) inspectVisibleRows() int {
	return max(m.height-2, 3) // -2 for top/bottom border
}

func (m Model) renderInspector() string {
	innerWidth := max(m.width-4, 20)
	visibleRows := m.inspectVisibleRows()

	lines := m.inspectLines()
	if lines == nil {
		return ""
	}

	maxScroll := max(len(lines)-visibleRows, 0)
	if m.inspectScroll > maxScroll {
		m.inspectScroll = maxScroll
	}

	end := min(m.inspectScroll+visibleRows, len(lines))
	visible := lines[m.inspectScroll:end]
	content := strings.Join(visible, "\n")

	borderColor := lipgloss.Color("240")
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Width(innerWidth).
		BorderForeground(borderColor).
		Render(content)

	boxLines := strings.Split(box, "\n")
	if len(boxLines) > 0 {
		borderFg := lipgloss.NewStyle().Foreground(borderColor)
		titleStyle := lipgloss.NewStyle().Bold(true)
		title := " Inspector "
		dashes := max(innerWidth-len([]rune(title)), 0)
		boxLines[0] = borderFg.Render("╭") +
			titleStyle.Render(title) +
			borderFg.Render(strings.Repeat("─", dashes)+"╮")
	}

	if n := len(boxLines); n > 0 {
		borderFg := lipgloss.NewStyle().Foreground(borderColor)
		help := " q: back  j/k: scroll  c: copy args  C: copy call "
		dashes := max(innerWidth-len([]rune(help)), 0)
		boxLines[n-1] = borderFg.Render("╰") +
			lipgloss.NewStyle().Faint(true).Render(help) +
			borderFg.Render(strings.Repeat("─", dashes)+"╯")
	}

	return strings.Join(boxLines, "\n")
}

// copyEvent copies the cursor event's rendered args to the clipboard, or
// (withCall) an "epc -call METHOD -args 'ARGS'" command line that replays
// the call from a shell once the server address is appended.
func (m Model) copyEvent(withCall bool) Model {
	ev := m.cursorEvent()
	if ev == nil {
		return m
	}
	text := ev.Args
	if withCall {
		text = fmt.Sprintf("epc -call %s -args '%s'", ev.Method, ev.Args)
	}
	if text == "" {
		return m
	}
	_ = clipboard.Copy(context.Background(), text)
	return m
}
