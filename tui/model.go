// Package tui is the interactive inspector for a running epcd daemon's
// watch feed: a scrollable list of CallEvents with search, filter,
// duration sort, inline inspection, clipboard copy, and file export.
package tui

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/eval-exec/go-epc/epc"
)

type viewMode int

const (
	viewList viewMode = iota
	viewInspect
)

type sortMode int

const (
	sortChronological sortMode = iota
	sortDuration
)

// Model is the Bubble Tea model for the go-epc inspector.
type Model struct {
	target string
	client *http.Client
	cancel func()

	stream     <-chan epc.CallEvent
	streamErrs <-chan error

	events   []epc.CallEvent
	filtered []int // indices into events passing the current filter/search
	cursor   int   // index into filtered
	follow   bool
	width    int
	height   int
	err      error
	view     viewMode

	searchMode   bool
	searchQuery  string
	searchCursor int
	filterMode   bool
	filterQuery  string
	filterCursor int
	sortMode     sortMode

	inspectScroll int

	exportMsg string
}

// eventMsg carries one decoded CallEvent read off the watch SSE stream.
type eventMsg struct{ Event epc.CallEvent }

// errMsg carries an error from the HTTP connection or the SSE stream.
type errMsg struct{ Err error }

// connectedMsg is sent after the watch endpoint has accepted the
// subscription request and begun streaming.
type connectedMsg struct {
	events <-chan epc.CallEvent
	errs   <-chan error
	cancel func()
}

// New creates a Model that watches target, the base URL of a running
// epcd daemon's watch HTTP server (e.g. "http://127.0.0.1:9999").
func New(target string) Model {
	return Model{
		target: strings.TrimRight(target, "/"),
		client: &http.Client{},
		follow: true,
	}
}

// Init starts the watch stream connection.
func (m Model) Init() tea.Cmd {
	return connect(m.client, m.target)
}

func connect(client *http.Client, target string) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, target+"/api/events", nil)
		if err != nil {
			return errMsg{Err: fmt.Errorf("build request: %w", err)}
		}
		resp, err := client.Do(req)
		if err != nil {
			return errMsg{Err: fmt.Errorf("connect %s: %w", target, err)}
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return errMsg{Err: fmt.Errorf("watch %s: unexpected status %s", target, resp.Status)}
		}

		events := make(chan epc.CallEvent, 256)
		errs := make(chan error, 1)
		go streamEvents(resp.Body, events, errs)

		return connectedMsg{events: events, errs: errs, cancel: func() { _ = resp.Body.Close() }}
	}
}

// streamEvents decodes "data: <json>" lines off an SSE body until the
// stream ends or a read error occurs; lines that fail to decode are
// skipped.
func streamEvents(body io.ReadCloser, events chan<- epc.CallEvent, errs chan<- error) {
	defer close(events)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		var ev epc.CallEvent
		if err := json.Unmarshal(line[len("data: "):], &ev); err != nil {
			continue
		}
		events <- ev
	}
	if err := scanner.Err(); err != nil {
		errs <- err
		return
	}
	errs <- io.EOF
}

func recvEvent(events <-chan epc.CallEvent, errs <-chan error) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return errMsg{Err: <-errs}
		}
		return eventMsg{Event: ev}
	}
}

// Update handles incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case connectedMsg:
		m.cancel = msg.cancel
		m.stream = msg.events
		m.streamErrs = msg.errs
		return m, recvEvent(m.stream, m.streamErrs)

	case eventMsg:
		m.events = append(m.events, msg.Event)
		m.rebuildFiltered()
		if m.follow {
			m.cursor = max(len(m.filtered)-1, 0)
		}
		return m, recvEvent(m.stream, m.streamErrs)

	case errMsg:
		m.err = msg.Err
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case viewInspect:
			return m.updateInspect(msg)
		case viewList:
			return m.updateList(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}
	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.width == 0 {
		return ""
	}

	if m.err != nil {
		return friendlyError(m.err, m.width)
	}

	if len(m.events) == 0 {
		return "Waiting for calls..."
	}

	if m.view == viewInspect {
		return m.renderInspector()
	}

	var footer string
	switch {
	case m.searchMode:
		footer = "  / " + renderInputWithCursor(m.searchQuery, m.searchCursor)
	case m.filterMode:
		footer = "  filter: " + renderInputWithCursor(m.filterQuery, m.filterCursor)
	default:
		items := []string{
			"q: quit", "j/k: navigate",
			"enter: inspect", "c/C: copy",
			"/: search", "f: filter", "s: sort",
			"w: export json", "W: export md",
		}
		footer = wrapFooterItems(items, m.width)
		if m.filterQuery != "" {
			footer += "\n  " + fmt.Sprintf("[filter: %s]", describeFilter(m.filterQuery))
		}
		if m.searchQuery != "" || m.filterQuery != "" {
			footer += "  esc: clear"
		}
		if m.sortMode == sortDuration {
			footer += "  [sorted: duration]"
		}
		if m.exportMsg != "" {
			footer += "\n  " + m.exportMsg
		}
	}

	footerLines := strings.Count(footer, "\n") + 1
	listHeight := m.listHeight(footerLines)

	return strings.Join([]string{
		m.renderList(listHeight),
		m.renderPreview(),
		footer,
	}, "\n")
}

func (m Model) listHeight(footerLines int) int {
	extra := max(footerLines-1, 0)
	return max(m.height-12-extra, 3)
}

// rebuildFiltered recomputes the filtered index slice from the current
// search/filter queries and sort mode.
func (m *Model) rebuildFiltered() {
	conds := parseFilter(m.filterQuery)
	searchLower := strings.ToLower(m.searchQuery)

	filtered := make([]int, 0, len(m.events))
	for i, ev := range m.events {
		if len(conds) > 0 && !matchAllConditions(ev, conds) {
			continue
		}
		if searchLower != "" &&
			!strings.Contains(strings.ToLower(ev.Method), searchLower) &&
			!strings.Contains(strings.ToLower(ev.Args), searchLower) {
			continue
		}
		filtered = append(filtered, i)
	}

	if m.sortMode == sortDuration {
		sort.Slice(filtered, func(a, b int) bool {
			return m.events[filtered[a]].Duration > m.events[filtered[b]].Duration
		})
	}
	m.filtered = filtered
}

func (m Model) cursorEvent() *epc.CallEvent {
	if m.cursor < 0 || m.cursor >= len(m.filtered) {
		return nil
	}
	return &m.events[m.filtered[m.cursor]]
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.searchMode {
		return m.updateSearch(msg)
	}
	if m.filterMode {
		return m.updateFilter(msg)
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit
	case "enter":
		if len(m.filtered) > 0 {
			m.view = viewInspect
			m.inspectScroll = 0
		}
		return m, nil
	case "c", "C":
		return m.copyEvent(msg.String() == "C"), nil
	case "/":
		m.searchMode = true
		m.searchQuery = ""
		m.searchCursor = 0
		return m, nil
	case "f":
		m.filterMode = true
		m.filterQuery = ""
		m.filterCursor = 0
		return m, nil
	case "s":
		return m.toggleSort(), nil
	case "w":
		return m.export(exportJSON), nil
	case "W":
		return m.export(exportMarkdown), nil
	case "esc":
		return m.clearFilter(), nil
	case "j", "down", "k", "up":
		return m.navigateCursor(msg.String()), nil
	case "ctrl+d", "pgdown", "ctrl+u", "pgup":
		return m.pageScroll(msg.String()), nil
	}
	return m, nil
}

func (m Model) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		return m, nil
	case "esc":
		m.searchMode = false
		m.searchQuery = ""
		m.rebuildFiltered()
		m.cursor = min(m.cursor, max(len(m.filtered)-1, 0))
		return m, nil
	case "backspace":
		if m.searchCursor > 0 {
			runes := []rune(m.searchQuery)
			m.searchQuery = string(runes[:m.searchCursor-1]) + string(runes[m.searchCursor:])
			m.searchCursor--
			m.rebuildFiltered()
			m.cursor = min(m.cursor, max(len(m.filtered)-1, 0))
		}
		return m, nil
	case "ctrl+c":
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit
	case "left":
		if m.searchCursor > 0 {
			m.searchCursor--
		}
		return m, nil
	case "right":
		if m.searchCursor < len([]rune(m.searchQuery)) {
			m.searchCursor++
		}
		return m, nil
	case "up", "down":
		return m.navigateCursor(msg.String()), nil
	}

	r := msg.Runes
	if len(r) == 0 {
		return m, nil
	}
	runes := []rune(m.searchQuery)
	m.searchQuery = string(runes[:m.searchCursor]) + string(r) + string(runes[m.searchCursor:])
	m.searchCursor += len(r)
	m.rebuildFiltered()
	m.cursor = min(m.cursor, max(len(m.filtered)-1, 0))
	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.filterMode = false
		return m, nil
	case "esc":
		m.filterMode = false
		m.filterQuery = ""
		m.rebuildFiltered()
		m.cursor = min(m.cursor, max(len(m.filtered)-1, 0))
		return m, nil
	case "backspace":
		if m.filterCursor > 0 {
			runes := []rune(m.filterQuery)
			m.filterQuery = string(runes[:m.filterCursor-1]) + string(runes[m.filterCursor:])
			m.filterCursor--
			m.rebuildFiltered()
			m.cursor = min(m.cursor, max(len(m.filtered)-1, 0))
		}
		return m, nil
	case "ctrl+c":
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit
	case "left":
		if m.filterCursor > 0 {
			m.filterCursor--
		}
		return m, nil
	case "right":
		if m.filterCursor < len([]rune(m.filterQuery)) {
			m.filterCursor++
		}
		return m, nil
	case "up", "down":
		return m.navigateCursor(msg.String()), nil
	}

	r := msg.Runes
	if len(r) == 0 {
		return m, nil
	}
	runes := []rune(m.filterQuery)
	m.filterQuery = string(runes[:m.filterCursor]) + string(r) + string(runes[m.filterCursor:])
	m.filterCursor += len(r)
	m.rebuildFiltered()
	m.cursor = min(m.cursor, max(len(m.filtered)-1, 0))
	return m, nil
}

func (m Model) pageScroll(key string) Model {
	half := max(m.listHeight(1)/2, 1)
	switch key {
	case "ctrl+d", "pgdown":
		m.cursor = min(m.cursor+half, max(len(m.filtered)-1, 0))
		if len(m.filtered) > 0 && m.cursor == len(m.filtered)-1 {
			m.follow = true
		}
	case "ctrl+u", "pgup":
		m.cursor = max(m.cursor-half, 0)
		m.follow = false
	}
	return m
}

func (m Model) navigateCursor(key string) Model {
	switch key {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.follow = false
		}
	case "down", "j":
		if len(m.filtered) > 0 && m.cursor < len(m.filtered)-1 {
			m.cursor++
		}
		if len(m.filtered) > 0 && m.cursor == len(m.filtered)-1 {
			m.follow = true
		}
	}
	return m
}

func (m Model) toggleSort() Model {
	switch m.sortMode {
	case sortChronological:
		m.sortMode = sortDuration
		m.follow = false
	case sortDuration:
		m.sortMode = sortChronological
	}
	m.rebuildFiltered()
	m.cursor = 0
	return m
}

func (m Model) clearFilter() Model {
	changed := false
	if m.searchQuery != "" {
		m.searchQuery = ""
		changed = true
	}
	if m.filterQuery != "" {
		m.filterQuery = ""
		changed = true
	}
	if changed {
		m.rebuildFiltered()
		m.cursor = min(m.cursor, max(len(m.filtered)-1, 0))
	}
	return m
}

func (m Model) export(format exportFormat) Model {
	path, err := writeExport(m.events, m.filterQuery, m.searchQuery, format, "")
	if err != nil {
		m.exportMsg = "export failed: " + err.Error()
		return m
	}
	m.exportMsg = "exported to " + path
	return m
}
