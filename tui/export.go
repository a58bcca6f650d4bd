package tui

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/eval-exec/go-epc/epc"
)

type exportFormat int

const (
	exportJSON exportFormat = iota
	exportMarkdown
)

func (f exportFormat) ext() string {
	if f == exportMarkdown {
		return "md"
	}
	return "json"
}

type exportMethodRow struct {
	Method  string  `json:"method"`
	Count   int     `json:"count"`
	TotalMs float64 `json:"total_ms"`
	AvgMs   float64 `json:"avg_ms"`
	P95Ms   float64 `json:"p95_ms"`
	MaxMs   float64 `json:"max_ms"`
}

type exportCall struct {
	Time       string `json:"time"`
	Dir        string `json:"dir"`
	Kind       string `json:"kind"`
	Method     string `json:"method"`
	Args       string `json:"args"`
	Result     string `json:"result"`
	DurationMs float64 `json:"duration_ms"`
	Error      string `json:"error"`
	Flood      bool   `json:"flood"`
}

type exportData struct {
	Captured int    `json:"captured"`
	Exported int    `json:"exported"`
	Filter   string `json:"filter"`
	Search   string `json:"search"`
	Period   struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"period"`
	Calls   []exportCall      `json:"calls"`
	Methods []exportMethodRow `json:"methods"`
}

// filteredEvents returns the subset of events matching filter and search.
func filteredEvents(events []epc.CallEvent, filterQuery, searchQuery string) []epc.CallEvent {
	conds := parseFilter(filterQuery)
	searchLower := strings.ToLower(searchQuery)

	result := make([]epc.CallEvent, 0, len(events))
	for _, ev := range events {
		if len(conds) > 0 && !matchAllConditions(ev, conds) {
			continue
		}
		if searchLower != "" &&
			!strings.Contains(strings.ToLower(ev.Method), searchLower) &&
			!strings.Contains(strings.ToLower(ev.Args), searchLower) {
			continue
		}
		result = append(result, ev)
	}
	return result
}

// buildExportMethods aggregates call-duration metrics per method, mirroring
// how the flood detector groups by signature but reported over the whole
// captured window rather than a sliding one.
func buildExportMethods(events []epc.CallEvent) []exportMethodRow {
	type agg struct {
		count     int
		totalDur  time.Duration
		durations []time.Duration
	}
	groups := make(map[string]*agg)
	var order []string

	for _, ev := range events {
		if ev.Kind != epc.KindCall || ev.Method == "" {
			continue
		}
		g, ok := groups[ev.Method]
		if !ok {
			g = &agg{}
			groups[ev.Method] = g
			order = append(order, ev.Method)
		}
		g.count++
		g.totalDur += ev.Duration
		g.durations = append(g.durations, ev.Duration)
	}

	rows := make([]exportMethodRow, 0, len(groups))
	for _, method := range order {
		g := groups[method]
		slices.SortFunc(g.durations, cmp.Compare)
		totalMs := float64(g.totalDur.Microseconds()) / 1000
		avgMs := totalMs / float64(g.count)
		p95Ms := float64(percentile(g.durations, 0.95).Microseconds()) / 1000
		maxMs := float64(g.durations[len(g.durations)-1].Microseconds()) / 1000
		rows = append(rows, exportMethodRow{
			Method: method, Count: g.count,
			TotalMs: totalMs, AvgMs: avgMs, P95Ms: p95Ms, MaxMs: maxMs,
		})
	}
	return rows
}

// percentile returns the p-th percentile (0..1) of a sorted duration slice:
// the element at index floor(p*(len-1)), with no interpolation.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func buildExportData(allEvents []epc.CallEvent, filterQuery, searchQuery string) exportData {
	exported := filteredEvents(allEvents, filterQuery, searchQuery)

	var d exportData
	d.Captured = len(allEvents)
	d.Exported = len(exported)
	d.Filter = filterQuery
	d.Search = searchQuery

	if len(exported) > 0 {
		first := exported[0].StartTime
		last := exported[len(exported)-1].StartTime
		//nolint:gosmopolitan // export uses local time
		d.Period.Start = first.In(time.Local).Format("15:04:05")
		//nolint:gosmopolitan // export uses local time
		d.Period.End = last.In(time.Local).Format("15:04:05")
	}

	d.Calls = make([]exportCall, 0, len(exported))
	for _, ev := range exported {
		//nolint:gosmopolitan // export uses local time
		ts := ev.StartTime.In(time.Local)
		d.Calls = append(d.Calls, exportCall{
			Time:       ts.Format("15:04:05.000"),
			Dir:        ev.Direction.String(),
			Kind:       ev.Kind.String(),
			Method:     ev.Method,
			Args:       ev.Args,
			Result:     ev.Result,
			DurationMs: float64(ev.Duration.Microseconds()) / 1000,
			Error:      ev.Err,
			Flood:      ev.Flood,
		})
	}

	d.Methods = buildExportMethods(exported)
	return d
}

func renderJSON(allEvents []epc.CallEvent, filterQuery, searchQuery string) (string, error) {
	d := buildExportData(allEvents, filterQuery, searchQuery)
	b, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export: %w", err)
	}
	return string(b) + "\n", nil
}

func renderMarkdown(allEvents []epc.CallEvent, filterQuery, searchQuery string) string {
	d := buildExportData(allEvents, filterQuery, searchQuery)

	var sb strings.Builder
	sb.WriteString("# go-epc export\n\n")

	fmt.Fprintf(&sb, "- Captured: %d calls\n", d.Captured)
	exportLine := fmt.Sprintf("- Exported: %d calls", d.Exported)
	if d.Filter != "" || d.Search != "" {
		var parts []string
		if d.Filter != "" {
			parts = append(parts, "filter: "+d.Filter)
		}
		if d.Search != "" {
			parts = append(parts, "search: "+d.Search)
		}
		exportLine += " (" + strings.Join(parts, ", ") + ")"
	}
	sb.WriteString(exportLine + "\n")
	if d.Period.Start != "" {
		fmt.Fprintf(&sb, "- Period: %s — %s\n", d.Period.Start, d.Period.End)
	}

	sb.WriteString("\n## Calls\n\n")
	sb.WriteString("| # | Time | Dir | Kind | Method | Duration | Error |\n")
	sb.WriteString("|---|------|-----|------|--------|----------|-------|\n")
	for i, c := range d.Calls {
		fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s | %s | %s |\n",
			i+1, c.Time, c.Dir, c.Kind,
			escapeMarkdownPipe(c.Method),
			formatDurationMs(c.DurationMs),
			escapeMarkdownPipe(c.Error),
		)
	}

	if len(d.Methods) > 0 {
		sb.WriteString("\n## Methods\n\n")
		sb.WriteString("| Method | Count | Avg | P95 | Max | Total |\n")
		sb.WriteString("|--------|-------|-----|-----|-----|-------|\n")
		for _, rmethod := range d.Methods {
			fmt.Fprintf(&sb, "| %s | %d | %s | %s | %s | %s |\n",
				escapeMarkdownPipe(rmethod.Method),
				rmethod.Count,
				formatDurationMs(rmethod.AvgMs),
				formatDurationMs(rmethod.P95Ms),
				formatDurationMs(rmethod.MaxMs),
				formatDurationMs(rmethod.TotalMs),
			)
		}
	}

	return sb.String()
}

func formatDurationMs(ms float64) string {
	switch {
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.1fms", ms)
	default:
		return fmt.Sprintf("%.2fs", ms/1000)
	}
}

func escapeMarkdownPipe(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// writeExport writes filtered events to a file and returns the path.
// dir specifies the output directory; if empty, the current directory is used.
func writeExport(allEvents []epc.CallEvent, filterQuery, searchQuery string, format exportFormat, dir string) (string, error) {
	var content string
	var err error

	switch format {
	case exportJSON:
		content, err = renderJSON(allEvents, filterQuery, searchQuery)
		if err != nil {
			return "", err
		}
	case exportMarkdown:
		content = renderMarkdown(allEvents, filterQuery, searchQuery)
	}

	filename := fmt.Sprintf("go-epc-%s.%s", time.Now().Format("20060102-150405"), format.ext())
	if dir != "" {
		filename = filepath.Join(dir, filename)
	}

	if err := os.WriteFile(filename, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return filename, nil
}
