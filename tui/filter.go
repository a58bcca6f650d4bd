package tui

import (
	"regexp"
	"strings"
	"time"

	"github.com/eval-exec/go-epc/epc"
)

type filterKind int

const (
	filterText      filterKind = iota // plain text substring match (method or args)
	filterDuration                    // d>100ms, d<10ms
	filterError                       // calls that returned an error
	filterKindMatch                   // kind:call, kind:return, etc.
	filterDir                         // dir:in, dir:out
	filterFlood                       // flood keyword
)

type durationOp int

const (
	durGT durationOp = iota // >
	durLT                   // <
)

type filterCondition struct {
	kind filterKind

	// filterText
	text string

	// filterDuration
	durOp    durationOp
	durValue time.Duration

	// filterKindMatch
	msgKind epc.MessageKind

	// filterDir
	dir epc.Direction
}

var reDuration = regexp.MustCompile(`^d([><])(\d+(?:\.\d+)?)(us|µs|ms|s|m)$`)

// kindKeywords maps the kind: filter's argument to a MessageKind.
var kindKeywords = map[string]epc.MessageKind{
	"call":         epc.KindCall,
	"return":       epc.KindReturn,
	"return-error": epc.KindReturnError,
	"epc-error":    epc.KindEpcError,
	"methods":      epc.KindMethodsQuery,
}

func parseFilter(input string) []filterCondition {
	tokens := strings.Fields(input)
	conds := make([]filterCondition, 0, len(tokens))

	for _, tok := range tokens {
		if c, ok := parseDuration(tok); ok {
			conds = append(conds, c)
			continue
		}
		if strings.ToLower(tok) == "error" {
			conds = append(conds, filterCondition{kind: filterError})
			continue
		}
		if strings.ToLower(tok) == "flood" {
			conds = append(conds, filterCondition{kind: filterFlood})
			continue
		}
		if c, ok := parseKind(tok); ok {
			conds = append(conds, c)
			continue
		}
		if c, ok := parseDir(tok); ok {
			conds = append(conds, c)
			continue
		}
		// Fallback: plain text match.
		conds = append(conds, filterCondition{
			kind: filterText,
			text: strings.ToLower(tok),
		})
	}
	return conds
}

func parseDuration(tok string) (filterCondition, bool) {
	m := reDuration.FindStringSubmatch(tok)
	if m == nil {
		return filterCondition{}, false
	}
	op := durGT
	if m[1] == "<" {
		op = durLT
	}
	unit := m[3]
	raw := m[2] + unitSuffix(unit)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return filterCondition{}, false
	}
	return filterCondition{
		kind:     filterDuration,
		durOp:    op,
		durValue: d,
	}, true
}

func unitSuffix(unit string) string {
	switch unit {
	case "us", "µs":
		return "us"
	case "ms":
		return "ms"
	case "s":
		return "s"
	case "m":
		return "m"
	}
	return "ms"
}

func parseKind(tok string) (filterCondition, bool) {
	lower := strings.ToLower(tok)
	if !strings.HasPrefix(lower, "kind:") {
		return filterCondition{}, false
	}
	k, ok := kindKeywords[lower[5:]]
	if !ok {
		return filterCondition{}, false
	}
	return filterCondition{kind: filterKindMatch, msgKind: k}, true
}

func parseDir(tok string) (filterCondition, bool) {
	switch strings.ToLower(tok) {
	case "dir:out":
		return filterCondition{kind: filterDir, dir: epc.Outbound}, true
	case "dir:in":
		return filterCondition{kind: filterDir, dir: epc.Inbound}, true
	}
	return filterCondition{}, false
}

func (c filterCondition) matchesEvent(ev epc.CallEvent) bool {
	switch c.kind {
	case filterText:
		return strings.Contains(strings.ToLower(ev.Method), c.text) ||
			strings.Contains(strings.ToLower(ev.Args), c.text)
	case filterDuration:
		switch c.durOp {
		case durGT:
			return ev.Duration > c.durValue
		case durLT:
			return ev.Duration < c.durValue
		}
	case filterError:
		return ev.Err != ""
	case filterKindMatch:
		return ev.Kind == c.msgKind
	case filterDir:
		return ev.Direction == c.dir
	case filterFlood:
		return ev.Flood
	}
	return false
}

func matchAllConditions(ev epc.CallEvent, conds []filterCondition) bool {
	for _, c := range conds {
		if !c.matchesEvent(ev) {
			return false
		}
	}
	return true
}

func describeFilter(input string) string {
	conds := parseFilter(input)
	if len(conds) == 0 {
		return input
	}
	var parts []string
	for _, c := range conds {
		switch c.kind {
		case filterText:
			parts = append(parts, "text:"+c.text)
		case filterDuration:
			op := ">"
			if c.durOp == durLT {
				op = "<"
			}
			parts = append(parts, "d"+op+c.durValue.String())
		case filterError:
			parts = append(parts, "error")
		case filterKindMatch:
			parts = append(parts, "kind:"+c.msgKind.String())
		case filterDir:
			if c.dir == epc.Outbound {
				parts = append(parts, "dir:out")
			} else {
				parts = append(parts, "dir:in")
			}
		case filterFlood:
			parts = append(parts, "flood")
		}
	}
	return strings.Join(parts, " ")
}

// wrapFooterItems arranges items into lines that fit within the given width.
// Each line starts with "  " and items are separated by "  ".
func wrapFooterItems(items []string, width int) string {
	if width <= 0 {
		return "  " + strings.Join(items, "  ")
	}

	const prefix = "  "
	const sep = "  "

	var lines []string
	line := prefix

	for _, item := range items {
		switch {
		case line == prefix:
			line += item
		case len(line)+len(sep)+len(item) <= width:
			line += sep + item
		default:
			lines = append(lines, line)
			line = prefix + item
		}
	}
	if line != prefix {
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
