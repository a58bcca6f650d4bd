package epc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseSexp parses a single S-expression from payload and returns the
// resulting Value. Trailing bytes after the first complete expression
// are ignored, matching the source material's "top-level list" reading
// style: the message codec always hands ParseSexp exactly one frame's
// payload and expects exactly one value back.
func ParseSexp(payload []byte) (Value, error) {
	p := &sexpParser{buf: payload}
	p.skipSpace()
	if p.pos >= len(p.buf) {
		return Nil, &ProtocolError{Kind: ErrInvalidMessageFormat, Message: "empty payload"}
	}
	v, err := p.parseValue()
	if err != nil {
		return Nil, err
	}
	return v, nil
}

// EmitSexp renders v as its canonical wire text. It rejects values that
// contain a NaN or infinite Float anywhere in their tree, since those
// have no representation in the wire's numeric grammar.
func EmitSexp(v Value) ([]byte, error) {
	if HasNaNOrInf(v) {
		return nil, newErr(ErrInvalidMessageFormat, "cannot emit NaN or infinite float")
	}
	var b strings.Builder
	writeValue(&b, v)
	return []byte(b.String()), nil
}

type sexpParser struct {
	buf []byte
	pos int
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (p *sexpParser) skipSpace() {
	for p.pos < len(p.buf) && isSpace(p.buf[p.pos]) {
		p.pos++
	}
}

func (p *sexpParser) parseValue() (Value, error) {
	p.skipSpace()
	if p.pos >= len(p.buf) {
		return Nil, &ProtocolError{Kind: ErrInvalidMessageFormat, Message: "unexpected end of input"}
	}

	switch c := p.buf[p.pos]; {
	case c == '(':
		return p.parseList()
	case c == '"':
		return p.parseString()
	default:
		return p.parseAtom()
	}
}

func (p *sexpParser) parseList() (Value, error) {
	p.pos++ // consume '('
	var items []Value
	for {
		p.skipSpace()
		if p.pos >= len(p.buf) {
			return Nil, &ProtocolError{Kind: ErrInvalidMessageFormat, Message: "unbalanced parentheses"}
		}
		if p.buf[p.pos] == ')' {
			p.pos++
			return List(items...), nil
		}
		v, err := p.parseValue()
		if err != nil {
			return Nil, err
		}
		items = append(items, v)
	}
}

func (p *sexpParser) parseString() (Value, error) {
	p.pos++ // consume opening quote
	var b strings.Builder
	for {
		if p.pos >= len(p.buf) {
			return Nil, &ProtocolError{Kind: ErrInvalidMessageFormat, Message: "unterminated string"}
		}
		c := p.buf[p.pos]
		switch c {
		case '"':
			p.pos++
			return String(b.String()), nil
		case '\\':
			p.pos++
			if p.pos >= len(p.buf) {
				return Nil, &ProtocolError{Kind: ErrInvalidMessageFormat, Message: "unterminated escape"}
			}
			b.WriteByte(p.buf[p.pos])
			p.pos++
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
}

func isAtomBoundary(c byte) bool {
	return isSpace(c) || c == '(' || c == ')' || c == '"'
}

func (p *sexpParser) parseAtom() (Value, error) {
	start := p.pos
	for p.pos < len(p.buf) && !isAtomBoundary(p.buf[p.pos]) {
		p.pos++
	}
	tok := string(p.buf[start:p.pos])
	if tok == "" {
		return Nil, &ProtocolError{Kind: ErrInvalidMessageFormat, Message: fmt.Sprintf("unexpected character %q", p.buf[p.pos])}
	}
	return atomValue(tok), nil
}

// atomValue classifies a bare token per the parsing policy in the
// specification: nil/t are canonicalized, integers and floats are
// recognized by grammar, everything else is a Symbol.
func atomValue(tok string) Value {
	switch tok {
	case "nil":
		return Nil
	case "t":
		return True
	}
	if i, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return Int(i)
	}
	if looksLikeFloat(tok) {
		if f, err := strconv.ParseFloat(tok, 64); err == nil {
			return Float(f)
		}
	}
	return Symbol(tok)
}

func looksLikeFloat(tok string) bool {
	hasDigit := false
	for i, c := range tok {
		switch {
		case c >= '0' && c <= '9':
			hasDigit = true
		case c == '.' || c == 'e' || c == 'E':
			// fine
		case (c == '+' || c == '-') && i == 0:
			// leading sign
		case (c == '+' || c == '-') && i > 0 && (tok[i-1] == 'e' || tok[i-1] == 'E'):
			// exponent sign
		default:
			return false
		}
	}
	return hasDigit && strings.ContainsAny(tok, ".eE")
}

func writeValue(b *strings.Builder, v Value) {
	switch v.Kind() {
	case KindNil:
		b.WriteString("nil")
	case KindBool:
		if v.BoolValue() {
			b.WriteString("t")
		} else {
			b.WriteString("nil")
		}
	case KindInt:
		b.WriteString(strconv.FormatInt(v.IntValue(), 10))
	case KindFloat:
		writeFloat(b, v.FloatValue())
	case KindString:
		writeQuoted(b, v.Text())
	case KindSymbol:
		b.WriteString(v.Text())
	case KindList:
		b.WriteByte('(')
		for i, item := range v.Items() {
			if i > 0 {
				b.WriteByte(' ')
			}
			writeValue(b, item)
		}
		b.WriteByte(')')
	case KindMap:
		writeAlist(b, v.MapValue())
	}
}

// writeFloat assumes f is finite; EmitSexp checks this up front via
// HasNaNOrInf so writeValue never has to handle the rejection case.
func writeFloat(b *strings.Builder, f float64) {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	b.WriteString(s)
}

func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
}

// writeAlist renders an OrderedMap as a ((key . value) ...) association
// list, the conventional Lisp encoding for a map absent a dedicated
// wire form. Each entry is a genuine dotted pair, not a two-element
// list, since Value has no cons-cell variant to build one from first.
func writeAlist(b *strings.Builder, m *OrderedMap) {
	b.WriteByte('(')
	for i, k := range m.Keys() {
		if i > 0 {
			b.WriteByte(' ')
		}
		v, _ := m.Get(k)
		b.WriteByte('(')
		b.WriteString(k)
		b.WriteString(" . ")
		writeValue(b, v)
		b.WriteByte(')')
	}
	b.WriteByte(')')
}

// HasNaNOrInf reports whether v (recursively) contains a Float that
// cannot round-trip through the wire. Callers that build result values
// programmatically should check this before returning them from a
// handler.
func HasNaNOrInf(v Value) bool {
	switch v.Kind() {
	case KindFloat:
		return math.IsNaN(v.FloatValue()) || math.IsInf(v.FloatValue(), 0)
	case KindList:
		for _, item := range v.Items() {
			if HasNaNOrInf(item) {
				return true
			}
		}
	case KindMap:
		m := v.MapValue()
		for _, k := range m.Keys() {
			if item, _ := m.Get(k); HasNaNOrInf(item) {
				return true
			}
		}
	}
	return false
}
