// Package highlight applies ANSI terminal syntax highlighting to
// rendered EPC S-expressions, for display in the inspector.
package highlight

import (
	"bytes"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

var (
	lexer     chroma.Lexer
	formatter chroma.Formatter
	style     *chroma.Style
)

func init() {
	lexer = lexers.Get("common-lisp")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	formatter = formatters.Get("terminal256")
	style = styles.Get("monokai")
}

// Sexp returns s with ANSI terminal syntax highlighting applied,
// treating it as a Lisp-family S-expression (close enough to elisp
// for chroma's lexer to tokenize symbols, strings, and numbers
// sensibly). On error or empty input, the original string is returned
// unchanged.
func Sexp(s string) string {
	if s == "" {
		return s
	}

	iterator, err := lexer.Tokenise(nil, s)
	if err != nil {
		return s
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return s
	}

	return strings.TrimRight(buf.String(), "\n")
}
