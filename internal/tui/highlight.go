package tui

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma"
	"github.com/alecthomas/chroma/formatters"
	"github.com/alecthomas/chroma/lexers"
	"github.com/alecthomas/chroma/styles"
)

const chromaStyleName = "dracula"

// highlightFile colours code for the terminal. The lexer is picked from the
// filename first, then the configured language, then content analysis.
func highlightFile(filename, language, code string) string {
	if code == "" || os.Getenv("NO_COLOR") != "" {
		return code
	}
	lexer := resolveLexer(filename, language, code)
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	style := styles.Get(chromaStyleName)
	if style == nil {
		style = styles.Fallback
	}
	var buf bytes.Buffer
	if err := formatters.TTY256.Format(&buf, style, iterator); err != nil {
		return code
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func resolveLexer(filename, language, code string) chroma.Lexer {
	var lexer chroma.Lexer
	if base := filepath.Base(filename); base != "" && base != "." {
		lexer = lexers.Match(base)
	}
	if lexer == nil {
		if lang := strings.ToLower(strings.TrimSpace(language)); lang != "" {
			lexer = lexers.Get(lang)
		}
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}
