package ui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"charm.land/lipgloss/v2"
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/mattn/go-isatty"
)

// Printer writes command output, styled when color is enabled.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a printer for w. Color is enabled when w is a terminal
// and NO_COLOR is not set.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: IsTerminal(w) && os.Getenv("NO_COLOR") == ""}
}

// NewPlainPrinter returns a printer that never styles its output.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Color reports whether output is styled.
func (p *Printer) Color() bool { return p.color }

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer { return p.w }

// Render applies style to s when color is enabled.
func (p *Printer) Render(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

func (p *Printer) line(style lipgloss.Style, format string, args ...any) {
	fmt.Fprintln(p.w, p.Render(style, fmt.Sprintf(format, args...)))
}

// Println prints an unstyled line.
func (p *Printer) Println(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

// Success prints a line in the success color.
func (p *Printer) Success(format string, args ...any) { p.line(SuccessStyle, format, args...) }

// Warn prints a line in the warning color.
func (p *Printer) Warn(format string, args ...any) { p.line(WarningStyle, format, args...) }

// Error prints a line in the error color.
func (p *Printer) Error(format string, args ...any) { p.line(ErrorStyle, format, args...) }

// Muted prints a dimmed line.
func (p *Printer) Muted(format string, args ...any) { p.line(MutedStyle, format, args...) }

// JSON prints v as indented JSON, highlighted when color is enabled.
func (p *Printer) JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	out := string(data)
	if p.color {
		out = Highlight(out, "json")
	}
	_, err = fmt.Fprintln(p.w, out)
	return err
}

// Highlight returns code with terminal syntax highlighting, or code unchanged
// when the language is unknown to the highlighter or formatting fails.
func Highlight(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}
