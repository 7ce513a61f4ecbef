package ui

import (
	"fmt"
	"io"
	"os"
)

// Printer writes styled one-line messages for CLI commands
type Printer struct {
	out io.Writer
	palette
}

// NewPrinter writes to out, or stdout when out is nil
func NewPrinter(out io.Writer, noColor bool) *Printer {
	if out == nil {
		out = os.Stdout
	}
	return &Printer{out: out, palette: palette{noColor: noColor}}
}

// Banner prints the application banner
func (p *Printer) Banner(version string) {
	fmt.Fprintln(p.out, p.box(bannerStyle, "galleryscraper "+version+"  gallery metadata extraction"))
}

// Info prints a label/value pair
func (p *Printer) Info(label, value string) {
	fmt.Fprintf(p.out, "%s: %s\n", p.render(labelStyle, label), p.render(valueStyle, value))
}

// Success prints a success message
func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.out, p.render(successStyle, "✓ "+msg))
}

// Warning prints a warning message
func (p *Printer) Warning(msg string) {
	fmt.Fprintln(p.out, p.render(warnStyle, "! "+msg))
}

// Error prints err under msg
func (p *Printer) Error(msg string, err error) {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	fmt.Fprintln(p.out, p.render(errorStyle, "✗ "+msg))
}
