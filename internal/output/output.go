// Package output provides formatted console output for the ledgerlink CLI.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Status of one reported item.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
	StatusSkipped
)

// Output handles formatted output.
type Output struct {
	w        io.Writer
	useColor bool
	debug    bool
}

// New creates a new output handler.
func New(w io.Writer) *Output {
	return &Output{
		w:        w,
		useColor: true,
	}
}

// SetColor enables or disables color output.
func (o *Output) SetColor(enabled bool) {
	o.useColor = enabled
}

// SetDebug enables or disables debug output.
func (o *Output) SetDebug(enabled bool) {
	o.debug = enabled
}

// color returns the string wrapped in color codes if enabled.
func (o *Output) color(c, s string) string {
	if !o.useColor {
		return s
	}
	return c + s + colorReset
}

// DeployStart prints the deployment banner.
func (o *Output) DeployStart(target string, jars int) {
	o.printf("\n%s %s %s\n", o.color(colorBold, "DEPLOY"), target,
		o.color(colorGray, fmt.Sprintf("(%d jars)", jars)))
}

// DeployEnd prints the deployment summary.
func (o *Output) DeployEnd(deployed, failed int, d time.Duration) {
	o.printf("\n%s ", o.color(colorBold, "RECAP"))

	ok := o.color(colorGreen, fmt.Sprintf("deployed=%d", deployed))
	errs := o.color(colorRed, fmt.Sprintf("errors=%d", failed))

	o.printf("%s %s", ok, errs)
	o.printf(" %s\n", o.color(colorGray, fmt.Sprintf("(%.2fs)", d.Seconds())))
}

// Item prints one result line.
// Format: [indicator] name - detail
func (o *Output) Item(name string, status Status, detail string) {
	var indicator, statusColor string
	switch status {
	case StatusOK:
		indicator, statusColor = "✓", colorGreen
	case StatusFailed:
		indicator, statusColor = "✗", colorRed
	case StatusSkipped:
		indicator, statusColor = "○", colorCyan
	default:
		indicator, statusColor = "?", colorGray
	}

	o.printf("  %s %s\n", o.color(statusColor, indicator), name)
	if detail != "" && (status == StatusFailed || o.debug) {
		for _, line := range strings.Split(strings.TrimRight(detail, "\n"), "\n") {
			o.printf("    %s %s\n", o.color(colorGray, "→"), line)
		}
	}
}

// List prints names under a section header, or a placeholder when empty.
func (o *Output) List(title string, names []string) {
	o.Section(title)
	if len(names) == 0 {
		o.printf("  %s\n", o.color(colorGray, "(none)"))
		return
	}
	for _, n := range names {
		o.printf("  %s\n", n)
	}
}

// Raw prints the node shell's reply verbatim.
func (o *Output) Raw(text string) {
	if text == "" {
		return
	}
	o.printf("%s", text)
	if !strings.HasSuffix(text, "\n") {
		o.printf("\n")
	}
}

// Section prints a section header.
func (o *Output) Section(name string) {
	o.printf("\n%s\n", o.color(colorBold, name))
}

// Info prints an informational message.
func (o *Output) Info(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorBlue, "INFO"), fmt.Sprintf(format, args...))
}

// Warn prints a warning message.
func (o *Output) Warn(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorYellow, "WARN"), fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorRed, "ERROR"), fmt.Sprintf(format, args...))
}

// Debug prints a debug message (only in debug mode).
func (o *Output) Debug(format string, args ...any) {
	if o.debug {
		o.printf("%s %s\n", o.color(colorGray, "DEBUG"), fmt.Sprintf(format, args...))
	}
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}
