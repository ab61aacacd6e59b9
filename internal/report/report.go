// Package report collects human-facing diagnostics accumulated across
// processing passes, so that individual stages do not write to a shared
// global stream.
package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Report aggregates warnings and summary lines destined for the operator.
// Warnings are rendered immediately and retained for later inspection.
type Report struct {
	out      io.Writer
	warnings []string
}

// New creates a Report writing rendered diagnostics to w.
func New(w io.Writer) *Report {
	return &Report{out: w}
}

// Warnf renders a warning line and retains it.
func (r *Report) Warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.warnings = append(r.warnings, msg)
	fmt.Fprintln(r.out, color.YellowString("warning: %s", msg))
}

// Printf renders an uncolored summary line.
func (r *Report) Printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

// Headerf renders an emphasized section header.
func (r *Report) Headerf(format string, args ...any) {
	fmt.Fprintln(r.out, color.HiWhiteString(format, args...))
}

// Warnings returns all retained warning messages in emission order.
func (r *Report) Warnings() []string {
	return r.warnings
}
