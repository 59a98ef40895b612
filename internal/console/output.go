package console

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/hechtcarmel/jetbrains-index-mcp-plugin-sub003/internal/history"
)

// Output handles formatted output to the terminal
type Output struct {
	writer io.Writer
}

// NewOutput creates a new output handler
func NewOutput(w io.Writer) *Output {
	return &Output{writer: w}
}

// Println prints a message with a newline
func (o *Output) Println(args ...any) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message
func (o *Output) Printf(format string, args ...any) {
	fmt.Fprintf(o.writer, format, args...)
}

// Entry prints one history entry on a single line.
func (o *Output) Entry(e history.Entry) {
	var status *color.Color
	switch e.Status {
	case history.StatusSuccess:
		status = color.New(color.FgGreen)
	case history.StatusError:
		status = color.New(color.FgRed)
	default:
		status = color.New(color.FgYellow)
	}
	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan, color.Bold)

	gray.Fprintf(o.writer, "%s ", e.Timestamp.Local().Format(time.TimeOnly))
	status.Fprintf(o.writer, "%-7s ", e.Status)
	cyan.Fprintf(o.writer, "%s", e.ToolName)
	if e.DurationMs != nil {
		gray.Fprintf(o.writer, " %dms", *e.DurationMs)
	}
	if summary := summarizeParams(string(e.Parameters)); summary != "" {
		gray.Fprintf(o.writer, " %s", summary)
	}
	fmt.Fprintln(o.writer)

	if e.Error != "" {
		status.Fprintf(o.writer, "    %s\n", firstLine(e.Error, 80))
	}
	if len(e.AffectedFiles) > 0 {
		gray.Fprintf(o.writer, "    files: %s\n", strings.Join(e.AffectedFiles, ", "))
	}
}

// summarizeParams shortens the parameter JSON for display.
func summarizeParams(params string) string {
	if params == "" || params == "{}" {
		return ""
	}
	return firstLine(params, 60)
}

func firstLine(s string, limit int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if len(line) > limit {
		line = line[:limit] + "..."
	}
	return line
}

// Error prints an error message
func (o *Output) Error(format string, args ...any) {
	c := color.New(color.FgRed)
	c.Fprintf(o.writer, "Error: "+format+"\n", args...)
}

// Warning prints a warning message
func (o *Output) Warning(format string, args ...any) {
	c := color.New(color.FgYellow)
	c.Fprintf(o.writer, "Warning: "+format+"\n", args...)
}

// Success prints a success message
func (o *Output) Success(format string, args ...any) {
	c := color.New(color.FgGreen)
	c.Fprintf(o.writer, format+"\n", args...)
}

// Info prints an info message
func (o *Output) Info(format string, args ...any) {
	c := color.New(color.FgBlue)
	c.Fprintf(o.writer, format+"\n", args...)
}

// Muted prints muted/gray text
func (o *Output) Muted(format string, args ...any) {
	c := color.New(color.FgHiBlack)
	c.Fprintf(o.writer, format+"\n", args...)
}
