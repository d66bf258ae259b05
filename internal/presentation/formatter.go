package presentation

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Colors shared by every styled output.
const (
	colorAccent    = lipgloss.Color("#54A0FF")
	colorSuccess   = lipgloss.Color("#73F59F")
	colorError     = lipgloss.Color("#FF8787")
	colorSubtle    = lipgloss.Color("#BBBBBB")
	previewLength  = 3
	ellipsis       = "…"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer

	header lipgloss.Style
	label  lipgloss.Style
	subtle lipgloss.Style
	ok     lipgloss.Style
	bad    lipgloss.Style
	accent lipgloss.Style
}

// NewFormatter creates a new formatter. Styles degrade to plain text when
// writer is not a terminal.
func NewFormatter(writer io.Writer) *Formatter {
	r := lipgloss.NewRenderer(writer)
	return &Formatter{
		writer: writer,
		header: r.NewStyle().Bold(true).Foreground(colorAccent),
		label:  r.NewStyle().Bold(true),
		subtle: r.NewStyle().Foreground(colorSubtle),
		ok:     r.NewStyle().Foreground(colorSuccess),
		bad:    r.NewStyle().Foreground(colorError),
		accent: r.NewStyle().Foreground(colorAccent),
	}
}

// FormatJSON writes v as indented JSON.
func (f *Formatter) FormatJSON(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// FormatRunOutput prints merged results followed by the run summary.
func (f *Formatter) FormatRunOutput(out RunOutputDTO) error {
	var b strings.Builder
	b.WriteString(f.header.Render("Results"))
	b.WriteByte('\n')
	if len(out.Results) == 0 {
		b.WriteString(f.subtle.Render("  (none)"))
		b.WriteByte('\n')
	}
	for _, r := range out.Results {
		fmt.Fprintf(&b, "  %s %s  %s\n",
			f.label.Render(fmt.Sprintf("worker %d", r.Worker)),
			f.subtle.Render(fmt.Sprintf("task %d", r.Task)),
			Preview(r.Values))
	}
	b.WriteByte('\n')
	f.writeRun(&b, out.Run)
	_, err := io.WriteString(f.writer, b.String())
	return err
}

// FormatRun prints one run with its workers.
func (f *Formatter) FormatRun(run RunDTO) error {
	var b strings.Builder
	f.writeRun(&b, run)
	_, err := io.WriteString(f.writer, b.String())
	return err
}

// FormatRuns prints one line per run.
func (f *Formatter) FormatRuns(runs []RunDTO) error {
	var b strings.Builder
	if len(runs) == 0 {
		b.WriteString(f.subtle.Render("No runs recorded."))
		b.WriteByte('\n')
	}
	for _, r := range runs {
		fmt.Fprintf(&b, "%s  %-8s %s  %s  %s workers  %s\n",
			f.accent.Render(r.RunID),
			r.Command,
			f.state(r.State),
			f.subtle.Render(r.StartedAt.Local().Format(dateTimeLayout)),
			fmt.Sprint(len(r.Workers)),
			formatDuration(time.Duration(r.DurationMs)*time.Millisecond))
	}
	_, err := io.WriteString(f.writer, b.String())
	return err
}

// FormatEvent prints one lifecycle event on a single line.
func (f *Formatter) FormatEvent(e EventDTO) error {
	line := fmt.Sprintf("%s %s pid=%d %s",
		f.subtle.Render(fmt.Sprintf("%-9s", e.Type)),
		f.label.Render(fmt.Sprintf("[%d]", e.Worker)),
		e.PID,
		e.Entry)
	switch e.Type {
	case "harvested":
		line += fmt.Sprintf("  %d messages", e.Messages)
	case "exited":
		line += fmt.Sprintf("  exit %d", e.ExitCode)
	}
	if e.Error != "" {
		line += "  " + f.bad.Render(e.Error)
	}
	_, err := io.WriteString(f.writer, line+"\n")
	return err
}

func (f *Formatter) writeRun(b *strings.Builder, run RunDTO) {
	fmt.Fprintf(b, "%s %s  %s  %s  %s\n",
		f.header.Render("Run"),
		f.accent.Render(run.RunID),
		f.state(run.State),
		f.subtle.Render("codec="+run.Codec),
		formatDuration(time.Duration(run.DurationMs)*time.Millisecond))
	for _, w := range run.Workers {
		status := f.ok.Render(fmt.Sprintf("exit %d", w.ExitCode))
		if w.ExitCode != 0 || w.Error != "" {
			status = f.bad.Render(fmt.Sprintf("exit %d", w.ExitCode))
		}
		fmt.Fprintf(b, "  %s pid=%d %s  %d messages",
			f.label.Render(fmt.Sprintf("[%d]", w.Index)), w.PID, status, w.Messages)
		if w.Error != "" {
			fmt.Fprintf(b, "  %s", f.bad.Render(w.Error))
		}
		b.WriteByte('\n')
	}
}

func (f *Formatter) state(s string) string {
	switch s {
	case "completed":
		return f.ok.Render(s)
	case "failed":
		return f.bad.Render(s)
	case "stopped":
		return f.subtle.Render(s)
	default:
		return f.accent.Render(s)
	}
}

// Preview renders a value compactly. Sequences longer than twice the
// preview length are elided in the middle and suffixed with their length.
func Preview(v any) string {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return fmt.Sprint(v)
	}
	n := rv.Len()
	items := make([]string, 0, 2*previewLength+1)
	if n <= 2*previewLength {
		for i := 0; i < n; i++ {
			items = append(items, fmt.Sprint(rv.Index(i).Interface()))
		}
		return "[" + strings.Join(items, " ") + "]"
	}
	for i := 0; i < previewLength; i++ {
		items = append(items, fmt.Sprint(rv.Index(i).Interface()))
	}
	items = append(items, ellipsis)
	for i := n - previewLength; i < n; i++ {
		items = append(items, fmt.Sprint(rv.Index(i).Interface()))
	}
	return fmt.Sprintf("[%s] (%d items)", strings.Join(items, " "), n)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}
