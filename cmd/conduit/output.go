package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/cuemby/conduit/pkg/types"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(14)
)

// printer renders command results as a table or JSON
type printer struct {
	w    io.Writer
	json bool
}

func newPrinter(w io.Writer, format string) *printer {
	return &printer{w: w, json: format == "json"}
}

// table prints rows under headers, or v as JSON in json mode
func (p *printer) table(v any, headers []string, rows [][]string) error {
	if p.json {
		return p.raw(v)
	}
	if len(rows) == 0 {
		_, err := fmt.Fprintln(p.w, mutedStyle.Render("No results"))
		return err
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
	_, err := fmt.Fprintln(p.w, t.Render())
	return err
}

// fields prints label/value pairs, or v as JSON in json mode
func (p *printer) fields(v any, pairs ...[2]string) error {
	if p.json {
		return p.raw(v)
	}
	for _, kv := range pairs {
		if _, err := fmt.Fprintf(p.w, "%s %s\n", labelStyle.Render(kv[0]+":"), kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) raw(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// success prints a confirmation line; json mode prints nothing
func (p *printer) success(format string, args ...any) {
	if p.json {
		return
	}
	fmt.Fprintln(p.w, successStyle.Render("✓ "+fmt.Sprintf(format, args...)))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func statusText(s types.JobStatus) string {
	switch s {
	case types.JobStatusSucceeded:
		return successStyle.Render(string(s))
	case types.JobStatusFailed, types.JobStatusCanceled:
		return failureStyle.Render(string(s))
	}
	return string(s)
}

func progressText(processed, total int) string {
	if total <= 0 {
		return fmt.Sprintf("%d", processed)
	}
	return fmt.Sprintf("%d/%d (%.0f%%)", processed, total, float64(processed)*100/float64(total))
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
