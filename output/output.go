// Package output prints extraction reports.
package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/use-agent/tablegrab/models"
)

const (
	FormatJSON  = "json"
	FormatTable = "table"
)

// Write renders report to w in the given format.
func Write(w io.Writer, report *models.Report, format string) error {
	switch format {
	case FormatJSON, "":
		return writeJSON(w, report)
	case FormatTable:
		writeTable(w, report)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeJSON(w io.Writer, report *models.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(report)
}

// NewTable returns a table writer in the CLI's house style.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

func writeTable(w io.Writer, report *models.Report) {
	// The page carries no header row; columns are numbered.
	width := 0
	for _, row := range report.Rows {
		width = max(width, len(row))
	}

	t := NewTable(w)
	header := table.Row{"#"}
	for i := 1; i <= width; i++ {
		header = append(header, fmt.Sprintf("Col %d", i))
	}
	t.AppendHeader(header)

	for i, row := range report.Rows {
		r := table.Row{i + 1}
		for _, cell := range row {
			r = append(r, cell)
		}
		t.AppendRow(r)
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d rows", report.RowCount)})
	t.SetCaption("%s", report.SourceURL)
	t.Render()
}
