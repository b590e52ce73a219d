package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// Renderer writes command results either as human text and tables or as JSON.
type Renderer struct {
	w      io.Writer
	format string
}

// NewRenderer creates a renderer for format; anything but json renders text.
func NewRenderer(w io.Writer, format string) *Renderer {
	return &Renderer{w: w, format: format}
}

// JSON reports whether machine output was requested.
func (r *Renderer) JSON() bool {
	return r.format == FormatJSON
}

// Result prints v as JSON, or calls text otherwise.
func (r *Renderer) Result(v any, text func(r *Renderer)) error {
	if r.JSON() {
		enc := json.NewEncoder(r.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(r)
	return nil
}

// Printf writes a formatted line.
func (r *Renderer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.w, format+"\n", args...)
}

// Table renders rows under header, followed by a row count.
func (r *Renderer) Table(header table.Row, rows []table.Row) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(r.w, "(0 rows)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	t.AppendRows(rows)
	t.Render()
	_, _ = fmt.Fprintf(r.w, "(%d rows)\n", len(rows))
}

// orEmpty renders empty JSON lists as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
