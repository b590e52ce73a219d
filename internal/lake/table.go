package lake

import (
	"fmt"
	"slices"
)

// Column describes one table column. Type is a DuckDB type name.
type Column struct {
	Name string
	Type string
}

// Table is an in-memory partition: a schema and its rows.
type Table struct {
	Columns []Column
	Rows    [][]any
}

// NewTable creates an empty table with the given schema.
func NewTable(columns ...Column) *Table {
	return &Table{Columns: columns}
}

// Append adds a row. Values must follow column order.
func (t *Table) Append(values ...any) {
	t.Rows = append(t.Rows, values)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	return slices.IndexFunc(t.Columns, func(c Column) bool { return c.Name == name })
}

// HasColumn reports whether the table has a column called name.
func (t *Table) HasColumn(name string) bool {
	return t.ColumnIndex(name) >= 0
}

// Exclude returns a copy of the table without the rows whose column equals
// value, and how many rows were dropped. Values compare by their string form;
// NULL never matches. A table without the column is returned unchanged.
func (t *Table) Exclude(column, value string) (*Table, int) {
	idx := t.ColumnIndex(column)
	if idx < 0 {
		return t, 0
	}
	out := &Table{Columns: t.Columns}
	for _, row := range t.Rows {
		if v := row[idx]; v != nil && fmt.Sprint(v) == value {
			continue
		}
		out.Rows = append(out.Rows, row)
	}
	return out, len(t.Rows) - len(out.Rows)
}

// Column returns every value of the named column, or nil when absent.
func (t *Table) Column(name string) []any {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	out := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}
