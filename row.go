package clickhouse

import (
	"fmt"
	"strings"
)

// Row is one result row. Values keep the column order of the result metadata.
type Row struct {
	columns []Column
	index   map[string]int
	values  []any
}

func newRow(columns []Column, index map[string]int, values []any) Row {
	return Row{columns: columns, index: index, values: values}
}

// Len returns the number of values in the row. An absent row has length 0.
func (r Row) Len() int { return len(r.values) }

// Columns returns the row's column metadata.
func (r Row) Columns() []Column { return r.columns }

// Values returns the row's values in column order.
func (r Row) Values() []any { return r.values }

// Lookup returns the value of the named column.
func (r Row) Lookup(name string) (any, bool) {
	i, ok := r.index[name]
	if !ok || i >= len(r.values) {
		return nil, false
	}
	return r.values[i], true
}

// Get returns the value of the named column, or nil.
func (r Row) Get(name string) any {
	v, _ := r.Lookup(name)
	return v
}

// Value returns the value at position i, or nil when out of range.
func (r Row) Value(i int) any {
	if i < 0 || i >= len(r.values) {
		return nil
	}
	return r.values[i]
}

// Map returns the row as a column name to value map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.values))
	for i, c := range r.columns {
		if i < len(r.values) {
			m[c.Name] = r.values[i]
		}
	}
	return m
}

// String formats the row as "name=value" pairs in column order.
func (r Row) String() string {
	parts := make([]string, 0, len(r.values))
	for i, c := range r.columns {
		if i < len(r.values) {
			parts = append(parts, fmt.Sprintf("%s=%v", c.Name, r.values[i]))
		}
	}
	return "{" + strings.Join(parts, " ") + "}"
}
