package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ethanyzhang/clickhouse-http-go"
)

func renderStatement(w io.Writer, st *clickhouse.Statement, format string) error {
	switch format {
	case "json":
		return renderJSON(w, st)
	case "raw":
		_, err := w.Write(st.Body())
		return err
	default:
		return renderTable(w, st)
	}
}

func renderTable(w io.Writer, st *clickhouse.Statement) error {
	if st.Count() == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	meta := st.Meta()
	header := make(table.Row, len(meta))
	for i, c := range meta {
		header[i] = c.Name
	}
	t.AppendHeader(header)

	for _, row := range st.Rows() {
		t.AppendRow(tableRow(row))
	}
	if totals := st.Totals(); totals.Len() > 0 {
		t.AppendFooter(tableRow(totals))
	}

	t.Render()
	if all := st.CountAll(); all > 0 {
		_, _ = fmt.Fprintf(w, "(%d rows, %d before limit)\n", st.Count(), all)
	} else {
		_, _ = fmt.Fprintf(w, "(%d rows)\n", st.Count())
	}
	return nil
}

func tableRow(row clickhouse.Row) table.Row {
	values := row.Values()
	out := make(table.Row, len(values))
	for i, v := range values {
		out[i] = formatValue(v)
	}
	return out
}

func renderJSON(w io.Writer, st *clickhouse.Statement) error {
	rows := make([]map[string]any, 0, st.Count())
	for _, row := range st.Rows() {
		rows = append(rows, row.Map())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}
