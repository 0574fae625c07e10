package clickhouse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethanyzhang/clickhouse-http-go/rolling"
)

// TransferStats holds the transfer measurements of the request that produced
// a Statement.
type TransferStats = rolling.Stats

// Statistics is the server-side execution summary of a query.
type Statistics struct {
	Elapsed   float64    `json:"elapsed"`
	RowsRead  flexUint64 `json:"rows_read"`
	BytesRead flexUint64 `json:"bytes_read"`
}

// flexUint64 accepts both JSON numbers and quoted numbers, since the server
// quotes 64-bit integers unless told otherwise.
type flexUint64 uint64

func (f *flexUint64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid unsigned integer %s: %w", b, err)
	}
	*f = flexUint64(n)
	return nil
}

// jsonResult mirrors the body of a FORMAT JSON response.
type jsonResult struct {
	Meta                   []Column          `json:"meta"`
	Data                   []json.RawMessage `json:"data"`
	Rows                   *int              `json:"rows"`
	RowsBeforeLimitAtLeast *flexUint64       `json:"rows_before_limit_at_least"`
	Totals                 json.RawMessage   `json:"totals"`
	Extremes               *struct {
		Min json.RawMessage `json:"min"`
		Max json.RawMessage `json:"max"`
	} `json:"extremes"`
	Statistics Statistics `json:"statistics"`
}

// Statement is the immutable result of one executed query. Accessors only read
// the parsed response; none of them talks to the server.
type Statement struct {
	sql     string
	queryID string

	meta            []Column
	index           map[string]int
	rows            []Row
	count           int
	rowsBeforeLimit uint64
	totals          Row
	extremesMin     Row
	extremesMax     Row
	hasExtremes     bool
	statistics      Statistics
	raw             map[string]json.RawMessage
	body            []byte

	statusCode int
	header     http.Header
	transfer   TransferStats
	err        *DatabaseError
}

// parseStatement classifies resp and, when format is JSON, decodes its body.
// Server errors come back as *DatabaseError together with a Statement that
// still carries the transfer information.
func parseStatement(resp *rolling.Response, sql, queryID, format string) (*Statement, error) {
	st := &Statement{
		sql:        sql,
		queryID:    queryID,
		body:       resp.Body,
		statusCode: resp.StatusCode,
		header:     resp.Header,
		transfer:   resp.Stats,
	}

	dbErr := newDatabaseError(resp, sql)
	if dbErr == nil && isErrorBody(resp.Body) {
		dbErr = newDatabaseError(&rolling.Response{StatusCode: http.StatusInternalServerError, Header: resp.Header, Body: resp.Body}, sql)
		dbErr.StatusCode = resp.StatusCode
	}
	if dbErr != nil {
		st.err = dbErr
		return st, dbErr
	}

	if format != FormatJSON || len(bytes.TrimSpace(resp.Body)) == 0 {
		return st, nil
	}
	if err := st.decodeJSON(resp.Body); err != nil {
		// An exception raised after streaming began is appended to the body.
		if i := bytes.Index(resp.Body, []byte("Code: ")); i >= 0 {
			dbErr = newDatabaseError(&rolling.Response{StatusCode: http.StatusInternalServerError, Header: resp.Header, Body: resp.Body[i:]}, sql)
			dbErr.StatusCode = resp.StatusCode
			st.err = dbErr
			return st, dbErr
		}
		return st, fmt.Errorf("decode response for query %s: %w", queryID, err)
	}
	return st, nil
}

func (s *Statement) decodeJSON(body []byte) error {
	if err := json.Unmarshal(body, &s.raw); err != nil {
		return err
	}
	var res jsonResult
	if err := json.Unmarshal(body, &res); err != nil {
		return err
	}

	s.meta = res.Meta
	s.index = make(map[string]int, len(res.Meta))
	for i, c := range res.Meta {
		s.index[c.Name] = i
	}

	s.rows = make([]Row, 0, len(res.Data))
	for i, raw := range res.Data {
		row, err := s.decodeRow(raw)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		s.rows = append(s.rows, row)
	}

	s.count = len(s.rows)
	if res.Rows != nil {
		s.count = *res.Rows
	}
	if res.RowsBeforeLimitAtLeast != nil {
		s.rowsBeforeLimit = uint64(*res.RowsBeforeLimitAtLeast)
	}
	s.statistics = res.Statistics

	var err error
	if s.totals, err = s.decodeOptionalRow(res.Totals); err != nil {
		return fmt.Errorf("totals: %w", err)
	}
	if res.Extremes != nil {
		if s.extremesMin, err = s.decodeOptionalRow(res.Extremes.Min); err != nil {
			return fmt.Errorf("extremes min: %w", err)
		}
		if s.extremesMax, err = s.decodeOptionalRow(res.Extremes.Max); err != nil {
			return fmt.Errorf("extremes max: %w", err)
		}
		s.hasExtremes = s.extremesMin.Len() > 0 || s.extremesMax.Len() > 0
	}
	return nil
}

func (s *Statement) decodeOptionalRow(raw json.RawMessage) (Row, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Row{}, nil
	}
	return s.decodeRow(trimmed)
}

// decodeRow decodes a row given either as an object (JSON) or as an array
// (JSONCompact), ordering values by the result metadata.
func (s *Statement) decodeRow(raw json.RawMessage) (Row, error) {
	values := make([]any, len(s.meta))
	trimmed := bytes.TrimSpace(raw)

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var cells []json.RawMessage
		if err := json.Unmarshal(trimmed, &cells); err != nil {
			return Row{}, err
		}
		for i := range min(len(cells), len(s.meta)) {
			v, err := decodeValue(cells[i], s.meta[i].Type)
			if err != nil {
				return Row{}, fmt.Errorf("column %s: %w", s.meta[i].Name, err)
			}
			values[i] = v
		}
		return newRow(s.meta, s.index, values), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return Row{}, err
	}
	for i, c := range s.meta {
		v, err := decodeValue(obj[c.Name], c.Type)
		if err != nil {
			return Row{}, fmt.Errorf("column %s: %w", c.Name, err)
		}
		values[i] = v
	}
	return newRow(s.meta, s.index, values), nil
}

// decodeValue converts a JSON cell into a Go value according to the column type:
// signed integers become int64, unsigned integers uint64, floats float64, Bool
// bool, Decimal json.Number, Array a []any of decoded elements, and everything
// else the generic JSON decoding with numbers kept as json.Number.
func decodeValue(raw json.RawMessage, typ string) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	t := baseType(typ)
	switch name := typeName(t); name {
	case "Int8", "Int16", "Int32", "Int64":
		return strconv.ParseInt(scalarText(trimmed), 10, 64)
	case "UInt8", "UInt16", "UInt32", "UInt64":
		return strconv.ParseUint(scalarText(trimmed), 10, 64)
	case "Float32", "Float64":
		return strconv.ParseFloat(scalarText(trimmed), 64)
	case "Bool":
		var b bool
		err := json.Unmarshal(trimmed, &b)
		return b, err
	case "Decimal", "Decimal32", "Decimal64", "Decimal128", "Decimal256":
		return json.Number(scalarText(trimmed)), nil
	case "Array":
		inner := t[len("Array(") : len(t)-1]
		var cells []json.RawMessage
		if err := json.Unmarshal(trimmed, &cells); err != nil {
			return nil, err
		}
		items := make([]any, len(cells))
		for i, cell := range cells {
			v, err := decodeValue(cell, inner)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	err := dec.Decode(&v)
	return v, err
}

// scalarText returns the text of a JSON number or the contents of a JSON string.
func scalarText(raw []byte) string {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// SQL returns the SQL text that produced this statement.
func (s *Statement) SQL() string { return s.sql }

// QueryID returns the query id sent with the request.
func (s *Statement) QueryID() string { return s.queryID }

// IsError reports whether the response was classified as a server error.
func (s *Statement) IsError() bool { return s.err != nil }

// Error returns the server error captured at parse time, if any.
func (s *Statement) Error() *DatabaseError { return s.err }

// StatusCode returns the HTTP status of the response.
func (s *Statement) StatusCode() int { return s.statusCode }

// Header returns the HTTP response headers.
func (s *Statement) Header() http.Header { return s.header }

// Body returns the raw response body.
func (s *Statement) Body() []byte { return s.body }

// Info returns transfer statistics for the request.
func (s *Statement) Info() TransferStats { return s.transfer }

// TotalTime returns the wall time of the request.
func (s *Statement) TotalTime() time.Duration { return s.transfer.TotalTime }

// RawData returns the top-level fields of the JSON response, undecoded.
func (s *Statement) RawData() map[string]json.RawMessage { return s.raw }

// Meta returns the column metadata in declaration order.
func (s *Statement) Meta() []Column { return s.meta }

// Rows returns all rows.
func (s *Statement) Rows() []Row { return s.rows }

// Count returns the number of rows in the result.
func (s *Statement) Count() int { return s.count }

// CountAll returns the number of rows before any LIMIT was applied, when the
// server reported it, and 0 otherwise.
func (s *Statement) CountAll() uint64 { return s.rowsBeforeLimit }

// Statistics returns the server's execution statistics.
func (s *Statement) Statistics() Statistics { return s.statistics }

// FetchRow returns row i.
func (s *Statement) FetchRow(i int) (Row, bool) {
	if i < 0 || i >= len(s.rows) {
		return Row{}, false
	}
	return s.rows[i], true
}

// FirstRow returns the first row.
func (s *Statement) FirstRow() (Row, bool) {
	return s.FetchRow(0)
}

// FetchOne returns the named column of the first row, or nil when there are
// no rows or no such column. An empty name selects the first column, not the
// whole row; use FirstRow for that.
func (s *Statement) FetchOne(column string) any {
	row, ok := s.FirstRow()
	if !ok {
		return nil
	}
	if column == "" {
		return row.Value(0)
	}
	return row.Get(column)
}

// FetchOneAt returns column i of the first row.
func (s *Statement) FetchOneAt(i int) any {
	row, ok := s.FirstRow()
	if !ok {
		return nil
	}
	return row.Value(i)
}

// RowsAsTree groups rows by the string form of keyColumn. When several rows
// share a key, the last one wins.
func (s *Statement) RowsAsTree(keyColumn string) (map[string]Row, error) {
	i, ok := s.index[keyColumn]
	if !ok {
		return nil, newQueryError(nil, "column %q is not in the result", keyColumn)
	}
	tree := make(map[string]Row, len(s.rows))
	for _, row := range s.rows {
		tree[fmt.Sprint(row.Value(i))] = row
	}
	return tree, nil
}

// Totals returns the WITH TOTALS row. It has length 0 when absent.
func (s *Statement) Totals() Row { return s.totals }

// Extremes returns the min and max rows when the query ran with extremes=1.
func (s *Statement) Extremes() (minRow, maxRow Row, ok bool) {
	return s.extremesMin, s.extremesMax, s.hasExtremes
}

// ExtremesMin returns the row of per-column minimums.
func (s *Statement) ExtremesMin() Row { return s.extremesMin }

// ExtremesMax returns the row of per-column maximums.
func (s *Statement) ExtremesMax() Row { return s.extremesMax }
