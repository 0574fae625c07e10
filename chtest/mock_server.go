// Package chtest provides an in-process mock of the ClickHouse HTTP interface
// for tests.
package chtest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ethanyzhang/clickhouse-http-go"
)

// --- Data Models ---

// MockQueryTemplate defines the static result of one SQL text. The SQL is
// matched after trimming whitespace and any trailing FORMAT clause.
type MockQueryTemplate struct {
	SQL     string              // The SQL query string used for template matching.
	Columns []clickhouse.Column // Metadata describing the result set columns.
	Data    [][]any             // The full result set.

	Totals          []any   // Optional WITH TOTALS row.
	ExtremesMin     []any   // Optional extremes rows, sent together.
	ExtremesMax     []any
	RowsBeforeLimit *uint64 // Optional rows_before_limit_at_least.

	Error   *clickhouse.DatabaseError // Optional error to simulate a query failure.
	Latency time.Duration             // Latency for the query execution.
}

// ReceivedRequest records what the server saw for one query.
type ReceivedRequest struct {
	QueryID  string
	SQL      string
	Params   url.Values
	Header   http.Header
	External map[string][]byte // external table name -> uploaded data
	Body     []byte            // insert data after decompression
}

// --- Mock Server Implementation ---

// MockClickHouseServer simulates a ClickHouse server's HTTP interface.
//
// Selects are answered from registered templates in FORMAT JSON. Inserts with
// a column list are checked field by field against CSV/TSV data, and rejected
// with error 27 when a record has the wrong number of fields, the way the
// server rejects unparsable input.
type MockClickHouseServer struct {
	server *httptest.Server

	// templates maps normalized SQL strings to their MockQueryTemplate.
	templates map[string]*MockQueryTemplate

	// tableErrors fails every insert into the named table.
	tableErrors map[string]*clickhouse.DatabaseError

	requests []ReceivedRequest
	inserts  map[string]int // table -> inserted rows

	mu sync.RWMutex // Protects maps during concurrent test execution.

	// defaultLatency is the default fallback query latency if no template latency is defined.
	defaultLatency time.Duration

	inFlight atomic.Int32
	peak     atomic.Int32
}

// NewMockClickHouseServer starts a mock server.
func NewMockClickHouseServer() *MockClickHouseServer {
	mock := &MockClickHouseServer{
		templates:   make(map[string]*MockQueryTemplate),
		tableErrors: make(map[string]*clickhouse.DatabaseError),
		inserts:     make(map[string]int),
	}

	mux := http.NewServeMux()

	// GET /ping: liveness check.
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "Ok.\n")
	})

	// POST /: queries, writes and inserts.
	mux.HandleFunc("POST /", mock.handleQuery)

	mock.server = httptest.NewServer(mux)
	return mock
}

// AddQuery registers a SQL template.
func (m *MockClickHouseServer) AddQuery(tmpl *MockQueryTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[normalizeSQL(tmpl.SQL)] = tmpl
}

// FailInserts makes every insert into table fail with err.
func (m *MockClickHouseServer) FailInserts(table string, err *clickhouse.DatabaseError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tableErrors[table] = err
}

// SetDefaultLatency configures the fallback query latency.
func (m *MockClickHouseServer) SetDefaultLatency(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultLatency = latency
}

// Requests returns every request received so far.
func (m *MockClickHouseServer) Requests() []ReceivedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ReceivedRequest(nil), m.requests...)
}

// LastRequest returns the most recent request.
func (m *MockClickHouseServer) LastRequest() (ReceivedRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return ReceivedRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

// InsertedRows returns the number of rows accepted into table.
func (m *MockClickHouseServer) InsertedRows(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inserts[table]
}

// PeakConcurrency returns the highest number of queries handled at once.
func (m *MockClickHouseServer) PeakConcurrency() int {
	return int(m.peak.Load())
}

// URL returns the base URL of the mock server.
func (m *MockClickHouseServer) URL() string { return m.server.URL }

// Config returns a client configuration pointing at the mock server.
func (m *MockClickHouseServer) Config() clickhouse.Config {
	u, _ := url.Parse(m.server.URL)
	cfg := clickhouse.DefaultConfig()
	cfg.Host = u.Hostname()
	_, _ = fmt.Sscan(u.Port(), &cfg.Port)
	return cfg
}

// Close shuts down the mock server.
func (m *MockClickHouseServer) Close() { m.server.Close() }

// --- Request Handlers ---

var (
	formatSuffix  = regexp.MustCompile(`(?i)\s+FORMAT\s+[A-Za-z0-9_]+\s*;?\s*$`)
	insertPattern = regexp.MustCompile(`(?is)^\s*INSERT\s+INTO\s+([A-Za-z0-9_.]+)\s*(?:\(([^)]*)\))?\s*(VALUES\s*(.*)|FORMAT\s+([A-Za-z]+))?\s*$`)
)

func normalizeSQL(sql string) string {
	return strings.TrimSpace(formatSuffix.ReplaceAllString(strings.TrimSpace(sql), ""))
}

func (m *MockClickHouseServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}

	rec, err := m.readRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, &clickhouse.DatabaseError{Code: 1000, Message: err.Error()})
		return
	}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	latency := m.defaultLatency
	m.mu.Unlock()

	if match := insertPattern.FindStringSubmatch(rec.SQL); match != nil {
		time.Sleep(latency)
		m.handleInsert(w, rec, match)
		return
	}

	m.mu.RLock()
	tmpl, exists := m.templates[normalizeSQL(rec.SQL)]
	m.mu.RUnlock()

	if exists && tmpl.Latency > 0 {
		latency = tmpl.Latency
	}
	if latency > 0 {
		time.Sleep(latency)
	}

	if !exists {
		if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(rec.SQL)), "SELECT") {
			w.WriteHeader(http.StatusOK)
			return
		}
		tmpl = &MockQueryTemplate{
			Columns: []clickhouse.Column{{Name: "result", Type: "String"}},
			Data:    [][]any{{"Query template not found; default success"}},
		}
	}
	if tmpl.Error != nil {
		writeError(w, http.StatusInternalServerError, tmpl.Error)
		return
	}

	m.writeResult(w, r, rec, tmpl)
}

// readRequest extracts the SQL, external tables and insert data of r.
func (m *MockClickHouseServer) readRequest(r *http.Request) (ReceivedRequest, error) {
	rec := ReceivedRequest{
		Params:   r.URL.Query(),
		Header:   r.Header.Clone(),
		QueryID:  r.URL.Query().Get("query_id"),
		External: map[string][]byte{},
	}

	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return rec, fmt.Errorf("gzip: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return rec, fmt.Errorf("multipart: %w", err)
			}
			data, err := io.ReadAll(part)
			if err != nil {
				return rec, err
			}
			rec.External[part.FormName()] = data
		}
		rec.SQL = rec.Params.Get("query")
		return rec, nil
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return rec, err
	}
	if q := rec.Params.Get("query"); q != "" {
		rec.SQL = q
		rec.Body = data
	} else {
		rec.SQL = string(data)
	}
	return rec, nil
}

func (m *MockClickHouseServer) handleInsert(w http.ResponseWriter, rec ReceivedRequest, match []string) {
	table := match[1]

	m.mu.RLock()
	tableErr := m.tableErrors[table]
	m.mu.RUnlock()
	if tableErr != nil {
		writeError(w, http.StatusInternalServerError, tableErr)
		return
	}

	var columns []string
	if match[2] != "" {
		for _, c := range strings.Split(match[2], ",") {
			columns = append(columns, strings.TrimSpace(c))
		}
	}

	rows := 0
	switch {
	case match[4] != "":
		rows = countTuples(match[4])
	case match[5] != "":
		var err error
		rows, err = countRecords(rec.Body, match[5], len(columns))
		if err != nil {
			writeError(w, http.StatusInternalServerError, &clickhouse.DatabaseError{Code: 27, Message: "Cannot parse input: " + err.Error()})
			return
		}
	}

	m.mu.Lock()
	m.inserts[table] += rows
	m.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// countTuples counts the top-level parenthesized tuples of a VALUES list.
func countTuples(values string) int {
	n, depth := 0, 0
	var quote byte
	for i := 0; i < len(values); i++ {
		c := values[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '(':
			if depth == 0 {
				n++
			}
			depth++
		case c == ')':
			depth--
		}
	}
	return n
}

// countRecords counts delimited records, checking each against want fields
// when want is not zero.
func countRecords(data []byte, format string, want int) (int, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return 0, nil
	}
	f, err := clickhouse.ParseDataFormat(format)
	if err != nil || f.Delimiter() == 0 {
		return bytes.Count(data, []byte("\n")), nil
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = f.Delimiter()
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return 0, err
	}
	if f.HasHeader() && len(records) > 0 {
		records = records[1:]
	}
	for i, rec := range records {
		if want > 0 && len(rec) != want {
			return 0, fmt.Errorf("record %d has %d fields, expected %d", i+1, len(rec), want)
		}
	}
	return len(records), nil
}

// --- Protocol Response Logic ---

type jsonExtremes struct {
	Min map[string]any `json:"min"`
	Max map[string]any `json:"max"`
}

type jsonStatistics struct {
	Elapsed   float64 `json:"elapsed"`
	RowsRead  uint64  `json:"rows_read"`
	BytesRead uint64  `json:"bytes_read"`
}

type jsonResult struct {
	Meta                   []clickhouse.Column `json:"meta"`
	Data                   []map[string]any    `json:"data"`
	Totals                 map[string]any      `json:"totals,omitempty"`
	Extremes               *jsonExtremes       `json:"extremes,omitempty"`
	Rows                   int                 `json:"rows"`
	RowsBeforeLimitAtLeast *uint64             `json:"rows_before_limit_at_least,omitempty"`
	Statistics             jsonStatistics      `json:"statistics"`
}

func rowObject(columns []clickhouse.Column, row []any) map[string]any {
	obj := make(map[string]any, len(columns))
	for i, c := range columns {
		if i < len(row) {
			obj[c.Name] = row[i]
		}
	}
	return obj
}

func (m *MockClickHouseServer) writeResult(w http.ResponseWriter, r *http.Request, rec ReceivedRequest, tmpl *MockQueryTemplate) {
	res := jsonResult{
		Meta:                   tmpl.Columns,
		Data:                   make([]map[string]any, 0, len(tmpl.Data)),
		Rows:                   len(tmpl.Data),
		RowsBeforeLimitAtLeast: tmpl.RowsBeforeLimit,
		Statistics:             jsonStatistics{Elapsed: 0.001, RowsRead: uint64(len(tmpl.Data))},
	}
	for _, row := range tmpl.Data {
		res.Data = append(res.Data, rowObject(tmpl.Columns, row))
	}
	if tmpl.Totals != nil {
		res.Totals = rowObject(tmpl.Columns, tmpl.Totals)
	}
	if tmpl.ExtremesMin != nil || tmpl.ExtremesMax != nil {
		res.Extremes = &jsonExtremes{Min: rowObject(tmpl.Columns, tmpl.ExtremesMin), Max: rowObject(tmpl.Columns, tmpl.ExtremesMax)}
	}

	payload, err := json.Marshal(res)
	if err != nil {
		writeError(w, http.StatusInternalServerError, &clickhouse.DatabaseError{Code: 1000, Message: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	if rec.QueryID != "" {
		w.Header().Set(clickhouse.QueryIDHeader, rec.QueryID)
	}
	if rec.Params.Get("enable_http_compression") == "1" && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		gz := gzip.NewWriter(w)
		_, _ = gz.Write(payload)
		_ = gz.Close()
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// writeError writes a server error the way ClickHouse does: a plain text body
// starting with "Code: N." and the exception code header.
func writeError(w http.ResponseWriter, statusCode int, err *clickhouse.DatabaseError) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.Header().Set("X-ClickHouse-Exception-Code", fmt.Sprint(err.Code))
	w.WriteHeader(statusCode)
	_, _ = fmt.Fprintf(w, "Code: %d. DB::Exception: %s\n", err.Code, err.Message)
}
