package clickhouse

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ethanyzhang/clickhouse-http-go/rolling"
)

// Sentinel causes carried by QueryError.
var (
	ErrMissingParam   = errors.New("unbound template parameter")
	ErrDuplicateTable = errors.New("duplicate external table name")
	ErrNotExecuted    = errors.New("async query has not been executed")
	ErrFileNotFound   = errors.New("file not found")
	ErrColumnMismatch = errors.New("column count does not match file fields")
	ErrUnbalancedIf   = errors.New("unbalanced {if} block")
	ErrDuplicateFile  = errors.New("file listed more than once")
)

// TransportError reports that a request never got an HTTP response from the
// server. Callers may retry it.
type TransportError = rolling.TransportError

// QueryError reports a client-side construction error: a bad template, a bad
// external table, or misuse of an async result. It is never retried.
type QueryError struct {
	// Message describes what was being built when the error occurred
	Message string

	// Err is the underlying cause, usually one of the Err* sentinels
	Err error
}

func (e *QueryError) Error() string {
	if e.Err == nil {
		return "query error: " + e.Message
	}
	if e.Message == "" {
		return "query error: " + e.Err.Error()
	}
	return fmt.Sprintf("query error: %s: %v", e.Message, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func newQueryError(err error, format string, args ...any) *QueryError {
	return &QueryError{Message: fmt.Sprintf(format, args...), Err: err}
}

// DatabaseError reports an error returned by the server for an accepted request.
type DatabaseError struct {
	// Code is the server's numeric error code, 0 if the body carried none
	Code int

	// Message is the server's message, verbatim
	Message string

	// StatusCode is the HTTP status of the response
	StatusCode int

	// SQL is the statement that failed, if known
	SQL string
}

// String returns a formatted string representation of the DatabaseError.
// The format is "Code: N. Message".
func (e *DatabaseError) String() string {
	if e == nil {
		return "nil DatabaseError"
	}
	return fmt.Sprintf("Code: %d. %s", e.Code, e.Message)
}

func (e *DatabaseError) Error() string {
	return e.String()
}

// Well-known server error codes.
const (
	CodeSyntaxError     = 62
	CodeUnknownTable    = 60
	CodeUnknownDatabase = 81
	CodeTimeoutExceeded = 159
	CodeTooManyQueries  = 202
	CodeMemoryLimit     = 241
)

// Retryable reports whether the server error is a transient resource limit.
func (e *DatabaseError) Retryable() bool {
	switch e.Code {
	case CodeTimeoutExceeded, CodeTooManyQueries, CodeMemoryLimit:
		return true
	}
	return false
}

var errorBodyPattern = regexp.MustCompile(`(?s)Code:\s*(\d+)[.,]\s*(.*)`)

// exceptionCodeHeader is set by the server when a query fails, including after
// a 200 status has already been sent.
const exceptionCodeHeader = "X-ClickHouse-Exception-Code"

// newDatabaseError builds a DatabaseError from a failed response. It returns
// nil if the response is a success.
func newDatabaseError(resp *rolling.Response, sql string) *DatabaseError {
	headerCode := resp.Header.Get(exceptionCodeHeader)
	if resp.OK() && headerCode == "" {
		return nil
	}

	body := strings.TrimSpace(string(resp.Body))
	dbErr := &DatabaseError{StatusCode: resp.StatusCode, SQL: sql, Message: body}
	if m := errorBodyPattern.FindStringSubmatch(body); m != nil {
		dbErr.Code, _ = strconv.Atoi(m[1])
		dbErr.Message = strings.TrimSpace(m[2])
	} else if code, err := strconv.Atoi(headerCode); err == nil {
		dbErr.Code = code
	}
	if dbErr.Message == "" {
		dbErr.Message = http.StatusText(resp.StatusCode)
	}
	return dbErr
}

// isErrorBody reports whether a success-status body is in fact a server error.
func isErrorBody(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	return strings.HasPrefix(trimmed, "Code: ") && errorBodyPattern.MatchString(trimmed)
}

// BatchInsertError aggregates the failures of InsertBatchFiles, keyed by file.
type BatchInsertError struct {
	Failures map[string]error
}

func (e *BatchInsertError) Error() string {
	files := e.Files()
	parts := make([]string, len(files))
	for i, f := range files {
		parts[i] = fmt.Sprintf("%s: %v", f, e.Failures[f])
	}
	return fmt.Sprintf("%d file(s) failed to insert: %s", len(files), strings.Join(parts, "; "))
}

// Files returns the failed file names in sorted order.
func (e *BatchInsertError) Files() []string {
	files := make([]string, 0, len(e.Failures))
	for f := range e.Failures {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

func (e *BatchInsertError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Files() {
		errs = append(errs, e.Failures[f])
	}
	return errs
}
