package clickhouse

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanyzhang/clickhouse-http-go/rolling"
)

func TestNewDatabaseError(t *testing.T) {
	t.Run("Success is not an error", func(t *testing.T) {
		resp := &rolling.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte("{}")}
		assert.Nil(t, newDatabaseError(resp, ""))
	})

	t.Run("Code parsed from body", func(t *testing.T) {
		resp := &rolling.Response{
			StatusCode: http.StatusBadRequest,
			Header:     http.Header{},
			Body:       []byte("Code: 62, e.displayText() = DB::Exception: Syntax error: failed at position 1"),
		}
		dbErr := newDatabaseError(resp, "DRAP TABLEX")
		require.NotNil(t, dbErr)
		assert.Equal(t, CodeSyntaxError, dbErr.Code)
		assert.Equal(t, "e.displayText() = DB::Exception: Syntax error: failed at position 1", dbErr.Message)
		assert.Equal(t, "DRAP TABLEX", dbErr.SQL)
		assert.False(t, dbErr.Retryable())
	})

	t.Run("Code from header", func(t *testing.T) {
		resp := &rolling.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{exceptionCodeHeader: {"159"}},
			Body:       []byte("Timeout exceeded"),
		}
		dbErr := newDatabaseError(resp, "")
		require.NotNil(t, dbErr)
		assert.Equal(t, CodeTimeoutExceeded, dbErr.Code)
		assert.Equal(t, "Timeout exceeded", dbErr.Message)
		assert.True(t, dbErr.Retryable())
	})

	t.Run("Empty body falls back to status text", func(t *testing.T) {
		resp := &rolling.Response{StatusCode: http.StatusBadGateway, Header: http.Header{}}
		dbErr := newDatabaseError(resp, "")
		require.NotNil(t, dbErr)
		assert.Equal(t, 0, dbErr.Code)
		assert.Equal(t, "Bad Gateway", dbErr.Message)
	})
}

func TestDatabaseError_String(t *testing.T) {
	e := &DatabaseError{Code: 60, Message: "Table default.x doesn't exist"}
	assert.Equal(t, "Code: 60. Table default.x doesn't exist", e.Error())

	var nilErr *DatabaseError
	assert.Equal(t, "nil DatabaseError", nilErr.String())
}

func TestQueryError(t *testing.T) {
	err := newQueryError(ErrMissingParam, ":%s", "limit")
	assert.Equal(t, "query error: :limit: unbound template parameter", err.Error())
	assert.ErrorIs(t, err, ErrMissingParam)

	assert.Equal(t, "query error: bad", newQueryError(nil, "bad").Error())
	assert.Equal(t, "query error: async query has not been executed", (&QueryError{Err: ErrNotExecuted}).Error())
}

func TestBatchInsertError(t *testing.T) {
	dbErr := &DatabaseError{Code: 27, Message: "Cannot parse input"}
	transportErr := &TransportError{Method: "POST", URL: "http://x", Err: errors.New("connection reset")}
	err := &BatchInsertError{Failures: map[string]error{
		"b.csv": transportErr,
		"a.csv": dbErr,
	}}

	assert.Equal(t, []string{"a.csv", "b.csv"}, err.Files())
	assert.Contains(t, err.Error(), "2 file(s) failed to insert: a.csv: Code: 27.")

	var gotDB *DatabaseError
	require.ErrorAs(t, err, &gotDB)
	assert.Equal(t, 27, gotDB.Code)

	var gotTransport *TransportError
	require.ErrorAs(t, err, &gotTransport)
	assert.Equal(t, "http://x", gotTransport.URL)
}
