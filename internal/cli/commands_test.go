package cli

import (
	"bytes"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethanyzhang/clickhouse-http-go"
	"github.com/ethanyzhang/clickhouse-http-go/chtest"
)

// runCommand executes chq against mock with args and returns stdout.
func runCommand(t *testing.T, mock *chtest.MockClickHouseServer, stdin string, args ...string) (string, error) {
	t.Helper()
	u, err := url.Parse(mock.URL())
	require.NoError(t, err)

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--host", u.Hostname(), "--port", u.Port()}, args...))
	err = cmd.Execute()
	return out.String(), err
}

func newMockWithViews(t *testing.T) *chtest.MockClickHouseServer {
	t.Helper()
	mock := chtest.NewMockClickHouseServer()
	t.Cleanup(mock.Close)
	mock.AddQuery(&chtest.MockQueryTemplate{
		SQL:     "SELECT site_id, views FROM summing_url_views WHERE site_id = 11",
		Columns: []clickhouse.Column{{Name: "site_id", Type: "Int32"}, {Name: "views", Type: "UInt64"}},
		Data:    [][]any{{11, 100}, {11, 7}},
		Totals:  []any{0, 107},
	})
	return mock
}

func TestQueryCommand_Table(t *testing.T) {
	mock := newMockWithViews(t)

	out, err := runCommand(t, mock, "", "query",
		"SELECT site_id, views FROM {table} WHERE site_id = :site",
		"--raw", "table=summing_url_views", "--param", "site=11", "--setting", "max_block_size=10")
	require.NoError(t, err)
	assert.Contains(t, strings.ToUpper(out), "SITE_ID")
	assert.Contains(t, out, "100")
	assert.Contains(t, out, "107", "totals are rendered as a footer")
	assert.Contains(t, out, "(2 rows)")

	rec, ok := mock.LastRequest()
	require.True(t, ok)
	assert.Equal(t, "10", rec.Params.Get("max_block_size"))
}

func TestQueryCommand_JSONFromStdin(t *testing.T) {
	mock := newMockWithViews(t)

	out, err := runCommand(t, mock, "SELECT site_id, views FROM summing_url_views WHERE site_id = 11\n", "query", "-o", "json")
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.EqualValues(t, 100, rows[0]["views"])
}

func TestQueryCommand_Raw(t *testing.T) {
	mock := chtest.NewMockClickHouseServer()
	defer mock.Close()

	_, err := runCommand(t, mock, "", "query", "SELECT 1", "-o", "raw", "--format", "CSV")
	require.NoError(t, err)

	rec, ok := mock.LastRequest()
	require.True(t, ok)
	assert.Equal(t, "SELECT 1 FORMAT CSV", rec.SQL)
}

func TestQueryCommand_ExternalFile(t *testing.T) {
	mock := chtest.NewMockClickHouseServer()
	defer mock.Close()

	path := filepath.Join(t.TempDir(), "ids.csv")
	require.NoError(t, os.WriteFile(path, []byte("11\n20\n"), 0o644))

	_, err := runCommand(t, mock, "", "query", "SELECT * FROM t WHERE site_id IN (SELECT site_id FROM ids)",
		"--external-file", path, "--external-name", "ids", "--external-structure", "site_id Int32")
	require.NoError(t, err)

	rec, ok := mock.LastRequest()
	require.True(t, ok)
	assert.Equal(t, "site_id Int32", rec.Params.Get("ids_structure"))
	assert.Equal(t, "11\n20\n", string(rec.External["ids"]))
}

func TestQueryCommand_Errors(t *testing.T) {
	mock := chtest.NewMockClickHouseServer()
	defer mock.Close()
	mock.AddQuery(&chtest.MockQueryTemplate{
		SQL:   "SELECT * FROM XXXXX_SSS",
		Error: &clickhouse.DatabaseError{Code: clickhouse.CodeUnknownTable, Message: "Table default.XXXXX_SSS doesn't exist"},
	})

	_, err := runCommand(t, mock, "", "query", "SELECT * FROM XXXXX_SSS")
	var dbErr *clickhouse.DatabaseError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, clickhouse.CodeUnknownTable, dbErr.Code)

	_, err = runCommand(t, mock, "", "query")
	assert.ErrorContains(t, err, "no query given")

	_, err = runCommand(t, mock, "", "query", "SELECT * FROM t WHERE id = :id")
	assert.ErrorIs(t, err, clickhouse.ErrMissingParam)
}

func TestInsertCommand(t *testing.T) {
	mock := chtest.NewMockClickHouseServer()
	defer mock.Close()

	dir := t.TempDir()
	good := filepath.Join(dir, "good.csv")
	bad := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(good, []byte("11,a\n20,b\n"), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("11,a\n20\n"), 0o644))

	out, err := runCommand(t, mock, "", "insert", "views", good, "--columns", "site_id,url_hash", "--compression")
	require.NoError(t, err)
	assert.Contains(t, out, "good.csv")
	assert.Contains(t, out, " ok ")
	assert.Equal(t, 2, mock.InsertedRows("views"))

	out, err = runCommand(t, mock, "", "insert", "views", good, bad, "--columns", "site_id,url_hash")
	assert.ErrorContains(t, err, "1 of 2 file(s) failed")
	assert.Contains(t, out, "Code: 27")
	assert.Equal(t, 4, mock.InsertedRows("views"))

	_, err = runCommand(t, mock, "", "insert", "views", filepath.Join(dir, "missing.csv"))
	assert.ErrorIs(t, err, clickhouse.ErrFileNotFound)

	_, err = runCommand(t, mock, "", "insert", "views", good, "--format", "Parquet")
	assert.ErrorContains(t, err, "unknown data format")
}

func TestPingCommand(t *testing.T) {
	mock := chtest.NewMockClickHouseServer()
	mock.AddQuery(&chtest.MockQueryTemplate{
		SQL:     "SELECT version() AS version",
		Columns: []clickhouse.Column{{Name: "version", Type: "String"}},
		Data:    [][]any{{"24.3.1.1"}},
	})

	out, err := runCommand(t, mock, "", "ping")
	require.NoError(t, err)
	assert.Contains(t, out, "Ok. ClickHouse 24.3.1.1")

	mock.Close()
	_, err = runCommand(t, mock, "", "ping")
	var tErr *clickhouse.TransportError
	assert.ErrorAs(t, err, &tErr)
}

func TestQueryCommand_BearerToken(t *testing.T) {
	mock := chtest.NewMockClickHouseServer()
	defer mock.Close()

	_, err := runCommand(t, mock, "", "query", "SELECT 1", "--token", "jwt-abc")
	require.NoError(t, err)

	rec, ok := mock.LastRequest()
	require.True(t, ok)
	assert.Equal(t, "Bearer jwt-abc", rec.Header.Get("Authorization"))
}
