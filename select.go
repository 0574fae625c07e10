package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ethanyzhang/clickhouse-http-go/rolling"
)

// preparedQuery is a rendered query ready for submission.
type preparedQuery struct {
	req     *rolling.Request
	sql     string
	queryID string
	format  string
}

func (c *Client) prepare(template string, params Bindings, format string, opts []QueryOption) (*preparedQuery, error) {
	o, err := newQueryOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.format != nil {
		format = *o.format
	}
	sql, err := NewQuery(template, params).WithFormat(format).SQL()
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(sqlRequest(sql, o), o)
	if err != nil {
		return nil, err
	}
	return &preparedQuery{req: req, sql: sql, queryID: o.queryID, format: format}, nil
}

func (c *Client) run(ctx context.Context, p *preparedQuery) (*Statement, error) {
	resp, err := c.async.Do(ctx, p.req)
	if err != nil {
		return nil, err
	}
	return parseStatement(resp, p.sql, p.queryID, p.format)
}

// Select renders template with params, runs it with FORMAT JSON and parses the
// result.
//
// On a server error the returned error is a *DatabaseError and the Statement
// is still returned for inspection of the response. Transport failures return
// a *TransportError and no Statement.
func (c *Client) Select(ctx context.Context, template string, params Bindings, opts ...QueryOption) (*Statement, error) {
	p, err := c.prepare(template, params, FormatJSON, opts)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, p)
}

// Write runs a statement that returns no rows, such as DDL.
func (c *Client) Write(ctx context.Context, template string, params Bindings, opts ...QueryOption) (*Statement, error) {
	p, err := c.prepare(template, params, "", opts)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, p)
}

// Pending is an async select queued by SelectAsync. Its Statement becomes
// available once ExecuteAsync has run the batch it belongs to.
type Pending struct {
	client  *Client
	handle  *rolling.Handle
	sql     string
	queryID string
	format  string

	once sync.Once
	stmt *Statement
	err  error
}

// SQL returns the rendered SQL of the query.
func (p *Pending) SQL() string { return p.sql }

// QueryID returns the query id sent with the request.
func (p *Pending) QueryID() string { return p.queryID }

// Done reports whether the batch carrying the query has run.
func (p *Pending) Done() bool { return p.handle.Done() }

// Statement returns the parsed result. Before ExecuteAsync has run, it fails
// with a *QueryError wrapping ErrNotExecuted.
func (p *Pending) Statement() (*Statement, error) {
	if !p.handle.Done() {
		return nil, newQueryError(ErrNotExecuted, "query %s", p.queryID)
	}
	p.once.Do(func() {
		resp, err := p.client.async.Result(p.handle)
		if err != nil {
			p.err = err
			return
		}
		p.stmt, p.err = parseStatement(resp, p.sql, p.queryID, p.format)
	})
	return p.stmt, p.err
}

// SelectAsync queues a select without sending it. Call ExecuteAsync to run
// every queued query as one rolling batch.
func (c *Client) SelectAsync(template string, params Bindings, opts ...QueryOption) (*Pending, error) {
	p, err := c.prepare(template, params, FormatJSON, opts)
	if err != nil {
		return nil, err
	}
	return &Pending{
		client:  c,
		handle:  c.async.Submit(p.req),
		sql:     p.sql,
		queryID: p.queryID,
		format:  p.format,
	}, nil
}

// ExecuteAsync runs every query queued by SelectAsync since the last call,
// with at most MaxConcurrency requests in flight, and returns when all have
// completed. Per-query failures are reported by Pending.Statement.
func (c *Client) ExecuteAsync(ctx context.Context) error {
	return c.async.RunPending(ctx)
}

// PendingCount returns the number of queued async queries.
func (c *Client) PendingCount() int { return c.async.Pending() }

// Insert inserts rows into table with an INSERT ... VALUES statement. Values
// are bound the way :name parameters are; nested slices become arrays.
func (c *Client) Insert(ctx context.Context, table string, rows [][]any, columns []string, opts ...QueryOption) (*Statement, error) {
	if len(rows) == 0 {
		return nil, newQueryError(nil, "insert into %s: no rows", table)
	}
	o, err := newQueryOptions(opts)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(joinIdentifiers(columns))
	b.WriteString(" VALUES ")
	for i, row := range rows {
		if len(columns) > 0 && len(row) != len(columns) {
			return nil, newQueryError(ErrColumnMismatch, "row %d has %d values, %d columns given", i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, v := range row {
			bound, err := Bind(v)
			if err != nil {
				return nil, newQueryError(err, "row %d column %d", i, j)
			}
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(bound.ValueLiteral())
		}
		b.WriteByte(')')
	}
	sql := b.String()

	spec := requestSpec{
		body:        rolling.StringBody(sql),
		contentType: "text/plain; charset=utf-8",
		compress:    true,
	}
	req, err := c.newRequest(spec, o)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, &preparedQuery{req: req, sql: sql, queryID: o.queryID})
}

// InsertBatchFiles streams each file into table as a separate request, running
// up to MaxConcurrency uploads at once. Files are compressed on the fly when
// HTTP compression is enabled.
//
// Every file is checked for existence before anything is sent, and a path
// given twice is rejected. After that a failing file does not affect the
// others: the statements of successful files are returned together with a
// *BatchInsertError naming the failed ones.
func (c *Client) InsertBatchFiles(ctx context.Context, table string, files []string, columns []string, format DataFormat, opts ...QueryOption) (map[string]*Statement, error) {
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if seen[f] {
			return nil, newQueryError(ErrDuplicateFile, "%s", f)
		}
		seen[f] = true
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, newQueryError(ErrFileNotFound, "%s", f)
			}
			return nil, newQueryError(err, "stat %s", f)
		}
	}

	sql := fmt.Sprintf("INSERT INTO %s%s FORMAT %s", table, joinIdentifiers(columns), format)

	type upload struct {
		handle  *rolling.Handle
		queryID string
	}
	ex := c.newExecutor()
	uploads := make(map[string]upload, len(files))
	for _, f := range files {
		o, err := newQueryOptions(opts)
		if err != nil {
			return nil, err
		}
		// Each file gets its own query id.
		o.queryID = uuid.NewString()
		spec := requestSpec{
			params:   url.Values{QueryParam: {sql}},
			body:     rolling.FileBody(f),
			compress: true,
			tag:      f,
		}
		req, err := c.newRequest(spec, o)
		if err != nil {
			return nil, err
		}
		uploads[f] = upload{handle: ex.Submit(req), queryID: o.queryID}
	}

	if err := ex.RunPending(ctx); err != nil {
		return nil, err
	}

	results := make(map[string]*Statement, len(files))
	failures := map[string]error{}
	for f, up := range uploads {
		resp, err := ex.Result(up.handle)
		if err == nil {
			results[f], err = parseStatement(resp, sql, up.queryID, "")
		}
		if err != nil {
			log.Debug().Err(err).Str("file", f).Str("table", table).Msg("batch file insert failed")
			failures[f] = err
			delete(results, f)
		}
	}
	if len(failures) > 0 {
		return results, &BatchInsertError{Failures: failures}
	}
	return results, nil
}
