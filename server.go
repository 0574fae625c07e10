package clickhouse

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethanyzhang/clickhouse-http-go/rolling"
)

// pingResponse is the body served by /ping on a healthy server.
const pingResponse = "Ok."

// Ping checks that the server answers on its /ping endpoint.
func (c *Client) Ping(ctx context.Context, opts ...RequestOption) error {
	o, err := newQueryOptions([]QueryOption{WithRequestOption(opts...)})
	if err != nil {
		return err
	}
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ping"

	req := &rolling.Request{
		Method:  http.MethodGet,
		URL:     u.String(),
		Header:  http.Header{},
		Timeout: c.cfg.Timeout,
		Tag:     "ping",
	}
	httpReq, err := http.NewRequest(http.MethodGet, req.URL, nil)
	if err != nil {
		return err
	}
	c.applyHeaders(httpReq)
	for _, opt := range c.options {
		opt(httpReq)
	}
	for _, opt := range o.requestOptions {
		opt(httpReq)
	}
	req.Header = httpReq.Header

	resp, err := c.async.Do(ctx, req)
	if err != nil {
		return err
	}
	if dbErr := newDatabaseError(resp, ""); dbErr != nil {
		return dbErr
	}
	if body := strings.TrimSpace(string(resp.Body)); body != pingResponse {
		return fmt.Errorf("unexpected ping response %q", body)
	}
	return nil
}

// ShowTables returns the tables of the current database keyed by name.
func (c *Client) ShowTables(ctx context.Context, opts ...QueryOption) (map[string]Row, error) {
	st, err := c.Select(ctx, "SHOW TABLES", nil, opts...)
	if err != nil {
		return nil, err
	}
	return st.RowsAsTree("name")
}

// ShowDatabases returns the names of all databases.
func (c *Client) ShowDatabases(ctx context.Context, opts ...QueryOption) ([]string, error) {
	st, err := c.Select(ctx, "SHOW DATABASES", nil, opts...)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, st.Count())
	for _, row := range st.Rows() {
		names = append(names, fmt.Sprint(row.Get("name")))
	}
	return names, nil
}

// TableExists reports whether table exists in the current database.
func (c *Client) TableExists(ctx context.Context, table string, opts ...QueryOption) (bool, error) {
	st, err := c.Select(ctx, "EXISTS TABLE {table}", Bindings{"table": Raw(table)}, opts...)
	if err != nil {
		return false, err
	}
	return fmt.Sprint(st.FetchOne("result")) == "1", nil
}

// Version returns the server version string.
func (c *Client) Version(ctx context.Context, opts ...QueryOption) (string, error) {
	st, err := c.Select(ctx, "SELECT version() AS version", nil, opts...)
	if err != nil {
		return "", err
	}
	v, ok := st.FetchOne("version").(string)
	if !ok {
		return "", fmt.Errorf("unexpected version result %v", st.FetchOne("version"))
	}
	return v, nil
}
