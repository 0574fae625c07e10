package clickhouse

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ethanyzhang/clickhouse-http-go/rolling"
)

// ClickHouse HTTP interface parameters and headers
const (
	QueryParam                 = "query"
	QueryIDParam               = "query_id"
	DatabaseParam              = "database"
	EnableHTTPCompressionParam = "enable_http_compression"
	QueryIDHeader              = "X-ClickHouse-Query-Id"
	ServerDisplayNameHeader    = "X-ClickHouse-Server-Display-Name"
)

// RequestOption allows for functional overrides on individual requests
type RequestOption func(*http.Request)

// ClientOption configures a Client at construction.
type ClientOption func(*Client)

// WithHTTPClient sends requests through hc instead of a client built from Config.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRequestOptions applies opts to every request, e.g. an auth header.
func WithRequestOptions(opts ...RequestOption) ClientOption {
	return func(c *Client) {
		c.options = append(c.options, opts...)
	}
}

// WithMetrics records transport metrics for every request of the client.
func WithMetrics(m *rolling.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client talks to one ClickHouse server over HTTP.
//
// Synchronous calls may be made from several goroutines. Async queries form a
// single batch per client: SelectAsync and ExecuteAsync are meant to be driven
// by one goroutine at a time.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	metrics    *rolling.Metrics
	options    []RequestOption
	settings   *Settings

	// async holds the requests queued by SelectAsync until ExecuteAsync.
	async *rolling.Executor

	// mu protects database and compression
	mu          sync.RWMutex
	database    string
	compression bool
}

// --- Initialization & Lifecycle ---

// NewClient creates a client for cfg. Zero fields take their defaults.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	cfg = cfg.withDefaults()
	baseURL, err := url.Parse(cfg.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	c := &Client{
		cfg:         cfg,
		baseURL:     baseURL,
		settings:    NewSettings(cfg.Settings),
		database:    cfg.Database,
		compression: cfg.Compression,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = newHTTPClient(cfg)
	}
	c.async = c.newExecutor()
	return c, nil
}

// Open creates a client from a DSN, see ParseDSN.
func Open(dsn string, opts ...ClientOption) (*Client, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return NewClient(cfg, opts...)
}

func newHTTPClient(cfg Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.MaxIdleConnsPerHost = cfg.MaxConcurrency
	if cfg.HTTPS && cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Transport: transport}
}

func (c *Client) newExecutor() *rolling.Executor {
	return rolling.New(c.httpClient,
		rolling.WithConcurrency(c.cfg.MaxConcurrency),
		rolling.WithRetry(c.cfg.RetryAttempts, rolling.DefaultRetryDelay),
		rolling.WithMetrics(c.metrics),
	)
}

// --- Client Configuration ---

// Config returns the configuration the client was built with.
func (c *Client) Config() Config { return c.cfg }

// Settings returns the client's settings store. Changes apply to requests
// built afterwards.
func (c *Client) Settings() *Settings { return c.settings }

// Database sets the default database for subsequent requests.
func (c *Client) Database(name string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.database = name
	return c
}

// CurrentDatabase returns the default database.
func (c *Client) CurrentDatabase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.database
}

// EnableHTTPCompression gzips bulk upload bodies and asks the server to
// compress its responses.
func (c *Client) EnableHTTPCompression(enable bool) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compression = enable
	return c
}

// HTTPCompression reports whether compression is enabled.
func (c *Client) HTTPCompression() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.compression
}

// --- Per-call Options ---

type queryOptions struct {
	settings       map[string]string
	external       *ExternalData
	queryID        string
	timeout        time.Duration
	format         *string
	requestOptions []RequestOption
}

// QueryOption adjusts a single call.
type QueryOption func(*queryOptions)

// WithSettings overrides client settings for one call.
func WithSettings(settings map[string]any) QueryOption {
	return func(o *queryOptions) {
		if o.settings == nil {
			o.settings = make(map[string]string, len(settings))
		}
		for k, v := range settings {
			if v != nil {
				o.settings[k] = settingText(v)
			}
		}
	}
}

// WithExternalData uploads the external tables of ext with the query.
func WithExternalData(ext *ExternalData) QueryOption {
	return func(o *queryOptions) {
		if o.external == nil {
			o.external = NewExternalData()
		}
		o.external.tables = append(o.external.tables, ext.Tables()...)
	}
}

// WithQueryID sets the query id instead of generating one.
func WithQueryID(id string) QueryOption {
	return func(o *queryOptions) {
		o.queryID = id
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) QueryOption {
	return func(o *queryOptions) {
		o.timeout = d
	}
}

// WithFormat changes the output format appended to selects. Statements
// parse rows only for FormatJSON; other formats are available through Body.
func WithFormat(format string) QueryOption {
	return func(o *queryOptions) {
		o.format = &format
	}
}

// WithRequestOption applies opts to the request of one call.
func WithRequestOption(opts ...RequestOption) QueryOption {
	return func(o *queryOptions) {
		o.requestOptions = append(o.requestOptions, opts...)
	}
}

func newQueryOptions(opts []QueryOption) (*queryOptions, error) {
	o := &queryOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.external != nil {
		seen := make(map[string]bool, o.external.Len())
		for _, t := range o.external.tables {
			if seen[t.Name] {
				return nil, newQueryError(ErrDuplicateTable, "external table %q", t.Name)
			}
			seen[t.Name] = true
		}
	}
	if o.queryID == "" {
		o.queryID = uuid.NewString()
	}
	return o, nil
}

// --- Request Construction ---

// requestSpec describes the body and extra parameters of one request.
type requestSpec struct {
	method      string
	params      url.Values
	body        rolling.BodyFunc
	contentType string
	compress    bool
	tag         string
}

// newRequest builds a rolling.Request from spec. Settings are merged in
// increasing precedence: client settings, then per-call settings, then the
// parameters the operation itself requires.
func (c *Client) newRequest(spec requestSpec, o *queryOptions) (*rolling.Request, error) {
	c.mu.RLock()
	database, compression := c.database, c.compression
	c.mu.RUnlock()

	params := mergeSettings(c.settings.Snapshot(), o.settings)
	if database != "" {
		params.Set(DatabaseParam, database)
	}
	if compression {
		params.Set(EnableHTTPCompressionParam, "1")
	}
	params.Set(QueryIDParam, o.queryID)
	for k, vs := range spec.params {
		params[k] = vs
	}

	u := *c.baseURL
	u.RawQuery = params.Encode()

	method := spec.method
	if method == "" {
		method = http.MethodPost
	}

	// Build a throwaway http.Request so RequestOptions written against
	// net/http (basic auth, bearer tokens, SPNEGO) can set headers.
	httpReq, err := http.NewRequest(method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(httpReq)
	for _, opt := range c.options {
		opt(httpReq)
	}
	for _, opt := range o.requestOptions {
		opt(httpReq)
	}

	timeout := c.cfg.Timeout
	if o.timeout > 0 {
		timeout = o.timeout
	}

	tag := spec.tag
	if tag == "" {
		tag = o.queryID
	}

	return &rolling.Request{
		Method:      method,
		URL:         httpReq.URL.String(),
		Header:      httpReq.Header,
		Body:        spec.body,
		ContentType: spec.contentType,
		Compress:    spec.compress && compression,
		Timeout:     timeout,
		Tag:         tag,
	}, nil
}

func (c *Client) applyHeaders(req *http.Request) {
	if c.cfg.Username != "" || c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
}

// sqlRequest returns the requestSpec for sending sql, with any external tables
// carried as multipart parts and the SQL moved to the query parameter.
func sqlRequest(sql string, o *queryOptions) requestSpec {
	if o.external.Len() == 0 {
		return requestSpec{
			body:        rolling.StringBody(sql),
			contentType: "text/plain; charset=utf-8",
		}
	}
	parts := o.external.render()
	parts.params.Set(QueryParam, sql)
	return requestSpec{
		params:      parts.params,
		body:        parts.body,
		contentType: parts.contentType,
	}
}

// joinIdentifiers renders a column list, "" for none.
func joinIdentifiers(columns []string) string {
	if len(columns) == 0 {
		return ""
	}
	return " (" + strings.Join(columns, ", ") + ")"
}
