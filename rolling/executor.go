// Package rolling executes HTTP requests against a ClickHouse endpoint with a
// bounded number of requests in flight.
//
// Requests are queued with Submit and run together by RunPending, which keeps
// at most the configured number of requests in flight: as soon as one
// completes the next queued request starts. RunPending is the batch barrier;
// results are read by handle once it has returned.
//
//	ex := rolling.New(http.DefaultClient, rolling.WithConcurrency(5))
//	h1 := ex.Submit(req1)
//	h2 := ex.Submit(req2)
//	_ = ex.RunPending(ctx)
//	resp, err := ex.Result(h1)
package rolling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 5
	DefaultRetryDelay  = time.Second
	MaxRetryDelay      = 30 * time.Second
)

// Handle identifies a submitted request. It stays valid for as long as the
// Executor that issued it.
type Handle struct {
	owner *Executor
	id    uint64
	req   *Request

	done atomic.Bool
	resp *Response
	err  error
}

// ID returns the submission sequence number of the handle.
func (h *Handle) ID() uint64 { return h.id }

// Done reports whether the handle's batch has completed.
func (h *Handle) Done() bool { return h.done.Load() }

// Option configures an Executor.
type Option func(*Executor)

// WithConcurrency sets the maximum number of requests in flight. Values below 1
// fall back to DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n < 1 {
			n = DefaultConcurrency
		}
		e.limit = n
	}
}

// WithRetry retries retryable transport failures up to attempts extra times,
// doubling the delay after each try up to MaxRetryDelay. Responses are never
// retried, whatever their status.
func WithRetry(attempts int, initialDelay time.Duration) Option {
	return func(e *Executor) {
		e.retries = max(attempts, 0)
		if initialDelay > 0 {
			e.retryDelay = initialDelay
		}
	}
}

// WithMetrics records request metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// Executor runs requests with a rolling concurrency window. It is meant to be
// driven by one goroutine at a time; Submit and RunPending are serialized
// internally but callers should not interleave batches from several goroutines.
type Executor struct {
	client     *http.Client
	limit      int
	retries    int
	retryDelay time.Duration
	metrics    *Metrics

	mu      sync.Mutex
	pending []*Handle
	seq     uint64
}

// New creates an Executor sending requests through client. A nil client uses
// http.DefaultClient.
func New(client *http.Client, opts ...Option) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	e := &Executor{
		client:     client,
		limit:      DefaultConcurrency,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Concurrency returns the configured in-flight limit.
func (e *Executor) Concurrency() int { return e.limit }

// Submit queues req for the next RunPending call. It never blocks on I/O.
func (e *Executor) Submit(req *Request) *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	h := &Handle{owner: e, id: e.seq, req: req}
	e.pending = append(e.pending, h)
	return h
}

// Pending returns the number of submitted requests not yet started.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// RunPending executes every request submitted since the previous call and
// blocks until all of them have completed. Completion order follows the
// network, not submission order. A failing request does not cancel its
// siblings; each outcome is recorded on its own handle. The returned error is
// only the context's error, if it ended before the batch did.
func (e *Executor) RunPending(ctx context.Context) error {
	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(e.limit)
	for _, h := range batch {
		g.Go(func() error {
			h.resp, h.err = e.execute(ctx, h.req)
			h.done.Store(true)
			return nil
		})
	}
	_ = g.Wait()

	log.Debug().Int("requests", len(batch)).Int("concurrency", e.limit).
		Dur("elapsed", time.Since(start)).Msg("rolling batch completed")
	return ctx.Err()
}

// Result returns the outcome of a completed handle. It fails with ErrPending if
// the handle's batch has not run yet.
func (e *Executor) Result(h *Handle) (*Response, error) {
	if h == nil || h.owner != e {
		return nil, ErrForeignHandle
	}
	if !h.done.Load() {
		return nil, ErrPending
	}
	return h.resp, h.err
}

// Do executes a single request immediately, outside any pending batch.
func (e *Executor) Do(ctx context.Context, req *Request) (*Response, error) {
	return e.execute(ctx, req)
}

// execute runs one request, retrying retryable transport failures when enabled.
func (e *Executor) execute(ctx context.Context, req *Request) (*Response, error) {
	delay := e.retryDelay
	for attempt := 1; ; attempt++ {
		e.metrics.begin()
		start := time.Now()
		resp, err := e.roundTrip(ctx, req)
		e.metrics.end(req.Method, resp, err, time.Since(start))
		if err == nil {
			resp.Stats.Attempts = attempt
			return resp, nil
		}

		var terr *TransportError
		if attempt > e.retries || !errors.As(err, &terr) || !terr.Retryable() {
			return nil, err
		}

		log.Debug().Err(err).Int("attempt", attempt).Str("tag", req.Tag).Msg("retrying on connection error")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, err
		}
		delay = min(delay*2, MaxRetryDelay)
	}
}

func (e *Executor) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	body, err := req.open()
	if err != nil {
		return nil, fmt.Errorf("open request body: %w", err)
	}

	var sent *countingReader
	var reqBody io.Reader
	if body != nil {
		sent = &countingReader{r: body}
		reqBody = sent
	}

	start := time.Now()
	var ttfb atomic.Int64
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() { ttfb.Store(int64(time.Since(start))) },
	}

	httpReq, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), method, req.URL, reqBody)
	if err != nil {
		if body != nil {
			_ = body.Close()
		}
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.Compress && body != nil {
		httpReq.Header.Set("Content-Encoding", ContentEncodingGzip)
	}
	httpReq.Header.Set("Accept-Encoding", ContentEncodingGzip)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, newTransportError(method, req.URL, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("failed to close response body")
		}
	}()

	received := &countingReader{r: resp.Body}
	var reader io.Reader = received
	if resp.Header.Get("Content-Encoding") == ContentEncodingGzip {
		gz, gzErr := gzip.NewReader(received)
		if gzErr != nil {
			return nil, newTransportError(method, req.URL, fmt.Errorf("failed to create gzip reader: %w", gzErr))
		}
		defer func() {
			if cErr := gz.Close(); cErr != nil {
				log.Debug().Err(cErr).Msg("failed to close gzip reader")
			}
		}()
		reader = gz
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, newTransportError(method, req.URL, fmt.Errorf("read response body: %w", err))
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Stats: Stats{
			Method:          method,
			URL:             req.URL,
			ContentType:     resp.Header.Get("Content-Type"),
			BytesReceived:   received.n.Load(),
			TimeToFirstByte: time.Duration(ttfb.Load()),
			TotalTime:       time.Since(start),
		},
	}
	if sent != nil {
		out.Stats.BytesSent = sent.n.Load()
	}

	log.Debug().Str("method", method).Str("tag", req.Tag).Int("status", resp.StatusCode).
		Int64("bytes_sent", out.Stats.BytesSent).Int64("bytes_received", out.Stats.BytesReceived).
		Dur("elapsed", out.Stats.TotalTime).Msg("request completed")
	return out, nil
}
