package rolling

import (
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

const ContentEncodingGzip = "gzip"

// BodyFunc opens a request body at send time. It is invoked once per attempt,
// so a file-backed body is never held open while the request waits in the queue.
type BodyFunc func() (io.ReadCloser, error)

// StringBody returns a BodyFunc serving s.
func StringBody(s string) BodyFunc {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}

// FileBody returns a BodyFunc that streams the file at path.
func FileBody(path string) BodyFunc {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

// Request is a prepared HTTP request. The Executor owns it from Submit until the
// batch that runs it has completed; callers must not mutate it in between.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        BodyFunc
	ContentType string

	// Compress gzips the outgoing body while it is streamed.
	Compress bool

	// Timeout bounds a single attempt. Zero means no per-request deadline.
	Timeout time.Duration

	// Tag labels the request in logs, e.g. a query id or a file name.
	Tag string
}

// open returns the body to send, wrapped in a streaming gzip encoder if needed.
func (r *Request) open() (io.ReadCloser, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := r.Body()
	if err != nil {
		return nil, err
	}
	if !r.Compress {
		return body, nil
	}

	pr, pw := io.Pipe()
	go func() {
		defer func() {
			if closeErr := body.Close(); closeErr != nil {
				log.Debug().Err(closeErr).Str("tag", r.Tag).Msg("failed to close request body source")
			}
		}()
		gz := gzip.NewWriter(pw)
		if _, err := io.Copy(gz, body); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(gz.Close())
	}()
	return pr, nil
}

// countingReader counts the bytes that pass through it and forwards Close so
// the transport can release pipes and files it did not open itself.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingReader) Close() error {
	if closer, ok := c.r.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
