package rolling

import (
	"net/http"
	"time"
)

// Response is the raw outcome of a request that reached the server. Non-2xx
// responses are returned as-is; classifying them is up to the caller.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Stats      Stats
}

// Stats holds transfer measurements for one request.
type Stats struct {
	Method      string
	URL         string
	ContentType string

	// BytesSent counts body bytes handed to the transport, after compression.
	BytesSent int64
	// BytesReceived counts response body bytes as read off the wire, before decompression.
	BytesReceived int64

	TimeToFirstByte time.Duration
	TotalTime       time.Duration
	Attempts        int
}

// UploadSpeed returns the average upload rate in bytes per second.
func (s Stats) UploadSpeed() float64 {
	return rate(s.BytesSent, s.TotalTime)
}

// DownloadSpeed returns the average download rate in bytes per second.
func (s Stats) DownloadSpeed() float64 {
	return rate(s.BytesReceived, s.TotalTime)
}

func rate(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// OK reports whether the status code is in the 2xx range.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}
