package telemetry

import (
	"context"
	"io"
	"net/http"
	"time"
)

type contextKey string

// datasetKey carries the dataset ID through the request context so the
// transport can attribute fetch metrics.
const datasetKey contextKey = "dataset"

// WithDataset returns a context tagged with the dataset ID for metric
// attribution of origin requests issued under it.
func WithDataset(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, datasetKey, id)
}

// DatasetFromContext returns the dataset ID a context is tagged with,
// or "unknown".
func DatasetFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(datasetKey).(string); ok && id != "" {
		return id
	}
	return "unknown"
}

// InstrumentedTransport wraps an http.RoundTripper with origin fetch metrics.
type InstrumentedTransport struct {
	base http.RoundTripper
}

// NewInstrumentedTransport creates a new instrumented transport.
// If base is nil, http.DefaultTransport is used.
func NewInstrumentedTransport(base http.RoundTripper) *InstrumentedTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &InstrumentedTransport{base: base}
}

// RoundTrip implements http.RoundTripper with metrics recording.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	dataset := DatasetFromContext(req.Context())

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		outcome := "error"
		if req.Context().Err() != nil {
			outcome = "canceled"
		}
		RecordOriginFetch(req.Context(), dataset, duration, 0, outcome)
		return nil, err
	}

	outcome := "success"
	switch {
	case resp.StatusCode == http.StatusNotModified:
		outcome = "not_modified"
	case resp.StatusCode >= 500:
		outcome = "5xx"
	case resp.StatusCode >= 400:
		outcome = "4xx"
	}

	resp.Body = &instrumentedBody{
		ReadCloser: resp.Body,
		ctx:        req.Context(),
		dataset:    dataset,
		start:      start,
		outcome:    outcome,
	}

	return resp, nil
}

// instrumentedBody wraps a response body to record bytes read on close.
type instrumentedBody struct {
	io.ReadCloser
	ctx      context.Context
	dataset  string
	start    time.Time
	bytes    int64
	outcome  string
	recorded bool
}

func (b *instrumentedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.bytes += int64(n)
	return n, err
}

func (b *instrumentedBody) Close() error {
	if !b.recorded {
		b.recorded = true
		RecordOriginFetch(b.ctx, b.dataset, time.Since(b.start), b.bytes, b.outcome)
	}
	return b.ReadCloser.Close()
}
