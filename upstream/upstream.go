// Package upstream talks to the dataset origins. It issues lightweight
// HEAD probes to read freshness validators and conditional GETs so an
// unchanged resource costs a 304 instead of a download.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gampnico/paeon/telemetry"
)

// ErrProbeUnsupported is returned when an origin rejects HEAD requests.
// Callers fall back to a conditional GET, which is equivalent in I/O when
// the content is unchanged.
var ErrProbeUnsupported = errors.New("upstream: origin does not support HEAD")

// StatusError reports an unexpected HTTP status from the origin.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream: %s returned status %d", e.URL, e.StatusCode)
}

// Validators are the cache-validation values recorded from a previous
// fetch, sent back to the origin on conditional requests.
type Validators struct {
	// ETag is sent as If-None-Match when non-empty.
	ETag string
	// LastModified is sent as If-Modified-Since when non-empty, verbatim
	// as the origin produced it.
	LastModified string
}

// IsZero reports whether there is nothing to send.
func (v Validators) IsZero() bool {
	return v.ETag == "" && v.LastModified == ""
}

// Client fetches dataset payloads from their origins.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithUserAgent sets the User-Agent header sent with origin requests.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a new origin client. The default HTTP client carries the
// instrumented transport and a generous timeout for the AGES archive.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   5 * time.Minute,
			Transport: telemetry.NewInstrumentedTransport(nil),
		},
		userAgent: "paeon",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Probe is the result of a HEAD request against an origin.
type Probe struct {
	StatusCode    int
	ETag          string
	LastModified  string
	ContentLength int64
}

// Validators returns the probe's freshness validators.
func (p *Probe) Validators() Validators {
	return Validators{ETag: p.ETag, LastModified: p.LastModified}
}

// ProbeURL issues a HEAD request and returns the origin's current
// freshness validators without transferring the payload.
func (c *Client) ProbeURL(ctx context.Context, url string) (*Probe, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, Validators{})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probing origin: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusMethodNotAllowed, http.StatusNotImplemented, http.StatusForbidden:
		// Some CDN fronts reject or misreport HEAD.
		return nil, ErrProbeUnsupported
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	return &Probe{
		StatusCode:    resp.StatusCode,
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ContentLength: resp.ContentLength,
	}, nil
}

// FetchResponse is the result of a conditional GET.
type FetchResponse struct {
	// Body is the payload stream; nil when NotModified. The caller must
	// close it.
	Body io.ReadCloser
	// NotModified is true when the origin answered 304 for the supplied
	// validators.
	NotModified   bool
	StatusCode    int
	ETag          string
	LastModified  string
	ContentLength int64
}

// Validators returns the response's freshness validators.
func (r *FetchResponse) Validators() Validators {
	return Validators{ETag: r.ETag, LastModified: r.LastModified}
}

// Fetch issues a GET with conditional headers for the supplied validators.
// A 304 answer is reported via NotModified with no body; any status other
// than 2xx or 304 is a StatusError.
func (c *Client) Fetch(ctx context.Context, url string, v Validators) (*FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, v)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching origin: %w", err)
	}

	if resp.StatusCode == http.StatusNotModified {
		_ = resp.Body.Close()
		return &FetchResponse{
			NotModified:  true,
			StatusCode:   resp.StatusCode,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	return &FetchResponse{
		Body:          resp.Body,
		StatusCode:    resp.StatusCode,
		ETag:          resp.Header.Get("ETag"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ContentLength: resp.ContentLength,
	}, nil
}

// setHeaders sets the common request headers. Accept-Encoding is pinned to
// identity so Content-Length and validators describe the stored bytes.
func (c *Client) setHeaders(req *http.Request, v Validators) {
	req.Header.Set("Accept-Encoding", "identity")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}
}
