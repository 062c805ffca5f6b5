// Package network dispatches creative requests to the third-party ad network.
// Requests are one-way: the engine never waits on the result beyond
// counting failures.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrRequestFailed wraps non-2xx responses from the ad network.
var ErrRequestFailed = errors.New("creative request failed")

// CreativeRequest identifies the placement a creative is requested for.
type CreativeRequest struct {
	PageViewID string
	SlotID     string
	Position   string
	DeviceType string
	Country    string
}

// CreativeRequester is the opaque "request creative for slot" operation.
type CreativeRequester interface {
	RequestCreative(ctx context.Context, req CreativeRequest) error
}

// NoopRequester is used when the browser loads the ad script itself and the
// server only tracks state.
type NoopRequester struct{}

func (NoopRequester) RequestCreative(context.Context, CreativeRequest) error { return nil }

// HTTPRequester pings the ad network's request endpoint. Failures are
// reported to the caller once and never retried.
type HTTPRequester struct {
	endpoint string
	client   *http.Client
}

// NewHTTPRequester returns a requester for endpoint using a traced client
// with the given timeout.
func NewHTTPRequester(endpoint string, timeout time.Duration) (*HTTPRequester, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid ad network url %q", endpoint)
	}
	return &HTTPRequester{
		endpoint: endpoint,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// RequestCreative issues a GET with the placement encoded as query params.
func (h *HTTPRequester) RequestCreative(ctx context.Context, req CreativeRequest) error {
	u, _ := url.Parse(h.endpoint)
	q := u.Query()
	q.Set("slot_id", req.SlotID)
	q.Set("page_view_id", req.PageViewID)
	if req.Position != "" {
		q.Set("position", req.Position)
	}
	if req.DeviceType != "" {
		q.Set("device", req.DeviceType)
	}
	if req.Country != "" {
		q.Set("country", req.Country)
	}
	u.RawQuery = q.Encode()

	r, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(r)
	if err != nil {
		return fmt.Errorf("request creative for %s: %w", req.SlotID, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: slot %s status %d", ErrRequestFailed, req.SlotID, resp.StatusCode)
	}
	return nil
}
