package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quayside/cachegate/internal/gateway/store"
)

// hop-by-hop headers are connection-scoped and must not be captured or
// replayed from the cache.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Upstream performs the network transport against the configured origin and
// captures responses as store entries.
type Upstream struct {
	base   *url.URL
	client *http.Client
	logger *slog.Logger
}

// NewUpstream builds the transport for the given absolute origin. A zero
// timeout leaves the client without a deadline, matching the baseline
// no-timeout contract of the network-first path.
func NewUpstream(origin string, timeout time.Duration, logger *slog.Logger) (*Upstream, error) {
	base, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse upstream origin: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("gateway: upstream origin must be an absolute URL")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Upstream{
		base:   base,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("agent", "upstream")),
	}, nil
}

// Host returns the origin authority the upstream targets.
func (u *Upstream) Host() string { return u.base.Host }

// Fetch forwards the request and captures the full response. Origin-form
// requests, and proxy-form requests already naming the configured origin, are
// rewritten to the origin authority; a request carrying a foreign authority
// is dialed against that authority instead. HTTP error statuses are
// captured, not errors; only transport failures return an error.
func (u *Upstream) Fetch(ctx context.Context, req *http.Request) (store.Entry, error) {
	out := req.Clone(ctx)
	if out.URL.Host == "" || out.URL.Host == u.base.Host {
		out.URL.Scheme = u.base.Scheme
		out.URL.Host = u.base.Host
		out.Host = u.base.Host
	} else {
		if out.URL.Scheme == "" {
			out.URL.Scheme = u.base.Scheme
		}
		out.Host = out.URL.Host
	}
	// Inbound server requests carry RequestURI, which the client rejects.
	out.RequestURI = ""
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	resp, err := u.client.Do(out)
	if err != nil {
		return store.Entry{}, fmt.Errorf("gateway: upstream fetch: %w", err)
	}
	defer resp.Body.Close()

	return captureResponse(resp)
}

// FetchURL resolves a root-relative path against the origin and captures the
// GET response. Precache runs go through this.
func (u *Upstream) FetchURL(ctx context.Context, raw string) (store.Entry, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return store.Entry{}, fmt.Errorf("gateway: parse precache url %q: %w", raw, err)
	}
	target := u.base.ResolveReference(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return store.Entry{}, fmt.Errorf("gateway: build precache request: %w", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return store.Entry{}, fmt.Errorf("gateway: precache fetch %q: %w", raw, err)
	}
	defer resp.Body.Close()

	return captureResponse(resp)
}

func captureResponse(resp *http.Response) (store.Entry, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return store.Entry{}, fmt.Errorf("gateway: read upstream body: %w", err)
	}
	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		headers[name] = strings.Join(values, ", ")
	}
	for _, h := range hopHeaders {
		delete(headers, h)
	}
	return store.Entry{
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    body,
	}, nil
}
