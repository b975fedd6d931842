// Package strategy implements the four request-resolution algorithms the
// gateway dispatches to: cache-first, network-first, stale-while-revalidate,
// and network-only. Executors never propagate network or cache failures;
// every resolution produces a servable response, synthesizing a 503 when
// neither the upstream nor the cache can satisfy the request.
package strategy

import (
	"context"
	"net/http"

	"github.com/quayside/cachegate/internal/gateway/store"
)

// Fetcher performs the upstream network transport for one request and
// captures the response. Transport failures return an error; HTTP error
// statuses return a populated entry and no error.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (store.Entry, error)
}

// Source records where a resolved response came from.
type Source string

const (
	// SourceCache is a cache hit served without touching the network.
	SourceCache Source = "cache"
	// SourceNetwork is a response fetched from the upstream.
	SourceNetwork Source = "network"
	// SourceStale is a cached response served because the network failed.
	SourceStale Source = "stale"
	// SourceFallback is a synthesized offline error response.
	SourceFallback Source = "fallback"
)

// Result couples a servable response with its provenance.
type Result struct {
	Entry  store.Entry
	Source Source
}

// Resolver is the common executor contract the dispatcher invokes.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, req *http.Request) Result
}

// Key derives the normalized request identity used for cache addressing:
// method plus URL with any fragment stripped. A request naming a foreign
// authority keeps the host in its key so distinct origins never share an
// entry; the primary origin's requests stay host-free, matching the
// precache manifest keys.
func Key(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	if u.Host != "" {
		return req.Method + " " + u.Host + path
	}
	return req.Method + " " + path
}

// cacheable reports whether a captured response may be stored under the broad
// policy shared by cache-first, stale-while-revalidate, and precache: any
// non-error status. Network-first deliberately applies the stricter 2xx-only
// bound instead.
func cacheable(entry store.Entry) bool {
	return entry.Status < http.StatusBadRequest
}
