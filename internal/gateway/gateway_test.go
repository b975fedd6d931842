package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quayside/cachegate/internal/config"
	"github.com/quayside/cachegate/internal/gateway/store"
	"github.com/quayside/cachegate/internal/gateway/strategy"
)

// scriptedFetcher serves canned responses keyed by the full request identity
// (strategy.Key, so foreign authorities are visible) and counts upstream
// round trips. It satisfies both the strategy fetcher and, via FetchURL, the
// precache fetch func.
type scriptedFetcher struct {
	responses map[string]store.Entry
	calls     atomic.Int64
	fail      atomic.Bool
}

func (f *scriptedFetcher) Fetch(_ context.Context, r *http.Request) (store.Entry, error) {
	return f.lookup(strategy.Key(r))
}

func (f *scriptedFetcher) FetchURL(_ context.Context, url string) (store.Entry, error) {
	return f.lookup(http.MethodGet + " " + url)
}

func (f *scriptedFetcher) lookup(key string) (store.Entry, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return store.Entry{}, fmt.Errorf("scripted: connection refused")
	}
	entry, ok := f.responses[key]
	if !ok {
		return store.Entry{Status: http.StatusNotFound, Body: []byte("not found")}, nil
	}
	return entry, nil
}

func newTestGateway(t *testing.T, fetcher *scriptedFetcher, mutate func(*config.Config)) *Gateway {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.Precache.URLs = []string{"/", "/app.js"}
	if mutate != nil {
		mutate(&cfg)
	}
	mgr, err := store.NewManager(store.ManagerOptions{
		Backend: store.NewMemory(),
		Version: cfg.Server.Cache.Version,
		Fetch:   fetcher.FetchURL,
		Logger:  discardLogger(),
	})
	require.NoError(t, err)
	g, err := New(Options{
		Config:       cfg,
		Store:        mgr,
		Fetcher:      fetcher,
		UpstreamHost: "app.internal:8080",
		Manifest:     cfg.Server.Precache.URLs,
		Logger:       discardLogger(),
	})
	require.NoError(t, err)
	return g
}

func defaultResponses() map[string]store.Entry {
	return map[string]store.Entry{
		"GET /":          {Status: 200, Headers: map[string]string{"Content-Type": "text/html"}, Body: []byte("<html>shell</html>")},
		"GET /app.js":    {Status: 200, Headers: map[string]string{"Content-Type": "text/javascript"}, Body: []byte("console.log(1)")},
		"GET /api/tasks": {Status: 200, Headers: map[string]string{"Content-Type": "application/json"}, Body: []byte(`[{"id":1}]`)},
		"GET /dashboard": {Status: 200, Headers: map[string]string{"Content-Type": "text/html"}, Body: []byte("<html>dash</html>")},
	}
}

func serve(g *Gateway, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.ServeRequest(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestLifecycleProgression(t *testing.T) {
	fetcher := &scriptedFetcher{responses: defaultResponses()}
	g := newTestGateway(t, fetcher, nil)

	require.Equal(t, StateUninstalled, g.State())
	require.NoError(t, g.Install(context.Background()))
	require.Equal(t, StateInstalled, g.State())
	require.NoError(t, g.Activate(context.Background()))
	require.Equal(t, StateActive, g.State())

	// Re-installing an active gateway is a state error.
	require.Error(t, g.Install(context.Background()))
}

func TestActivateRequiresInstall(t *testing.T) {
	g := newTestGateway(t, &scriptedFetcher{responses: defaultResponses()}, nil)
	require.Error(t, g.Activate(context.Background()))
	require.Equal(t, StateUninstalled, g.State())
}

func TestInstallLenientToleratesFailures(t *testing.T) {
	fetcher := &scriptedFetcher{responses: defaultResponses()}
	g := newTestGateway(t, fetcher, func(cfg *config.Config) {
		cfg.Server.Precache.URLs = []string{"/", "/missing.css"}
	})
	require.NoError(t, g.Install(context.Background()), "404s degrade the precache but install succeeds")
	require.Equal(t, StateInstalled, g.State())
}

func TestInstallStrictRollsBack(t *testing.T) {
	fetcher := &scriptedFetcher{responses: defaultResponses()}
	g := newTestGateway(t, fetcher, func(cfg *config.Config) {
		cfg.Server.Precache.URLs = []string{"/", "/missing.css"}
		cfg.Server.Precache.Strict = true
	})
	require.Error(t, g.Install(context.Background()))
	require.Equal(t, StateUninstalled, g.State(), "strict install failure rolls back to uninstalled")
}

func TestPreActiveRequestsBypassCache(t *testing.T) {
	fetcher := &scriptedFetcher{responses: defaultResponses()}
	g := newTestGateway(t, fetcher, nil)

	rec := serve(g, http.MethodGet, "http://app.internal:8080/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "network", rec.Header().Get(HeaderSource))

	// Nothing was cached: the same request goes upstream again.
	before := fetcher.calls.Load()
	serve(g, http.MethodGet, "http://app.internal:8080/app.js")
	require.Equal(t, before+1, fetcher.calls.Load())
}

func activated(t *testing.T, fetcher *scriptedFetcher, mutate func(*config.Config)) *Gateway {
	t.Helper()
	g := newTestGateway(t, fetcher, mutate)
	require.NoError(t, g.Install(context.Background()))
	require.NoError(t, g.Activate(context.Background()))
	return g
}

func TestDispatchCacheFirstServesPrecachedAsset(t *testing.T) {
	fetcher := &scriptedFetcher{responses: defaultResponses()}
	g := activated(t, fetcher, nil)

	before := fetcher.calls.Load()
	rec := serve(g, http.MethodGet, "http://app.internal:8080/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cache", rec.Header().Get(HeaderSource))
	require.Equal(t, "console.log(1)", rec.Body.String())
	require.Equal(t, before, fetcher.calls.Load(), "precached asset never touches the network")
}

func TestDispatchNetworkFirstForAPI(t *testing.T) {
	fetcher := &scriptedFetcher{responses: defaultResponses()}
	g := activated(t, fetcher, nil)

	rec := serve(g, http.MethodGet, "http://app.internal:8080/api/tasks")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "network", rec.Header().Get(HeaderSource))

	// Kill the upstream: the stored copy answers as stale.
	fetcher.fail.Store(true)
	rec = serve(g, http.MethodGet, "http://app.internal:8080/api/tasks")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "stale", rec.Header().Get(HeaderSource))
	require.Equal(t, `[{"id":1}]`, rec.Body.String())
}

func TestDispatchStaleWhileRevalidateForRoutes(t *testing.T) {
	fetcher := &scriptedFetcher{responses: defaultResponses()}
	g := activated(t, fetcher, nil)

	rec := serve(g, http.MethodGet, "http://app.internal:8080/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "network", rec.Header().Get(HeaderSource), "first visit fetches inline")
	g.WaitForRevalidations()

	rec = serve(g, http.MethodGet, "http://app.internal:8080/dashboard")
	require.Equal(t, "cache", rec.Header().Get(HeaderSource), "second visit is answered from cache")
	g.WaitForRevalidations()
}

func TestDispatchForeignHostPassesThrough(t *testing.T) {
	fetcher := &scriptedFetcher{responses: map[string]store.Entry{
		"GET cdn.example.com/widget.js": {Status: 200, Body: []byte("3p")},
	}}
	g := activated(t, fetcher, nil)

	before := fetcher.calls.Load()
	rec := serve(g, http.MethodGet, "http://cdn.example.com/widget.js")
	require.Equal(t, "network", rec.Header().Get(HeaderSource))
	require.Equal(t, before+1, fetcher.calls.Load())

	// Untrusted foreign hosts are never cached, even asset-shaped paths.
	serve(g, http.MethodGet, "http://cdn.example.com/widget.js")
	require.Equal(t, before+2, fetcher.calls.Load())
}

func TestDispatchTrustedOriginIsClassified(t *testing.T) {
	fetcher := &scriptedFetcher{responses: map[string]store.Entry{
		"GET cdn.example.com/lib.js": {Status: 200, Body: []byte("lib")},
	}}
	g := activated(t, fetcher, func(cfg *config.Config) {
		cfg.Server.Upstream.TrustedOrigins = []string{"cdn.example.com"}
	})

	serve(g, http.MethodGet, "http://cdn.example.com/lib.js")
	before := fetcher.calls.Load()
	rec := serve(g, http.MethodGet, "http://cdn.example.com/lib.js")
	require.Equal(t, "cache", rec.Header().Get(HeaderSource))
	require.Equal(t, before, fetcher.calls.Load())
}

func TestDispatchForeignAuthorityReachesItsOwnOrigin(t *testing.T) {
	var primaryCalls, thirdCalls atomic.Int64
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		_, _ = w.Write([]byte("primary:" + r.URL.Path))
	}))
	defer primary.Close()
	third := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		thirdCalls.Add(1)
		_, _ = w.Write([]byte("third-party:" + r.URL.Path))
	}))
	defer third.Close()

	thirdHost := strings.TrimPrefix(third.URL, "http://")

	cfg := config.DefaultConfig()
	cfg.Server.Upstream.Origin = primary.URL
	cfg.Server.Upstream.TrustedOrigins = []string{thirdHost}
	cfg.Server.Precache.URLs = []string{"/lib.js"}

	up, err := NewUpstream(primary.URL, 5*time.Second, discardLogger())
	require.NoError(t, err)
	mgr, err := store.NewManager(store.ManagerOptions{
		Backend: store.NewMemory(),
		Version: cfg.Server.Cache.Version,
		Fetch:   up.FetchURL,
		Logger:  discardLogger(),
	})
	require.NoError(t, err)
	g, err := New(Options{
		Config:       cfg,
		Store:        mgr,
		Fetcher:      up,
		UpstreamHost: up.Host(),
		Manifest:     cfg.Server.Precache.URLs,
		Logger:       discardLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, g.Install(context.Background()))
	require.NoError(t, g.Activate(context.Background()))

	// Trusted foreign authority: fetched from its own origin and cached under
	// a host-qualified key, never delivered to the primary upstream.
	before := primaryCalls.Load()
	rec := serve(g, http.MethodGet, "http://"+thirdHost+"/lib.js")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "network", rec.Header().Get(HeaderSource))
	require.Equal(t, "third-party:/lib.js", rec.Body.String())
	require.Equal(t, before, primaryCalls.Load())

	rec = serve(g, http.MethodGet, "http://"+thirdHost+"/lib.js")
	require.Equal(t, "cache", rec.Header().Get(HeaderSource))
	require.Equal(t, "third-party:/lib.js", rec.Body.String())

	// The same path against the primary origin resolves the precached entry,
	// not the trusted origin's copy.
	rec = serve(g, http.MethodGet, "http://"+up.Host()+"/lib.js")
	require.Equal(t, "cache", rec.Header().Get(HeaderSource))
	require.Equal(t, "primary:/lib.js", rec.Body.String())

	// Untrusted foreign host: passthrough reaches that host, nothing cached.
	fourth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("untrusted:" + r.URL.Path))
	}))
	defer fourth.Close()
	fourthHost := strings.TrimPrefix(fourth.URL, "http://")

	rec = serve(g, http.MethodGet, "http://"+fourthHost+"/widget.js")
	require.Equal(t, "network", rec.Header().Get(HeaderSource))
	require.Equal(t, "untrusted:/widget.js", rec.Body.String())
	rec = serve(g, http.MethodGet, "http://"+fourthHost+"/widget.js")
	require.Equal(t, "network", rec.Header().Get(HeaderSource), "untrusted hosts are never cached")
}

func TestOfflineFallbackForUncachedAsset(t *testing.T) {
	fetcher := &scriptedFetcher{responses: defaultResponses()}
	g := activated(t, fetcher, nil)

	fetcher.fail.Store(true)
	rec := serve(g, http.MethodGet, "http://app.internal:8080/vendor.js")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "fallback", rec.Header().Get(HeaderSource))
	require.Contains(t, rec.Body.String(), "Offline")
}

func TestActivatePurgesObsoleteVersions(t *testing.T) {
	backend := store.NewMemory()
	fetcher := &scriptedFetcher{responses: defaultResponses()}

	// Seed an entry under the previous cache version.
	oldMgr, err := store.NewManager(store.ManagerOptions{Backend: backend, Version: "1", Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, oldMgr.Put(context.Background(), store.LogicalStatic, "GET /old.js", store.Entry{Status: 200, Body: []byte("old")}))

	cfg := config.DefaultConfig()
	cfg.Server.Cache.Version = "2"
	cfg.Server.Precache.URLs = []string{"/"}
	mgr, err := store.NewManager(store.ManagerOptions{
		Backend: backend,
		Version: "2",
		Fetch:   fetcher.FetchURL,
		Logger:  discardLogger(),
	})
	require.NoError(t, err)
	g, err := New(Options{
		Config:       cfg,
		Store:        mgr,
		Fetcher:      fetcher,
		UpstreamHost: "app.internal:8080",
		Manifest:     cfg.Server.Precache.URLs,
		Logger:       discardLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, g.Install(context.Background()))
	require.NoError(t, g.Activate(context.Background()))

	partitions, err := backend.Partitions(context.Background())
	require.NoError(t, err)
	for _, p := range partitions {
		require.False(t, strings.HasSuffix(p, "-v1"), "version 1 partition %q survived activation", p)
	}
}

func TestServeHealth(t *testing.T) {
	fetcher := &scriptedFetcher{responses: defaultResponses()}
	g := newTestGateway(t, fetcher, nil)

	rec := httptest.NewRecorder()
	g.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"uninstalled"`)

	require.NoError(t, g.Install(context.Background()))
	require.NoError(t, g.Activate(context.Background()))

	rec = httptest.NewRecorder()
	g.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"state":"active"`)
}

func TestStoredResponsesCarryMetadataHeaders(t *testing.T) {
	fetcher := &scriptedFetcher{responses: defaultResponses()}
	g := activated(t, fetcher, nil)

	rec := serve(g, http.MethodGet, "http://app.internal:8080/app.js")
	require.Equal(t, "cache", rec.Header().Get(HeaderSource))
	require.NotEmpty(t, rec.Header().Get(store.HeaderStoredAt))
	storedAt, err := time.Parse(time.RFC3339Nano, rec.Header().Get(store.HeaderStoredAt))
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), storedAt, time.Minute)
	require.Equal(t, "1", rec.Header().Get(store.HeaderVersion))
}
