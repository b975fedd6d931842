// Package gateway wires the request dispatcher: every intercepted request is
// classified, handed to the matching strategy executor, and answered from the
// cache, the upstream, or a synthesized offline response. The gateway also
// owns the install/activate lifecycle and the control channel surface.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quayside/cachegate/internal/config"
	"github.com/quayside/cachegate/internal/gateway/classify"
	"github.com/quayside/cachegate/internal/gateway/control"
	"github.com/quayside/cachegate/internal/gateway/store"
	"github.com/quayside/cachegate/internal/gateway/strategy"
	"github.com/quayside/cachegate/internal/metrics"
)

// HeaderSource reports where a response came from, mirroring the
// strategy.Source values.
const HeaderSource = "X-Cachegate-Source"

// Options assembles a Gateway. Config must have passed Validate.
type Options struct {
	Config  config.Config
	Store   *store.Manager
	Fetcher strategy.Fetcher
	// UpstreamHost is the origin authority; proxy-form requests targeting a
	// different host bypass the cache unless the host is a trusted origin.
	UpstreamHost string
	Manifest     []string
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
}

// Gateway dispatches intercepted requests to strategy executors.
type Gateway struct {
	classifier *classify.Classifier
	store      *store.Manager
	logger     *slog.Logger
	metrics    *metrics.Recorder
	lifecycle  *lifecycle
	control    *control.Handler

	cacheFirst   *strategy.CacheFirst
	networkFirst *strategy.NetworkFirst
	swr          *strategy.StaleWhileRevalidate
	networkOnly  *strategy.NetworkOnly

	upstreamHost string
	trusted      map[string]struct{}
	manifest     []string
	strict       bool
	version      string
}

// New builds the dispatcher, compiling the pattern tables and wiring each
// executor to the store manager. All configuration is captured here; the
// gateway is immutable afterwards except for its lifecycle state.
func New(opts Options) (*Gateway, error) {
	if opts.Store == nil {
		return nil, errors.New("gateway: store manager required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("gateway: upstream fetcher required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	classifier, err := classify.New(opts.Config.Server.Patterns)
	if err != nil {
		return nil, err
	}

	apiTTL := time.Duration(opts.Config.Server.Cache.APITTLSeconds) * time.Second
	trusted := make(map[string]struct{}, len(opts.Config.Server.Upstream.TrustedOrigins))
	for _, origin := range opts.Config.Server.Upstream.TrustedOrigins {
		trusted[origin] = struct{}{}
	}

	return &Gateway{
		classifier:   classifier,
		store:        opts.Store,
		logger:       logger.With(slog.String("agent", "dispatcher")),
		metrics:      opts.Metrics,
		lifecycle:    newLifecycle(logger),
		control:      control.NewHandler(opts.Store, logger),
		cacheFirst:   strategy.NewCacheFirst(opts.Store, opts.Fetcher, logger),
		networkFirst: strategy.NewNetworkFirst(opts.Store, opts.Fetcher, apiTTL, logger),
		swr:          strategy.NewStaleWhileRevalidate(opts.Store, opts.Fetcher, logger),
		networkOnly:  strategy.NewNetworkOnly(opts.Fetcher, logger),
		upstreamHost: opts.UpstreamHost,
		trusted:      trusted,
		manifest:     append([]string(nil), opts.Manifest...),
		strict:       opts.Config.Server.Precache.Strict,
		version:      opts.Config.Server.Cache.Version,
	}, nil
}

// State exposes the current lifecycle state.
func (g *Gateway) State() State {
	return g.lifecycle.current()
}

// Install precaches the manifest into the static partition. In the default
// lenient mode partial failure logs and proceeds with a degraded cache; with
// strict precaching any failure aborts and the gateway stays uninstalled.
func (g *Gateway) Install(ctx context.Context) error {
	if err := g.lifecycle.transition(StateUninstalled, StateInstalling); err != nil {
		return err
	}
	result, err := g.store.Precache(ctx, store.LogicalStatic, g.manifest)
	if err != nil {
		g.lifecycle.rollback(StateInstalling, StateUninstalled)
		return fmt.Errorf("gateway: install: %w", err)
	}
	if g.strict && len(result.Failed) > 0 {
		g.lifecycle.rollback(StateInstalling, StateUninstalled)
		return fmt.Errorf("gateway: install: %d manifest entries failed: %v", len(result.Failed), result.Failed)
	}
	if len(result.Failed) > 0 {
		g.logger.Warn("installed with degraded precache",
			slog.Int("failed", len(result.Failed)),
			slog.Any("urls", result.Failed))
	}
	return g.lifecycle.transition(StateInstalling, StateInstalled)
}

// Activate purges partitions condemned by a version bump and makes the
// gateway the controller for subsequent requests.
func (g *Gateway) Activate(ctx context.Context) error {
	if err := g.lifecycle.transition(StateInstalled, StateActivating); err != nil {
		return err
	}
	purged, err := g.store.PurgeObsolete(ctx)
	if err != nil {
		return fmt.Errorf("gateway: activate: %w", err)
	}
	if len(purged) > 0 {
		g.logger.Info("activation purged obsolete partitions", slog.Any("partitions", purged))
	}
	return g.lifecycle.transition(StateActivating, StateActive)
}

// Precache re-runs the static precache with a fresh URL list. The manifest
// watcher calls this when build tooling rewrites the manifest file.
func (g *Gateway) Precache(ctx context.Context, urls []string) (store.PrecacheResult, error) {
	return g.store.Precache(ctx, store.LogicalStatic, urls)
}

// ServeRequest intercepts one request, classifies it, and writes the
// resolved response. Requests arriving before activation, and proxy-form
// requests for untrusted foreign hosts, pass through to the network without
// touching the cache.
func (g *Gateway) ServeRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	// Proxy-form requests for the primary origin drop their authority so they
	// share cache keys with origin-form traffic and the precache manifest.
	if r.URL.Host != "" && r.URL.Host == g.upstreamHost {
		r = r.Clone(r.Context())
		r.URL.Scheme = ""
		r.URL.Host = ""
	}
	tag := g.classifyRequest(r)
	resolver := g.resolverFor(tag)

	result := resolver.Resolve(r.Context(), r)
	g.writeResult(w, result)

	g.metrics.ObserveRequest(string(tag), string(result.Source), result.Entry.Status, time.Since(start))
	g.logger.Debug("request resolved",
		slog.String("key", strategy.Key(r)),
		slog.String("strategy", string(tag)),
		slog.String("source", string(result.Source)),
		slog.Int("status", result.Entry.Status))
}

// classifyRequest applies the dispatch carve-outs before running the pattern
// classifier.
func (g *Gateway) classifyRequest(r *http.Request) classify.Strategy {
	if g.lifecycle.current() != StateActive {
		return classify.NetworkOnly
	}
	// Proxy-form requests name a foreign authority; only trusted origins are
	// classified and cached, everything else passes through untouched.
	if host := r.URL.Host; host != "" && host != g.upstreamHost {
		if _, ok := g.trusted[host]; !ok {
			return classify.NetworkOnly
		}
	}
	return g.classifier.Classify(r.URL)
}

func (g *Gateway) resolverFor(tag classify.Strategy) strategy.Resolver {
	switch tag {
	case classify.CacheFirst:
		return g.cacheFirst
	case classify.NetworkFirst:
		return g.networkFirst
	case classify.StaleWhileRevalidate:
		return g.swr
	default:
		return g.networkOnly
	}
}

func (g *Gateway) writeResult(w http.ResponseWriter, result strategy.Result) {
	header := w.Header()
	for name, value := range result.Entry.Headers {
		header.Set(name, value)
	}
	header.Set(HeaderSource, string(result.Source))
	status := result.Entry.Status
	if status == 0 {
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	if len(result.Entry.Body) > 0 {
		_, _ = w.Write(result.Entry.Body)
	}
}

// ServeControl handles the command/response protocol.
func (g *Gateway) ServeControl(w http.ResponseWriter, r *http.Request) {
	g.control.ServeHTTP(w, r)
}

// healthPayload is the /healthz response body.
type healthPayload struct {
	State           string `json:"state"`
	Version         string `json:"version"`
	TotalPartitions int    `json:"totalPartitions"`
	TotalEntries    int    `json:"totalEntries"`
}

// ServeHealth reports the lifecycle state and a cache summary.
func (g *Gateway) ServeHealth(w http.ResponseWriter, r *http.Request) {
	payload := healthPayload{
		State:   g.State().String(),
		Version: g.version,
	}
	if stats, err := g.store.Stats(r.Context()); err == nil {
		payload.TotalPartitions = stats.TotalPartitions
		payload.TotalEntries = stats.TotalEntries
	}
	w.Header().Set("Content-Type", "application/json")
	status := http.StatusOK
	if g.State() != StateActive {
		status = http.StatusServiceUnavailable
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WaitForRevalidations blocks until in-flight background refreshes settle.
// Intended for tests and orderly shutdown.
func (g *Gateway) WaitForRevalidations() {
	g.swr.Wait()
}
