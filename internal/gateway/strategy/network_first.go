package strategy

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/quayside/cachegate/internal/gateway/store"
)

// NetworkFirst serves API traffic: the upstream is always tried first, and the
// api partition acts as a bounded-staleness fallback during outages.
type NetworkFirst struct {
	store  *store.Manager
	fetch  Fetcher
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewNetworkFirst constructs the network-first executor. A non-positive ttl
// falls back to the 5 minute default.
func NewNetworkFirst(manager *store.Manager, fetch Fetcher, ttl time.Duration, logger *slog.Logger) *NetworkFirst {
	if ttl <= 0 {
		ttl = store.DefaultAPITTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NetworkFirst{
		store:  manager,
		fetch:  fetch,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("agent", "network_first")),
	}
}

// Name identifies the executor for logging and metrics.
func (s *NetworkFirst) Name() string { return "network-first" }

// Resolve fetches from the upstream with no added timeout. Successful 2xx
// responses refresh the api partition; only 2xx, stricter than the other
// strategies' sub-400 bound. On transport failure a cached entry within the
// TTL is served; an expired entry counts as absent and the request degrades
// to the synthesized JSON error.
func (s *NetworkFirst) Resolve(ctx context.Context, req *http.Request) Result {
	key := Key(req)

	entry, err := s.fetch.Fetch(ctx, req)
	if err == nil {
		if entry.Status >= http.StatusOK && entry.Status < http.StatusMultipleChoices {
			_ = s.store.Put(ctx, store.LogicalAPI, key, entry)
		}
		return Result{Entry: entry, Source: SourceNetwork}
	}

	s.logger.Debug("upstream fetch failed", slog.String("key", key), slog.Any("error", err))
	now := s.now()
	if cached, ok, _ := s.store.GetFresh(ctx, store.LogicalAPI, key, now, s.ttl); ok {
		return Result{Entry: cached, Source: SourceStale}
	}
	return Result{Entry: APIFallback(now), Source: SourceFallback}
}
