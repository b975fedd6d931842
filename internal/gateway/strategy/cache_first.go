package strategy

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quayside/cachegate/internal/gateway/store"
)

// CacheFirst serves immutable assets: a cached entry wins outright with no
// freshness check, the network is only consulted on a miss.
type CacheFirst struct {
	store  *store.Manager
	fetch  Fetcher
	logger *slog.Logger
}

// NewCacheFirst constructs the cache-first executor over the static partition.
func NewCacheFirst(manager *store.Manager, fetch Fetcher, logger *slog.Logger) *CacheFirst {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheFirst{
		store:  manager,
		fetch:  fetch,
		logger: logger.With(slog.String("agent", "cache_first")),
	}
}

// Name identifies the executor for logging and metrics.
func (s *CacheFirst) Name() string { return "cache-first" }

// Resolve looks the key up in the static partition and returns any hit
// untouched. On a miss it fetches; non-error responses are stored before
// being returned. A transport failure triggers one more lookup, covering the
// race where a concurrent request populated the entry while this fetch was in
// flight, before degrading to the offline fallback.
func (s *CacheFirst) Resolve(ctx context.Context, req *http.Request) Result {
	key := Key(req)

	if entry, ok, _ := s.store.Get(ctx, store.LogicalStatic, key); ok {
		return Result{Entry: entry, Source: SourceCache}
	}

	entry, err := s.fetch.Fetch(ctx, req)
	if err == nil {
		if cacheable(entry) {
			// A rejected write never fails the request.
			_ = s.store.Put(ctx, store.LogicalStatic, key, entry)
		}
		return Result{Entry: entry, Source: SourceNetwork}
	}

	s.logger.Debug("upstream fetch failed", slog.String("key", key), slog.Any("error", err))
	if entry, ok, _ := s.store.Get(ctx, store.LogicalStatic, key); ok {
		return Result{Entry: entry, Source: SourceStale}
	}
	return Result{Entry: OfflineFallback(), Source: SourceFallback}
}
