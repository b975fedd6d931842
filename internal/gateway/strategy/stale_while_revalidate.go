package strategy

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/quayside/cachegate/internal/gateway/store"
)

// StaleWhileRevalidate serves navigations: any cached entry is returned
// immediately while a decoupled background fetch refreshes the dynamic
// partition for the next request.
type StaleWhileRevalidate struct {
	store  *store.Manager
	fetch  Fetcher
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewStaleWhileRevalidate constructs the executor over the dynamic partition.
func NewStaleWhileRevalidate(manager *store.Manager, fetch Fetcher, logger *slog.Logger) *StaleWhileRevalidate {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaleWhileRevalidate{
		store:  manager,
		fetch:  fetch,
		logger: logger.With(slog.String("agent", "stale_while_revalidate")),
	}
}

// Name identifies the executor for logging and metrics.
func (s *StaleWhileRevalidate) Name() string { return "stale-while-revalidate" }

// Resolve returns a cached entry at once when present, kicking off a
// background revalidation whose settlement the request path never awaits. On
// a miss the fetch happens inline; if it fails too, one more lookup covers a
// concurrently completed revalidation before degrading to the offline
// fallback.
func (s *StaleWhileRevalidate) Resolve(ctx context.Context, req *http.Request) Result {
	key := Key(req)

	cached, ok, _ := s.store.Get(ctx, store.LogicalDynamic, key)
	if ok {
		// The revalidation outlives the request: detach it from the request's
		// cancellation while keeping its values.
		bgCtx := context.WithoutCancel(ctx)
		bgReq := req.Clone(bgCtx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.revalidate(bgCtx, bgReq, key)
		}()
		return Result{Entry: cached, Source: SourceCache}
	}

	entry, err := s.revalidate(ctx, req, key)
	if err == nil {
		return Result{Entry: entry, Source: SourceNetwork}
	}
	if cached, ok, _ := s.store.Get(ctx, store.LogicalDynamic, key); ok {
		return Result{Entry: cached, Source: SourceStale}
	}
	return Result{Entry: OfflineFallback(), Source: SourceFallback}
}

// revalidate fetches the request and overwrites the dynamic entry on any
// non-error response.
func (s *StaleWhileRevalidate) revalidate(ctx context.Context, req *http.Request, key string) (store.Entry, error) {
	entry, err := s.fetch.Fetch(ctx, req)
	if err != nil {
		s.logger.Debug("revalidation fetch failed", slog.String("key", key), slog.Any("error", err))
		return store.Entry{}, err
	}
	if cacheable(entry) {
		_ = s.store.Put(ctx, store.LogicalDynamic, key, entry)
	}
	return entry, nil
}

// Wait blocks until all in-flight background revalidations settle. Tests use
// it to observe the refreshed cache deterministically.
func (s *StaleWhileRevalidate) Wait() {
	s.wg.Wait()
}
