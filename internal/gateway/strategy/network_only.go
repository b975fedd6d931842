package strategy

import (
	"context"
	"log/slog"
	"net/http"
)

// NetworkOnly is a pure passthrough: no cache reads, no cache writes.
type NetworkOnly struct {
	fetch  Fetcher
	logger *slog.Logger
}

// NewNetworkOnly constructs the passthrough executor.
func NewNetworkOnly(fetch Fetcher, logger *slog.Logger) *NetworkOnly {
	if logger == nil {
		logger = slog.Default()
	}
	return &NetworkOnly{
		fetch:  fetch,
		logger: logger.With(slog.String("agent", "network_only")),
	}
}

// Name identifies the executor for logging and metrics.
func (s *NetworkOnly) Name() string { return "network-only" }

// Resolve forwards the request to the upstream. The response, error status
// included, is relayed unmodified; only a transport failure synthesizes the
// offline fallback.
func (s *NetworkOnly) Resolve(ctx context.Context, req *http.Request) Result {
	entry, err := s.fetch.Fetch(ctx, req)
	if err != nil {
		s.logger.Debug("upstream fetch failed", slog.String("key", Key(req)), slog.Any("error", err))
		return Result{Entry: OfflineFallback(), Source: SourceFallback}
	}
	return Result{Entry: entry, Source: SourceNetwork}
}
