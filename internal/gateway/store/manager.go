package store

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quayside/cachegate/internal/metrics"
)

// Informational headers stamped onto stored entries so consumers can see when
// and under which cache version a response was captured.
const (
	HeaderStoredAt = "X-Cachegate-Stored-At"
	HeaderVersion  = "X-Cachegate-Version"
)

// FetchFunc resolves a root-relative URL against the upstream origin and
// captures the response. Transport failures return an error; HTTP error
// statuses return a populated Entry and no error.
type FetchFunc func(ctx context.Context, url string) (Entry, error)

// Manager is the sole owner of the managed cache partitions. Strategy
// executors and the control channel go through it for every read and write;
// nothing else touches the backing store.
type Manager struct {
	backend     Store
	version     string
	fetch       FetchFunc
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Recorder
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Backend Store
	Version string
	Fetch   FetchFunc
	// PrecacheConcurrency bounds parallel manifest fetches. Zero means 4.
	PrecacheConcurrency int
	Logger              *slog.Logger
	Metrics             *metrics.Recorder
}

// NewManager wires a Manager over the given backend.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Backend == nil {
		return nil, errors.New("store: backend required")
	}
	if opts.Version == "" {
		return nil, errors.New("store: version required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := opts.PrecacheConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Manager{
		backend:     opts.Backend,
		version:     opts.Version,
		fetch:       opts.Fetch,
		concurrency: concurrency,
		logger:      logger.With(slog.String("agent", "store_manager")),
		metrics:     opts.Metrics,
	}, nil
}

// Version returns the current cache version tag.
func (m *Manager) Version() string { return m.version }

// PartitionFor maps a logical partition name to its current physical name.
func (m *Manager) PartitionFor(logical string) string {
	return PartitionName(logical, m.version)
}

// Get looks up an entry in the current partition for the logical name.
func (m *Manager) Get(ctx context.Context, logical, key string) (Entry, bool, error) {
	return m.lookup(ctx, logical, key, time.Time{}, 0)
}

// GetFresh looks up an entry and treats one stored more than ttl before now as
// absent. Expired lookups are recorded separately from plain misses.
func (m *Manager) GetFresh(ctx context.Context, logical, key string, now time.Time, ttl time.Duration) (Entry, bool, error) {
	return m.lookup(ctx, logical, key, now, ttl)
}

func (m *Manager) lookup(ctx context.Context, logical, key string, now time.Time, ttl time.Duration) (Entry, bool, error) {
	partition := m.PartitionFor(logical)
	start := time.Now()
	entry, ok, err := m.backend.Get(ctx, partition, key)
	expired := err == nil && ok && ttl > 0 && IsExpired(entry, now, ttl)
	outcome := metrics.CacheLookupMiss
	switch {
	case err != nil:
		outcome = metrics.CacheLookupError
	case expired:
		outcome = metrics.CacheLookupExpired
	case ok:
		outcome = metrics.CacheLookupHit
	}
	m.metrics.ObserveCacheLookup(partition, outcome, time.Since(start))
	if err != nil {
		m.logger.Warn("cache lookup failed",
			slog.String("partition", partition),
			slog.String("key", key),
			slog.Any("error", err))
		return Entry{}, false, err
	}
	if expired {
		m.logger.Debug("cached entry past ttl",
			slog.String("partition", partition),
			slog.String("key", key),
			slog.Time("stored_at", entry.StoredAt))
		return Entry{}, false, nil
	}
	return entry, ok, nil
}

// Put stores an entry into the current partition for the logical name,
// stamping StoredAt, the version tag, and the informational headers. StoredAt
// never moves backwards for a key: overwrites always carry a fresh timestamp.
func (m *Manager) Put(ctx context.Context, logical, key string, entry Entry) error {
	partition := m.PartitionFor(logical)
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	entry.Version = m.version
	if entry.Headers == nil {
		entry.Headers = make(map[string]string, 2)
	}
	entry.Headers[HeaderStoredAt] = entry.StoredAt.Format(time.RFC3339Nano)
	entry.Headers[HeaderVersion] = m.version

	start := time.Now()
	err := m.backend.Put(ctx, partition, key, entry)
	outcome := metrics.CacheStoreStored
	if err != nil {
		outcome = metrics.CacheStoreError
	}
	m.metrics.ObserveCacheStore(partition, outcome, time.Since(start))
	if err != nil {
		m.logger.Warn("cache store failed",
			slog.String("partition", partition),
			slog.String("key", key),
			slog.Any("error", err))
		return err
	}
	return nil
}

// PurgeObsolete deletes every managed partition whose version tag differs
// from the current one. Partitions with unmanaged logical names are left
// untouched. Returns the names of the purged partitions.
func (m *Manager) PurgeObsolete(ctx context.Context) ([]string, error) {
	names, err := m.backend.Partitions(ctx)
	if err != nil {
		return nil, err
	}
	var purged []string
	for _, name := range names {
		logical, version, ok := SplitPartitionName(name)
		if !ok || !IsManagedLogical(logical) {
			continue
		}
		if version == m.version {
			continue
		}
		existed, err := m.backend.DeletePartition(ctx, name)
		if err != nil {
			return purged, err
		}
		if existed {
			purged = append(purged, name)
			m.logger.Info("purged obsolete partition",
				slog.String("partition", name),
				slog.String("current_version", m.version))
		}
	}
	return purged, nil
}

// PrecacheResult reports the per-URL outcome of a precache run.
type PrecacheResult struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// Precache fetches each manifest URL and stores the successful responses into
// the current partition for the logical name. Failures are collected, never
// raised: a URL lands in Failed when the fetch errors, the response status is
// an error, or the store write is rejected.
func (m *Manager) Precache(ctx context.Context, logical string, urls []string) (PrecacheResult, error) {
	if m.fetch == nil {
		return PrecacheResult{}, errors.New("store: precache requires a fetch function")
	}

	var mu sync.Mutex
	outcomes := make(map[string]bool, len(urls))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, url := range urls {
		g.Go(func() error {
			entry, err := m.fetch(groupCtx, url)
			ok := err == nil && entry.Status < http.StatusBadRequest
			if ok {
				key := "GET " + url
				if putErr := m.Put(groupCtx, logical, key, entry); putErr != nil {
					ok = false
				}
			}
			if err != nil {
				m.logger.Warn("precache fetch failed", slog.String("url", url), slog.Any("error", err))
			}
			mu.Lock()
			outcomes[url] = ok
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return PrecacheResult{}, err
	}

	// Preserve manifest order in the result lists.
	result := PrecacheResult{}
	for _, url := range urls {
		if outcomes[url] {
			result.Succeeded = append(result.Succeeded, url)
		} else {
			result.Failed = append(result.Failed, url)
		}
	}
	m.metrics.ObservePrecache(len(result.Succeeded), len(result.Failed))
	m.logger.Info("precache completed",
		slog.String("partition", m.PartitionFor(logical)),
		slog.Int("succeeded", len(result.Succeeded)),
		slog.Int("failed", len(result.Failed)))
	return result, nil
}

// PartitionStats summarizes one partition for the control channel.
type PartitionStats struct {
	Count int      `json:"count"`
	URLs  []string `json:"urls"`
}

// Stats aggregates entry counts and keys across every partition in the
// backend, managed or not. Read-only.
type Stats struct {
	Partitions      map[string]PartitionStats `json:"partitions"`
	TotalPartitions int                       `json:"totalPartitions"`
	TotalEntries    int                       `json:"totalEntries"`
}

// Stats enumerates all partitions and their keys.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	names, err := m.backend.Partitions(ctx)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Partitions: make(map[string]PartitionStats, len(names))}
	for _, name := range names {
		keys, err := m.backend.Keys(ctx, name)
		if err != nil {
			return Stats{}, err
		}
		stats.Partitions[name] = PartitionStats{Count: len(keys), URLs: keys}
		stats.TotalPartitions++
		stats.TotalEntries += len(keys)
	}
	return stats, nil
}

// Clear deletes every managed partition unconditionally, current version
// included, and returns how many partitions were removed. Clearing an empty
// store returns 0 without error.
func (m *Manager) Clear(ctx context.Context) (int, error) {
	names, err := m.backend.Partitions(ctx)
	if err != nil {
		return 0, err
	}
	cleared := 0
	for _, name := range names {
		logical, _, ok := SplitPartitionName(name)
		if !ok || !IsManagedLogical(logical) {
			continue
		}
		existed, err := m.backend.DeletePartition(ctx, name)
		if err != nil {
			return cleared, err
		}
		if existed {
			cleared++
		}
	}
	m.logger.Info("cleared managed partitions", slog.Int("count", cleared))
	return cleared, nil
}

// Close releases the backing store.
func (m *Manager) Close(ctx context.Context) error {
	return m.backend.Close(ctx)
}
