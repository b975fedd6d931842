package store

import (
	"context"
	"strings"
	"time"
)

// Entry is one captured response keyed by normalized request identity. Entries
// are immutable once written; overwrites replace the whole value.
type Entry struct {
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     []byte            `json:"body,omitempty"`
	StoredAt time.Time         `json:"storedAt"`
	Version  string            `json:"version,omitempty"`
}

// Clone returns a deep copy so callers never share header maps or body slices
// with the store.
func (e Entry) Clone() Entry {
	out := Entry{
		Status:   e.Status,
		StoredAt: e.StoredAt,
		Version:  e.Version,
	}
	if len(e.Headers) > 0 {
		out.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			out.Headers[k] = v
		}
	}
	if len(e.Body) > 0 {
		out.Body = append([]byte(nil), e.Body...)
	}
	return out
}

// Store is the partition-addressed key-value substrate beneath the Manager.
// Partitions spring into existence on first write.
type Store interface {
	Get(ctx context.Context, partition, key string) (Entry, bool, error)
	Put(ctx context.Context, partition, key string, entry Entry) error
	Keys(ctx context.Context, partition string) ([]string, error)
	Partitions(ctx context.Context) ([]string, error)
	DeletePartition(ctx context.Context, partition string) (bool, error)
	Close(ctx context.Context) error
}

// Logical partition names managed by the gateway. Every other partition name
// belongs to unrelated code and is never purged or cleared.
const (
	LogicalStatic  = "static"
	LogicalDynamic = "dynamic"
	LogicalAPI     = "api"
)

// ManagedLogicalNames lists the partitions the Manager owns, in a fixed order.
var ManagedLogicalNames = []string{LogicalStatic, LogicalDynamic, LogicalAPI}

const versionSeparator = "-v"

// PartitionName composes the physical partition name from a logical name and
// a version tag.
func PartitionName(logical, version string) string {
	return logical + versionSeparator + version
}

// SplitPartitionName recovers the logical name and version tag from a physical
// partition name. ok is false for names that do not follow the
// <logical>-v<version> convention.
func SplitPartitionName(name string) (logical, version string, ok bool) {
	idx := strings.LastIndex(name, versionSeparator)
	if idx <= 0 || idx+len(versionSeparator) >= len(name) {
		return "", "", false
	}
	return name[:idx], name[idx+len(versionSeparator):], true
}

// IsManagedLogical reports whether the logical name belongs to the gateway.
func IsManagedLogical(logical string) bool {
	for _, name := range ManagedLogicalNames {
		if name == logical {
			return true
		}
	}
	return false
}
