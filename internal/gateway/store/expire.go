package store

import "time"

// DefaultAPITTL bounds how long an api partition entry may still be served as
// a fallback during an outage.
const DefaultAPITTL = 5 * time.Minute

// IsExpired reports whether an entry is past its TTL at the given instant.
// A non-positive ttl falls back to DefaultAPITTL. Only the network-first
// fallback path consults this; other strategies serve entries regardless of
// age.
func IsExpired(entry Entry, now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultAPITTL
	}
	return now.Sub(entry.StoredAt) > ttl
}
