package strategy

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/quayside/cachegate/internal/gateway/store"
)

// OfflineFallback synthesizes the plain-text 503 served for page-like
// requests when neither the network nor the cache can help.
func OfflineFallback() store.Entry {
	return store.Entry{
		Status: http.StatusServiceUnavailable,
		Headers: map[string]string{
			"Content-Type": "text/plain; charset=utf-8",
		},
		Body: []byte("Offline: this resource is not available in the cache."),
	}
}

// apiError is the synthesized JSON body for failed API requests.
type apiError struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// APIFallback synthesizes the JSON 503 served for API-like requests when the
// network failed and no fresh cached entry exists.
func APIFallback(now time.Time) store.Entry {
	body, _ := json.Marshal(apiError{
		Error:     "offline: upstream unreachable and no fresh cached response",
		Timestamp: now.UTC(),
	})
	return store.Entry{
		Status: http.StatusServiceUnavailable,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: body,
	}
}
