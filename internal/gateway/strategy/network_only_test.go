package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quayside/cachegate/internal/gateway/store"
)

func TestNetworkOnlyPassesThrough(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.respond("GET /exports/report.zip", store.Entry{Status: 200, Body: []byte("zipbytes")})
	exec := NewNetworkOnly(fetch, discardLogger())

	result := exec.Resolve(context.Background(), get(t, "http://app.local/exports/report.zip"))
	require.Equal(t, SourceNetwork, result.Source)
	require.Equal(t, "zipbytes", string(result.Entry.Body))
}

func TestNetworkOnlyRelaysErrorStatuses(t *testing.T) {
	fetch := newFakeFetcher() // unscripted keys return 404
	exec := NewNetworkOnly(fetch, discardLogger())

	result := exec.Resolve(context.Background(), get(t, "http://app.local/nope"))
	require.Equal(t, SourceNetwork, result.Source)
	require.Equal(t, 404, result.Entry.Status)
}

func TestNetworkOnlyTransportFailureDegrades(t *testing.T) {
	fetch := newFakeFetcher()
	fetch.fail.Store(true)
	exec := NewNetworkOnly(fetch, discardLogger())

	result := exec.Resolve(context.Background(), get(t, "http://app.local/exports/report.zip"))
	require.Equal(t, SourceFallback, result.Source)
	require.Equal(t, 503, result.Entry.Status)
}
