package classify

import (
	"net/url"
	"testing"

	"github.com/quayside/cachegate/internal/config"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(config.DefaultConfig().Server.Patterns)
	require.NoError(t, err)
	return c
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestNewRejectsBadPattern(t *testing.T) {
	cfg := config.DefaultConfig().Server.Patterns
	cfg.HashedBundle = "(["
	_, err := New(cfg)
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name string
		url  string
		want Strategy
	}{
		{"js bundle", "/app.js", CacheFirst},
		{"css", "/styles.css", CacheFirst},
		{"image", "/logo.png", CacheFirst},
		{"font", "/fonts/inter.woff2", CacheFirst},
		{"source map", "/app.js.map", CacheFirst},
		{"assets prefix", "/assets/vendor.mjs", CacheFirst},
		{"static prefix", "/static/img/banner.webp", CacheFirst},
		{"hashed bundle", "/chunk-1a2b3c4d.js", CacheFirst},
		{"uppercase extension", "/LOGO.PNG", CacheFirst},

		{"api collection", "/api/tasks", NetworkFirst},
		{"api with query", "/api/patients?page=2", NetworkFirst},
		{"auth", "/auth/login", NetworkFirst},
		{"ai endpoint", "/ai/complete", NetworkFirst},

		{"root", "/", StaleWhileRevalidate},
		{"empty path", "", StaleWhileRevalidate},
		{"index", "/index.html", StaleWhileRevalidate},
		{"manifest", "/manifest.webmanifest", StaleWhileRevalidate},
		{"html page", "/about.html", StaleWhileRevalidate},
		{"spa route", "/patients/42", StaleWhileRevalidate},

		{"archive download", "/exports/report.zip", NetworkOnly},
		{"pdf", "/files/consent.pdf", NetworkOnly},
		{"video", "/media/intro.mp4", NetworkOnly},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, c.Classify(mustParse(t, tc.url)))
		})
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	// A URL matching both the asset and API tables must resolve to the first
	// set even though such overlap cannot occur with the default tables.
	cfg := config.DefaultConfig().Server.Patterns
	cfg.AssetPrefixes = append(cfg.AssetPrefixes, "/api/bundles/")
	c, err := New(cfg)
	require.NoError(t, err)

	require.Equal(t, CacheFirst, c.Classify(mustParse(t, "/api/bundles/main")))
	require.Equal(t, NetworkFirst, c.Classify(mustParse(t, "/api/tasks")))
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := newTestClassifier(t)
	u := mustParse(t, "/api/tasks?sort=due")
	first := c.Classify(u)
	for range 10 {
		require.Equal(t, first, c.Classify(u))
	}
}
