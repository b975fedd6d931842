package classify

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/quayside/cachegate/internal/config"
)

// Strategy tags a request with the resolution algorithm the dispatcher should
// run. Tags are recomputed per request and never stored.
type Strategy string

const (
	CacheFirst           Strategy = "cache-first"
	NetworkFirst         Strategy = "network-first"
	StaleWhileRevalidate Strategy = "stale-while-revalidate"
	NetworkOnly          Strategy = "network-only"
)

// Classifier maps request URLs to strategy tags. It is built once at startup
// from the configured pattern tables and is immutable thereafter; Classify is
// pure, total, and safe for concurrent use.
type Classifier struct {
	assetExtensions    map[string]struct{}
	assetPrefixes      []string
	hashedBundle       *regexp.Regexp
	apiPrefixes        []string
	navigationPaths    map[string]struct{}
	navigationSuffixes []string
}

// New compiles the pattern tables. Pattern sets are evaluated in fixed
// priority order: assets, then API, then navigation, falling through to
// network-only.
func New(cfg config.PatternsConfig) (*Classifier, error) {
	c := &Classifier{
		assetExtensions:    make(map[string]struct{}, len(cfg.AssetExtensions)),
		assetPrefixes:      append([]string(nil), cfg.AssetPrefixes...),
		apiPrefixes:        append([]string(nil), cfg.APIPrefixes...),
		navigationPaths:    make(map[string]struct{}, len(cfg.NavigationPaths)),
		navigationSuffixes: append([]string(nil), cfg.NavigationSuffixes...),
	}
	for _, ext := range cfg.AssetExtensions {
		c.assetExtensions[strings.ToLower(ext)] = struct{}{}
	}
	for _, p := range cfg.NavigationPaths {
		c.navigationPaths[p] = struct{}{}
	}
	if cfg.HashedBundle != "" {
		compiled, err := regexp.Compile(cfg.HashedBundle)
		if err != nil {
			return nil, fmt.Errorf("classify: hashed bundle pattern: %w", err)
		}
		c.hashedBundle = compiled
	}
	return c, nil
}

// Classify resolves a URL to its strategy tag.
func (c *Classifier) Classify(u *url.URL) Strategy {
	p := u.Path
	if p == "" {
		p = "/"
	}
	switch {
	case c.isAsset(p):
		return CacheFirst
	case c.isAPI(p):
		return NetworkFirst
	case c.isNavigation(p):
		return StaleWhileRevalidate
	default:
		return NetworkOnly
	}
}

func (c *Classifier) isAsset(p string) bool {
	lower := strings.ToLower(p)
	if ext := path.Ext(lower); ext != "" {
		if _, ok := c.assetExtensions[ext]; ok {
			return true
		}
	}
	for _, prefix := range c.assetPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	if c.hashedBundle != nil && c.hashedBundle.MatchString(lower) {
		return true
	}
	return false
}

func (c *Classifier) isAPI(p string) bool {
	for _, prefix := range c.apiPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (c *Classifier) isNavigation(p string) bool {
	if _, ok := c.navigationPaths[p]; ok {
		return true
	}
	lower := strings.ToLower(p)
	for _, suffix := range c.navigationSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	// Extensionless paths are SPA routes resolved by the shell document.
	if path.Ext(lower) == "" {
		return true
	}
	return false
}
