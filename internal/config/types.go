package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Config holds every server-level option for the gateway.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs owned by the gateway lifecycle.
type ServerConfig struct {
	Listen   ListenConfig   `koanf:"listen"`
	Logging  LoggingConfig  `koanf:"logging"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Cache    CacheConfig    `koanf:"cache"`
	Precache PrecacheConfig `koanf:"precache"`
	Patterns PatternsConfig `koanf:"patterns"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// UpstreamConfig names the origin the gateway fronts. TrustedOrigins lists
// additional hosts whose requests are still classified and cached rather than
// passed through untouched.
type UpstreamConfig struct {
	Origin         string   `koanf:"origin"`
	TimeoutSeconds int      `koanf:"timeoutSeconds"`
	TrustedOrigins []string `koanf:"trustedOrigins"`
}

// CacheConfig selects the partition store backend and the cache version tag.
// Bumping Version is the only mechanism that condemns existing partitions; the
// next activation purges every managed partition carrying a different tag.
type CacheConfig struct {
	Backend       string           `koanf:"backend"`
	Version       string           `koanf:"version"`
	APITTLSeconds int              `koanf:"apiTtlSeconds"`
	Redis         RedisCacheConfig `koanf:"redis"`
}

type RedisCacheConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// PrecacheConfig describes the install-time manifest. URLs is the inline list;
// ManifestFile, when set, contributes additional entries (one root-relative
// path per line) and is watched for changes so build tooling can append hashed
// bundle URLs after deploys. Strict aborts installation on any manifest
// failure instead of proceeding with a degraded cache.
type PrecacheConfig struct {
	URLs         []string `koanf:"urls"`
	ManifestFile string   `koanf:"manifestFile"`
	Strict       bool     `koanf:"strict"`
	Concurrency  int      `koanf:"concurrency"`
}

// PatternsConfig feeds the request classifier. Matching is evaluated in fixed
// priority order: assets, then API, then navigation.
type PatternsConfig struct {
	AssetExtensions    []string `koanf:"assetExtensions"`
	AssetPrefixes      []string `koanf:"assetPrefixes"`
	HashedBundle       string   `koanf:"hashedBundle"`
	APIPrefixes        []string `koanf:"apiPrefixes"`
	NavigationPaths    []string `koanf:"navigationPaths"`
	NavigationSuffixes []string `koanf:"navigationSuffixes"`
}

// DefaultConfig returns the baseline configuration applied before file and
// environment overrides.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Upstream: UpstreamConfig{
				Origin:         "http://127.0.0.1:3000",
				TimeoutSeconds: 30,
			},
			Cache: CacheConfig{
				Backend:       "memory",
				Version:       "1",
				APITTLSeconds: 300,
			},
			Precache: PrecacheConfig{
				URLs:        []string{"/", "/manifest.webmanifest"},
				Concurrency: 4,
			},
			Patterns: PatternsConfig{
				AssetExtensions: []string{
					".js", ".mjs", ".css", ".map",
					".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico",
					".woff", ".woff2", ".ttf", ".otf",
				},
				AssetPrefixes:      []string{"/assets/", "/static/"},
				HashedBundle:       `-[0-9a-f]{8,}\.[a-z0-9]+$`,
				APIPrefixes:        []string{"/api/", "/auth/", "/ai/"},
				NavigationPaths:    []string{"/", "/index.html", "/manifest.webmanifest"},
				NavigationSuffixes: []string{".html", ".webmanifest"},
			},
		},
	}
}

// Validate rejects configurations the gateway cannot safely start with.
func (c Config) Validate() error {
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen port %d out of range", c.Server.Listen.Port)
	}
	origin := strings.TrimSpace(c.Server.Upstream.Origin)
	if origin == "" {
		return errors.New("config: upstream origin required")
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("config: upstream origin %q is not an absolute URL", origin)
	}
	if c.Server.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("config: upstream timeout %d must not be negative", c.Server.Upstream.TimeoutSeconds)
	}
	switch strings.ToLower(strings.TrimSpace(c.Server.Cache.Backend)) {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: redis backend requires an address")
		}
	default:
		return fmt.Errorf("config: unsupported cache backend %q", c.Server.Cache.Backend)
	}
	if strings.TrimSpace(c.Server.Cache.Version) == "" {
		return errors.New("config: cache version required")
	}
	if strings.ContainsAny(c.Server.Cache.Version, " \t") {
		return fmt.Errorf("config: cache version %q must not contain whitespace", c.Server.Cache.Version)
	}
	if c.Server.Cache.APITTLSeconds <= 0 {
		return fmt.Errorf("config: api ttl %d must be positive", c.Server.Cache.APITTLSeconds)
	}
	if c.Server.Precache.Concurrency < 0 {
		return fmt.Errorf("config: precache concurrency %d must not be negative", c.Server.Precache.Concurrency)
	}
	if pattern := c.Server.Patterns.HashedBundle; pattern != "" {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("config: hashed bundle pattern: %w", err)
		}
	}
	return nil
}

// UpstreamOrigin returns the parsed upstream origin. Validate must have
// accepted the config first.
func (c Config) UpstreamOrigin() (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(c.Server.Upstream.Origin))
	if err != nil {
		return nil, fmt.Errorf("config: parse upstream origin: %w", err)
	}
	return parsed, nil
}
