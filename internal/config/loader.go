package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	ktoml "github.com/knadh/koanf/parsers/toml"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot so the lifecycle agent can make decisions using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.upstream.timeoutseconds":     "server.upstream.timeoutSeconds",
			"server.upstream.trustedorigins":     "server.upstream.trustedOrigins",
			"server.cache.apittlseconds":         "server.cache.apiTtlSeconds",
			"server.cache.redis.tls.cafile":      "server.cache.redis.tls.caFile",
			"server.precache.manifestfile":       "server.precache.manifestFile",
			"server.patterns.assetextensions":    "server.patterns.assetExtensions",
			"server.patterns.assetprefixes":      "server.patterns.assetPrefixes",
			"server.patterns.hashedbundle":       "server.patterns.hashedBundle",
			"server.patterns.apiprefixes":        "server.patterns.apiPrefixes",
			"server.patterns.navigationpaths":    "server.patterns.navigationPaths",
			"server.patterns.navigationsuffixes": "server.patterns.navigationSuffixes",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parserFor picks the koanf parser matching the config file extension.
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return kyaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml":
		return ktoml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file format %s", path)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"upstream": map[string]any{
				"origin":         cfg.Server.Upstream.Origin,
				"timeoutSeconds": cfg.Server.Upstream.TimeoutSeconds,
				"trustedOrigins": cfg.Server.Upstream.TrustedOrigins,
			},
			"cache": map[string]any{
				"backend":       cfg.Server.Cache.Backend,
				"version":       cfg.Server.Cache.Version,
				"apiTtlSeconds": cfg.Server.Cache.APITTLSeconds,
				"redis": map[string]any{
					"address":  cfg.Server.Cache.Redis.Address,
					"username": cfg.Server.Cache.Redis.Username,
					"password": cfg.Server.Cache.Redis.Password,
					"db":       cfg.Server.Cache.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Redis.TLS.CAFile,
					},
				},
			},
			"precache": map[string]any{
				"urls":         cfg.Server.Precache.URLs,
				"manifestFile": cfg.Server.Precache.ManifestFile,
				"strict":       cfg.Server.Precache.Strict,
				"concurrency":  cfg.Server.Precache.Concurrency,
			},
			"patterns": map[string]any{
				"assetExtensions":    cfg.Server.Patterns.AssetExtensions,
				"assetPrefixes":      cfg.Server.Patterns.AssetPrefixes,
				"hashedBundle":       cfg.Server.Patterns.HashedBundle,
				"apiPrefixes":        cfg.Server.Patterns.APIPrefixes,
				"navigationPaths":    cfg.Server.Patterns.NavigationPaths,
				"navigationSuffixes": cfg.Server.Patterns.NavigationSuffixes,
			},
		},
	}
}
