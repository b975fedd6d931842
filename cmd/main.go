package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quayside/cachegate/internal/config"
	"github.com/quayside/cachegate/internal/gateway"
	"github.com/quayside/cachegate/internal/gateway/store"
	"github.com/quayside/cachegate/internal/logging"
	"github.com/quayside/cachegate/internal/metrics"
	"github.com/quayside/cachegate/internal/server"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to gateway configuration file")
		envPrefix  = flag.String("env-prefix", "CACHEGATE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	upstream, err := gateway.NewUpstream(
		cfg.Server.Upstream.Origin,
		time.Duration(cfg.Server.Upstream.TimeoutSeconds)*time.Second,
		logger,
	)
	if err != nil {
		logger.Error("unable to construct upstream client", slog.Any("error", err))
		os.Exit(1)
	}

	backend := buildCacheBackend(logger.With(slog.String("agent", "cache_factory")), cfg.Server.Cache)
	defer func() {
		if err := backend.Close(context.Background()); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	manager, err := store.NewManager(store.ManagerOptions{
		Backend:             backend,
		Version:             cfg.Server.Cache.Version,
		Fetch:               upstream.FetchURL,
		PrecacheConcurrency: cfg.Server.Precache.Concurrency,
		Logger:              logger,
		Metrics:             metricsRecorder,
	})
	if err != nil {
		logger.Error("unable to construct store manager", slog.Any("error", err))
		os.Exit(1)
	}

	manifest, err := cfg.ManifestURLs()
	if err != nil {
		logger.Error("unable to read precache manifest", slog.Any("error", err))
		os.Exit(1)
	}

	g, err := gateway.New(gateway.Options{
		Config:       cfg,
		Store:        manager,
		Fetcher:      upstream,
		UpstreamHost: upstream.Host(),
		Manifest:     manifest,
		Logger:       logger,
		Metrics:      metricsRecorder,
	})
	if err != nil {
		logger.Error("unable to construct gateway", slog.Any("error", err))
		os.Exit(1)
	}

	if err := g.Install(ctx); err != nil {
		logger.Error("install failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := g.Activate(ctx); err != nil {
		logger.Error("activation failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer g.WaitForRevalidations()

	if cfg.Server.Precache.ManifestFile != "" {
		watcher, err := loader.WatchManifest(ctx, cfg, func(urls []string) {
			result, err := g.Precache(ctx, urls)
			if err != nil {
				logger.Error("manifest re-precache failed", slog.Any("error", err))
				return
			}
			logger.Info("manifest re-precached",
				slog.Int("succeeded", len(result.Succeeded)),
				slog.Int("failed", len(result.Failed)))
		}, func(err error) {
			if err != nil {
				logger.Error("manifest watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("manifest watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsRecorder.Handler())
	mux.Handle("/", server.NewGatewayHandler(g))

	srv, err := server.New(cfg, logger, mux)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func buildCacheBackend(logger *slog.Logger, cfg config.CacheConfig) store.Store {
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		if logger != nil {
			logger.Info("using memory cache backend")
		}
		return store.NewMemory()
	case "redis":
		redisStore, err := store.NewRedis(store.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: store.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			if logger != nil {
				logger.Error("redis cache initialization failed", slog.Any("error", err))
				logger.Info("falling back to memory backend")
			}
			return store.NewMemory()
		}
		if logger != nil {
			logger.Info("using redis cache backend", slog.String("address", cfg.Redis.Address))
		}
		return redisStore
	default:
		if logger != nil {
			logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		}
		return store.NewMemory()
	}
}
