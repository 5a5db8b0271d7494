// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/frontlogic/taqbridge/internal/api"
	"github.com/frontlogic/taqbridge/internal/bridge"
	"github.com/frontlogic/taqbridge/internal/cache"
	"github.com/frontlogic/taqbridge/internal/config"
	"github.com/frontlogic/taqbridge/internal/daemon"
	"github.com/frontlogic/taqbridge/internal/hub"
	tblog "github.com/frontlogic/taqbridge/internal/log"
	"github.com/frontlogic/taqbridge/internal/store"
	"github.com/frontlogic/taqbridge/internal/worker"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the configured level is known.
	tblog.Configure(tblog.Config{
		Level:   "info",
		Service: "taqbridge",
		Version: version,
	})
	logger := tblog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Explicit --config wins; otherwise pick up ${TAQBRIDGE_DATA_DIR}/config.yaml
	// when it exists.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString("TAQBRIDGE_DATA_DIR", "data"))
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectiveConfigPath = autoPath
		}
	}

	cfg, err := config.Load(effectiveConfigPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("config_path", effectiveConfigPath).
			Msg("configuration load failed")
	}

	tblog.Configure(tblog.Config{
		Level:   cfg.LogLevel,
		Service: "taqbridge",
		Version: version,
	})

	if err := run(ctx, cfg); err != nil {
		logger.Fatal().Err(err).Msg("daemon failed")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := tblog.WithComponent("main")

	sup, err := bridge.New(bridge.Options{
		Interpreter:    cfg.Worker.Interpreter,
		Script:         cfg.Worker.Script,
		Dir:            cfg.Worker.WorkDir,
		ControlTimeout: cfg.Worker.ControlTimeout,
	})
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	var runs store.RunStore
	if cfg.Store.DataDir != "" {
		runs, err = store.OpenBadgerStore(filepath.Join(cfg.Store.DataDir, "runs"))
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
	}

	var checkCache cache.Cache
	if cfg.Cache.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		}, tblog.WithComponent("cache"))
		if err != nil {
			return fmt.Errorf("connect redis cache: %w", err)
		}
		checkCache = redisCache
	} else {
		checkCache = cache.NewMemoryCache(time.Minute)
	}

	h := hub.New(sup, runs, cfg.Hub.ReconnectGrace)
	wsHandler := hub.NewWSHandler(h, cfg.Hub.AllowedOrigins)

	server := api.NewServer(api.Options{
		Orchestrator:   sup,
		Sessions:       h,
		Runs:           runs,
		Cache:          checkCache,
		WSHandler:      wsHandler,
		UploadDir:      cfg.API.UploadDir,
		CacheTTL:       cfg.Cache.TTL,
		AllowedOrigins: cfg.Hub.AllowedOrigins,
		RateLimit:      cfg.API.RateLimit,
		RateWindow:     cfg.API.RateWindow,
	})

	mgr, err := daemon.NewManager(daemon.Options{
		Listen:         cfg.Listen,
		MetricsListen:  cfg.MetricsListen,
		APIHandler:     server.Routes(),
		MetricsHandler: promhttp.Handler(),
	})
	if err != nil {
		return fmt.Errorf("build manager: %w", err)
	}

	mgr.RegisterShutdownHook("hub", func(context.Context) error {
		h.Shutdown()
		return nil
	})
	mgr.RegisterShutdownHook("worker", func(ctx context.Context) error {
		return sup.Shutdown(ctx)
	})
	if runs != nil {
		mgr.RegisterShutdownHook("run-store", func(context.Context) error {
			return runs.Close()
		})
	}
	if closer, ok := checkCache.(interface{ Close() error }); ok {
		mgr.RegisterShutdownHook("cache", func(context.Context) error {
			return closer.Close()
		})
	}

	if cfg.Worker.WatchScript {
		watchCtx, cancelWatch := context.WithCancel(ctx)
		mgr.RegisterShutdownHook("script-watcher", func(context.Context) error {
			cancelWatch()
			return nil
		})
		go func() {
			err := worker.WatchScript(watchCtx, cfg.Worker.Script, func() {
				logger.Info().Str(tblog.FieldPath, cfg.Worker.Script).Msg("automation script changed, recycling worker")
				restartCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				sup.RestartWorker(restartCtx)
			})
			if err != nil && watchCtx.Err() == nil {
				logger.Warn().Err(err).Msg("script watcher stopped")
			}
		}()
	}

	return mgr.Start(ctx)
}
