package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/example/rms-availability/internal/availability"
	"github.com/example/rms-availability/internal/cache"
	"github.com/example/rms-availability/internal/config"
	"github.com/example/rms-availability/internal/crypto"
	"github.com/example/rms-availability/internal/db"
	"github.com/example/rms-availability/internal/gateway"
	"github.com/example/rms-availability/internal/logger"
	"github.com/example/rms-availability/internal/metrics"
	"github.com/example/rms-availability/internal/migrate"
	"github.com/example/rms-availability/internal/rms"
	"github.com/example/rms-availability/internal/router"
	"github.com/example/rms-availability/internal/settings"
)

// app is the wired engine shared by the serve and query commands.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	db       *db.DB
	registry *prometheus.Registry
	settings settings.Source
	cache    *cache.Cache
	router   *router.Router
}

func newApp(ctx context.Context, migrateUp bool) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	if cfg.DatabaseURL != "" {
		store, err := a.openStore(ctx, migrateUp)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.settings = store
	} else {
		a.settings = settings.Static{
			Subdomain: cfg.RMS.Subdomain,
			APIToken:  cfg.RMS.APIToken,
			Locations: cfg.RMS.Locations,
		}
	}

	gw := gateway.New(settings.Credentials(a.settings), gateway.Options{
		MinGap:        cfg.Gateway.MinGap,
		MaxConcurrent: cfg.Gateway.MaxConcurrent,
		RetryDelay:    cfg.Gateway.RetryDelay,
		RetryBackoff:  cfg.Gateway.RetryBackoff,
		MaxRetries:    cfg.Gateway.MaxRetries,
		HTTPClient:    gateway.NewHTTPClient(cfg.Gateway.HTTPTimeout),
		Logger:        log,
		Metrics:       m,
	})
	client := rms.New(gw, cfg.RMS.BaseURL, cfg.RMS.MaxPages, log)
	a.cache = cache.New(client, cache.Options{
		TTL:            cfg.Cache.TTL,
		SoftBatchSize:  cfg.Cache.SoftBatchSize,
		SoftBatchPause: cfg.Cache.SoftBatchPause,
		Rules:          cfg.Rules,
		Logger:         log,
		Metrics:        m,
	})
	resolver := availability.NewResolver(client, a.cache, cfg.ExcludedCategories, log)
	a.router = router.New(a.settings, resolver, a.cache, router.Options{
		Timeout: cfg.RouterTimeout,
		Jobs:    client,
		Logger:  log,
		Metrics: m,
	})
	return a, nil
}

func (a *app) openStore(ctx context.Context, migrateUp bool) (*settings.Store, error) {
	d, err := db.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.db = d
	if migrateUp {
		if err := migrate.Up(ctx, d, a.log); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	aead, err := crypto.New(a.cfg.SettingsKey)
	if err != nil {
		return nil, err
	}
	return settings.NewStore(d, aead), nil
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	_ = a.log.Sync()
}
