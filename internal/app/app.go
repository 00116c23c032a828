package app

import (
	"context"
	"fmt"
	"log"

	"secnews/internal/aggregate"
	"secnews/internal/config"
	"secnews/internal/docstore"
	"secnews/internal/feed"
	"secnews/internal/httpclient"
	"secnews/internal/newsstore"
	"secnews/internal/query"
	"secnews/internal/refresh"
	"secnews/internal/sources"
	"secnews/internal/tools"
)

// App holds the wired pipeline for one process.
type App struct {
	Config      config.Config
	Registry    *sources.Registry
	Store       *newsstore.Store
	Coordinator *refresh.Coordinator
	Service     *tools.Service
	Logger      *log.Logger

	backend docstore.Backend
}

// Open builds every component from cfg and initializes the store.
func Open(ctx context.Context, cfg config.Config, logger *log.Logger) (*App, error) {
	reg, err := sources.New(cfg.Sources)
	if err != nil {
		return nil, err
	}

	var backend docstore.Backend
	switch cfg.StoreBackend {
	case config.BackendMemory:
		backend = docstore.NewMemory()
	case config.BackendSQLite, "":
		backend, err = docstore.OpenSQLite(ctx, cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	case config.BackendPostgres:
		backend, err = docstore.OpenPostgres(ctx, cfg.StoreDSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	store := newsstore.New(backend)
	if err := store.Init(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}

	client := httpclient.New(cfg.FetchTimeout, cfg.UserAgent)
	fetcher := feed.NewFetcher(client, nil)
	agg := aggregate.New(fetcher, logger)
	coord := refresh.New(reg.Enabled(), agg, store, refresh.Options{
		TTL:     cfg.CacheTTL,
		Timeout: cfg.RefreshTimeout,
		Logger:  logger,
	})
	svc := tools.NewService(reg, coord, query.New(store), store, logger)

	logger.Printf("pipeline ready: sources=%d backend=%s ttl=%s fetch_timeout=%s",
		reg.Len(), cfg.StoreBackend, coord.TTL(), client.GetTimeout())
	return &App{
		Config:      cfg,
		Registry:    reg,
		Store:       store,
		Coordinator: coord,
		Service:     svc,
		Logger:      logger,
		backend:     backend,
	}, nil
}

func (a *App) Close() error {
	return a.backend.Close()
}
