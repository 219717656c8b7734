package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mediameter-lab/mediameter/internal/aggregation"
	corecfg "github.com/mediameter-lab/mediameter/internal/core/config"
	"github.com/mediameter-lab/mediameter/internal/enrich"
	"github.com/mediameter-lab/mediameter/internal/ingestion"
	"github.com/mediameter-lab/mediameter/internal/kv"
	"github.com/mediameter-lab/mediameter/internal/kv/memstore"
	"github.com/mediameter-lab/mediameter/internal/kv/pebblestore"
	"github.com/mediameter-lab/mediameter/internal/kv/postgresstore"
	"github.com/mediameter-lab/mediameter/internal/migrations"
	"github.com/mediameter-lab/mediameter/internal/ratecard"
	"github.com/mediameter-lab/mediameter/internal/server"
	"github.com/mediameter-lab/mediameter/internal/settle"
	"github.com/mediameter-lab/mediameter/internal/worker"
)

func main() {
	configPath := flag.String("config", "mediameter.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Initialize the sorted key-value store
	store, err := openStore(cfg.Store)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err, "backend", cfg.Store.Backend)
		os.Exit(1)
	}
	defer store.Close()

	// 3. Load Rate Cards
	cards, err := ratecard.NewRepository(cfg.RateCards.Dir)
	if err != nil {
		slog.Error("Failed to load rate cards", "error", err, "dir", cfg.RateCards.Dir)
		os.Exit(1)
	}
	slog.Info("Rate cards loaded", "count", cards.Len(), "dir", cfg.RateCards.Dir)

	// 4. Initialize enrichment catalog with its in-process cache
	catalog := enrich.NewCachedCatalog(
		enrich.NewHTTPCatalog(cfg.Enrichment.CatalogURL, time.Duration(cfg.Enrichment.TimeoutSeconds)*time.Second),
		cfg.Enrichment.CacheCapacity,
	)

	// 5. Initialize settlement clients
	settlement := settle.NewHTTPClient(
		cfg.Settlement.BillingURL,
		cfg.Settlement.EarningsURL,
		time.Duration(cfg.Settlement.TimeoutSeconds)*time.Second,
	)

	// 6. Initialize the aggregation engine
	engine := aggregation.NewEngine(aggregation.Options{
		Store:             store,
		Catalog:           catalog,
		Billing:           settlement,
		Earnings:          settlement,
		Cards:             cards,
		PageSize:          cfg.Aggregation.PageSize,
		LookupConcurrency: cfg.Aggregation.LookupConcurrency,
	})

	// 7. Initialize Services
	ingestionSvc := ingestion.NewService(store, cfg.Server.MaxBodySizeMB)
	workerSvc := worker.NewService(engine, cfg.Aggregation.DiscoverLimit)

	// 8. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), store, cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	workerSvc.RegisterRoutes(srv.Engine)

	// 9. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Built-in poller drives the stages when no external scheduler does.
	if cfg.Aggregation.Poll {
		poller := aggregation.NewPoller(cfg.Aggregation.EffectivePollInterval(), engine, cfg.Aggregation.DiscoverLimit)
		go func() {
			if err := poller.Start(ctx); err != nil {
				slog.Error("Poller stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("In-process poller disabled by config; stages run via the worker API only")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// openStore builds the configured kv.Store backend.
func openStore(cfg corecfg.StoreConfig) (kv.Store, error) {
	switch cfg.Backend {
	case "memory":
		slog.Warn("Using in-memory store; all data is lost on restart")
		return memstore.New(), nil

	case "pebble":
		return pebblestore.Open(cfg.Path)

	case "postgres":
		store, err := postgresstore.Open(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns)
		if err != nil {
			return nil, err
		}
		if err := migrations.RunMigrations(store.DB(), cfg.AutoMigrate); err != nil {
			store.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if err := store.ValidateSchema(); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
