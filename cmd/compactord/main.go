// Package main provides compactord, the compaction core's driver
// binary: it wires a catalog, an object store and the handler's tick
// loop together and runs until signalled.
//
// Usage:
//
//	compactord --config=<path> [--catalog=mem|bolt] [--objectstore=fs|s3]
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aalhour/tsdbcompactor/config"
	"github.com/aalhour/tsdbcompactor/internal/cache"
	"github.com/aalhour/tsdbcompactor/internal/catalog"
	"github.com/aalhour/tsdbcompactor/internal/catalog/catalogbolt"
	"github.com/aalhour/tsdbcompactor/internal/catalog/catalogmem"
	"github.com/aalhour/tsdbcompactor/internal/combiner"
	"github.com/aalhour/tsdbcompactor/internal/handler"
	"github.com/aalhour/tsdbcompactor/internal/logging"
	"github.com/aalhour/tsdbcompactor/internal/metrics"
	"github.com/aalhour/tsdbcompactor/internal/objectstore"
	"github.com/aalhour/tsdbcompactor/internal/objectstore/fsstore"
	"github.com/aalhour/tsdbcompactor/internal/objectstore/s3store"
	"github.com/aalhour/tsdbcompactor/internal/selector"
)

var (
	configPath      = flag.String("config", "", "path to a YAML config file (defaults used if omitted)")
	catalogBackend  = flag.String("catalog", "mem", "catalog backend: mem or bolt")
	objectBackend   = flag.String("objectstore", "fs", "object store backend: fs or s3")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "compactord:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	log := logging.NewLogger(os.Stderr, logging.LevelInfo)
	m := metrics.New()

	repo, closeCatalog, err := openCatalog(cfg)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer closeCatalog()

	store, err := openObjectStore(cfg, log, m)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}

	shards := make([]catalog.ShardID, len(cfg.Shards))
	for i, s := range cfg.Shards {
		shards[i] = catalog.ShardID(s)
	}

	schemaPool := cache.NewResourcePool(uint64(cfg.SchemaCacheBytes))
	schemaCache := cache.New[catalog.TableID, map[string]catalog.ColumnType](
		"table-schema", schemaPool,
		func(ctx context.Context, id catalog.TableID, _ any) (map[string]catalog.ColumnType, error) {
			return repo.Columns().ListByTableID(ctx, id)
		},
		func(_ catalog.TableID, v map[string]catalog.ColumnType) uint64 { return uint64(len(v)) * 64 },
		log, m,
	)

	h := &handler.Handler{
		Catalog: repo,
		Schema:  schemaCache,
		Combiner: combiner.Deps{
			Catalog: repo,
			Objects: store,
			Config: combiner.Config{
				MaxDesiredFileSizeBytes:     cfg.MaxDesiredFileSizeBytes,
				PercentageMaxFileSize:       cfg.PercentageMaxFileSize,
				SplitPercentage:             cfg.SplitPercentage,
				ColdMaxDesiredFileSizeBytes: cfg.ColdMaxDesiredFileSizeBytes,
			},
			Metrics: m,
			Log:     log,
		},
		Config: handler.Config{
			Shards:                      shards,
			TickInterval:                cfg.TickInterval,
			HotRecentWindow:             cfg.HotRecentWindow,
			HotMinRecentFiles:           cfg.MinNumberRecentIngestedFilesPerPartition,
			HotPartitionsPerShard:       cfg.MaxNumberPartitionsPerShard,
			ColdThreshold:               cfg.ColdThreshold,
			HotMultiple:                 cfg.HotMultiple,
			MemoryBudgetBytes:           cfg.MemoryBudgetBytes,
			ColdInputSizeThresholdBytes: cfg.ColdInputSizeThresholdBytes,
			ColdInputFileCountThreshold: cfg.ColdInputFileCountThreshold,
		},
		InFlight: selector.NewInFlight(),
		Budget:   handler.NewBudget(cfg.MaxConcurrentSizeBytes),
		Metrics:  m,
		Log:      log,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsListenAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsListenAddr, Handler: m.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Infof("compactord: starting, shards=%v tick=%s", cfg.Shards, cfg.TickInterval)
	err = h.Run(ctx)
	if err != nil && ctx.Err() != nil {
		return nil // clean shutdown on signal
	}
	return err
}

func openCatalog(cfg config.Config) (catalog.Repository, func(), error) {
	switch *catalogBackend {
	case "mem":
		return catalogmem.New(), func() {}, nil
	case "bolt":
		path := cfg.CatalogBoltPath
		if path == "" {
			path = "compactor-catalog.db"
		}
		store, err := catalogbolt.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown catalog backend %q", *catalogBackend)
	}
}

func openObjectStore(cfg config.Config, log logging.Logger, m *metrics.Metrics) (objectstore.Store, error) {
	switch *objectBackend {
	case "fs":
		root := cfg.ObjectStoreFSRoot
		if root == "" {
			root = "compactor-data"
		}
		return fsstore.New(root)
	case "s3":
		blobPool := cache.NewResourcePool(uint64(cfg.BlobCacheBytes))
		return s3store.New(context.Background(), s3store.Config{
			Bucket: cfg.ObjectStoreS3Bucket,
			Region: cfg.ObjectStoreS3Region,
		}, log, blobPool, m)
	default:
		return nil, fmt.Errorf("unknown object store backend %q", *objectBackend)
	}
}
