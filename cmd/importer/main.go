package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/survarium-stats/importer/internal/config"
	"github.com/survarium-stats/importer/pkg/cache"
	"github.com/survarium-stats/importer/pkg/database"
	"github.com/survarium-stats/importer/pkg/database/pool"
	"github.com/survarium-stats/importer/pkg/jobs"
	"github.com/survarium-stats/importer/pkg/logger"
	"github.com/survarium-stats/importer/pkg/models"
	"github.com/survarium-stats/importer/pkg/notify"
	"github.com/survarium-stats/importer/pkg/services"
	"github.com/survarium-stats/importer/pkg/statsapi"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("IMPORTER_CONFIG"), "Path to a TOML config file")
		once       = flag.Bool("once", false, "Run a single import cycle and exit")
		unlock     = flag.Bool("unlock", false, "Remove the distributed run lock and exit")
		migrate    = flag.Bool("migrate", false, "Create the database schema and exit")
	)
	flag.Parse()

	logger.SetupLogger()
	log := logger.New("importer")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pool.New(ctx, cfg.DatabaseURL(), pool.ForConcurrency(cfg.Importer.Concurrency))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if *migrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		log.Info().Str("action", "migrated").Msg("Database schema is up to date")
		return
	}

	store, err := newCacheStore(ctx, cfg, db)
	if err != nil {
		log.Fatalf("Failed to set up cache: %v", err)
	}

	lockManager := jobs.NewCacheLockManager(store, cfg.Hostname)
	if *unlock {
		held, err := jobs.Unlock(ctx, lockManager, cfg.LockKey())
		if err != nil {
			log.Fatalf("Failed to remove lock %s: %v", cfg.LockKey(), err)
		}
		log.Info().
			Str("action", "unlocked").
			Str("lock_key", cfg.LockKey()).
			Bool("was_held", held).
			Msg("Run lock removed")
		return
	}

	if !cfg.Importer.Enabled {
		log.Info().Str("action", "disabled").Msg("Importer is disabled, exiting")
		return
	}

	apiConfig := statsapi.DefaultConfig(cfg.External.BaseURL, cfg.External.APIKey)
	apiConfig.Timeout = cfg.External.Timeout
	apiConfig.RequestsPerSecond = cfg.External.RequestsPerSecond
	client := statsapi.NewClient(apiConfig)

	notifier, closeNotifier := newNotifier(cfg)
	defer closeNotifier()

	cursor := services.NewProgressCursor(store, cfg.CursorKey(), cfg.Hostname, models.Cursor{
		Timestamp: cfg.Importer.StartTime.Unix(),
		MatchID:   models.MatchID(cfg.Importer.StartMatch),
	})

	importer := services.NewMatchImporter(database.NewStore(db), client, nil, notifier, services.ImporterConfig{
		Language:        cfg.Importer.Language,
		ParallelPlayers: cfg.Importer.ParallelPlayers,
		Host:            cfg.Hostname,
	})

	plannerConfig := jobs.PlannerConfig{
		BatchSize:   cfg.Importer.BatchSize,
		MatchTill:   cfg.Importer.MatchTill,
		Concurrency: cfg.Importer.Concurrency,
		ErrorRatio:  cfg.Importer.ErrorRatio,
		Host:        cfg.Hostname,
	}

	var strategy jobs.Strategy
	if cfg.Importer.ByID {
		strategy = jobs.NewByIDStrategy(importer, client, cursor, notifier, plannerConfig)
	} else {
		strategy = jobs.NewByTimestampStrategy(importer, client, cursor, notifier, plannerConfig)
	}

	importJob := jobs.NewProductionJob(
		jobs.NewMatchImportJob(strategy, cursor, notifier, cfg.Importer.Schedule, cfg.Hostname),
		lockManager,
		&jobs.ProductionJobConfig{
			LockKey:      cfg.LockKey(),
			LockTTL:      cfg.Importer.LockTTL,
			LockTimeout:  cfg.Importer.LockTimeout,
			SkipIfLocked: true,
		},
	)

	jobManager := jobs.NewJobManager(cfg.Importer.Jitter)
	if err := jobManager.RegisterJob(importJob); err != nil {
		log.Fatalf("Failed to register match import job: %v", err)
	}

	if *once {
		if err := jobManager.RunOnce(ctx); err != nil {
			log.Fatalf("Import cycle failed: %v", err)
		}
		return
	}

	jobManager.Start(ctx)
	log.Info().
		Str("action", "service_started").
		Str("strategy", strategy.Name()).
		Str("schedule", cfg.Importer.Schedule).
		Msg("Match importer started")

	<-ctx.Done()

	log.Info().Str("action", "service_stopping").Msg("Shutting down match importer...")
	jobManager.Stop()
	log.Info().Str("action", "service_stopped").Msg("Match importer stopped")
}

func newCacheStore(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (cache.Store, error) {
	var store cache.Store
	switch cfg.Cache.Backend {
	case "memory":
		store = cache.NewMemoryStore()
	default:
		pg := cache.NewPostgresStore(db, cfg.Cache.Table, cfg.Cache.HashTable)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		store = pg
	}
	return cache.WithPrefix(store, cfg.Cache.Prefix), nil
}

func newNotifier(cfg *config.Config) (notify.Notifier, func()) {
	status := notify.NewLogNotifier(logger.New("import-status"))

	var remote notify.Multi
	var amqpNotifier *notify.AMQPNotifier
	if cfg.Notify.WebhookURL != "" {
		remote = append(remote, notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout))
	}
	if cfg.Notify.AMQPURL != "" {
		amqpNotifier = notify.NewAMQPNotifier(cfg.Notify.AMQPExchange, notify.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.AMQPExchange))
		remote = append(remote, amqpNotifier)
	}
	if len(remote) == 0 {
		return status, func() {}
	}

	// Remote deliveries run off the import path
	async := notify.NewAsyncNotifier(remote, 64, cfg.Notify.Timeout)
	closeFn := func() {
		_ = async.Close()
		if amqpNotifier != nil {
			_ = amqpNotifier.Close()
		}
	}
	return notify.Multi{status, async}, closeFn
}
