package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/aiextract"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/dedup"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/pipeline"
	importrepo "github.com/FACorreiaa/fiskal-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/fiskal-ledger/internal/domain/import/review"
	importservice "github.com/FACorreiaa/fiskal-ledger/internal/domain/import/service"
	"github.com/FACorreiaa/fiskal-ledger/pkg/config"
	"github.com/FACorreiaa/fiskal-ledger/pkg/db"
	"github.com/FACorreiaa/fiskal-ledger/pkg/metrics"
	"github.com/FACorreiaa/fiskal-ledger/pkg/storage"
)

// Dependencies holds everything the worker needs.
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	Registry    *prometheus.Registry
	Metrics     metrics.Recorder
	Redis       *redis.Client
	FileStorage storage.Storage

	ImportRepo   importrepo.ImportRepository
	AIClient     *aiextract.Client
	Orchestrator *pipeline.Orchestrator
	DedupEngine  *dedup.Engine
	Processor    *importservice.Processor
}

// InitDependencies initializes all worker dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initInfrastructure(ctx); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := deps.initServices(ctx); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

func (d *Dependencies) initMetrics() error {
	d.Metrics = metrics.Noop{}
	if !d.Config.Observability.MetricsEnabled {
		return nil
	}

	d.Registry = prometheus.NewRegistry()
	collector := metrics.NewPrometheusCollector("fiskal_import")
	if err := collector.Register(d.Registry); err != nil {
		return err
	}
	d.Metrics = collector
	return nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.ImportRepo = importrepo.NewPostgresImportRepository(d.DB.Pool)
	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

func (d *Dependencies) initInfrastructure(ctx context.Context) error {
	files, err := storage.New(ctx, &storage.Config{
		Type:      storage.StorageType(d.Config.Storage.Type),
		LocalPath: d.Config.Storage.LocalPath,
		GCSBucket: d.Config.Storage.GCSBucket,
	})
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	d.FileStorage = files

	if d.Config.RedisEnabled() {
		d.Redis = redis.NewClient(&redis.Options{
			Addr:     d.Config.Redis.Address,
			Password: d.Config.Redis.Password,
			DB:       d.Config.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := d.Redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		d.Logger.Info("redis connected, dedup account lock enabled", "address", d.Config.Redis.Address)
	} else {
		d.Logger.Warn("redis not configured, concurrent imports for one account rely on fuzzy dedup")
	}
	return nil
}

func (d *Dependencies) initServices(ctx context.Context) error {
	gc := d.Config.Gemini
	responses := cache.New(gc.CacheTTL, 2*gc.CacheTTL)

	ai, err := aiextract.NewGeminiClient(ctx, aiextract.Config{
		APIKey:        gc.APIKey,
		Model:         gc.Model,
		VisionModel:   gc.VisionModel,
		TextTimeout:   gc.TextTimeout,
		VisionTimeout: gc.VisionTimeout,
		RatePerSecond: gc.RatePerSecond,
		RateBurst:     gc.RateBurst,
		CacheTTL:      gc.CacheTTL,
	}, responses, d.Metrics, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to init gemini client: %w", err)
	}
	d.AIClient = ai

	d.Orchestrator = pipeline.NewOrchestrator(ai, gc.VisionTimeout, d.Metrics, d.Logger)

	d.DedupEngine = dedup.NewEngine(dedup.Config{
		DateWindowDays:      d.Config.Dedup.DateWindowDays,
		AmountTolerance:     d.Config.Dedup.AmountTolerance,
		SimilarityThreshold: d.Config.Dedup.SimilarityThreshold,
	}, d.Logger).WithMetrics(d.Metrics)

	d.Processor = importservice.NewProcessor(d.ImportRepo, d.FileStorage, d.Orchestrator, d.DedupEngine, d.Logger).
		WithMetrics(d.Metrics)
	if d.Redis != nil {
		d.Processor.WithLocker(dedup.NewRedisLocker(d.Redis, d.Config.Redis.LockTTL))
	}

	if d.Config.Review.Format != "" {
		exporter, err := review.NewExporter(review.NewBuilder(d.ImportRepo, d.Logger), d.FileStorage,
			d.Config.Review.Format, d.Config.Review.Prefix, d.Logger)
		if err != nil {
			return err
		}
		d.Processor.WithReviewExporter(exporter)
	}

	d.Logger.Info("services initialized",
		"model", gc.Model,
		"vision_model", gc.VisionModel,
		"review_export", d.Config.Review.Format,
	)
	return nil
}

// Close releases connections in reverse order of creation.
func (d *Dependencies) Close() {
	if c, ok := d.FileStorage.(io.Closer); ok {
		if err := c.Close(); err != nil {
			d.Logger.Warn("failed to close storage", "error", err)
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Warn("failed to close redis", "error", err)
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}
