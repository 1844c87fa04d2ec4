package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/cache"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/engine"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/matrix"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/normalize"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/recorder"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/scoring"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/screening"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/storage"
	"github.com/Aidin1998/amlscreen/internal/config"
	"github.com/Aidin1998/amlscreen/internal/messaging"
	"github.com/Aidin1998/amlscreen/internal/scheduler"
	"github.com/Aidin1998/amlscreen/internal/server"
	"github.com/Aidin1998/amlscreen/internal/telemetry"
	"github.com/Aidin1998/amlscreen/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("AMLSCREEN_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "amlscreen")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		zapLogger.Fatal("Failed to set up telemetry", zap.Error(err))
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := storage.Migrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}
	store := storage.New(zapLogger, db)

	initial := matrix.Default()
	if cfg.MatrixFile != "" {
		if initial, err = matrix.LoadFile(cfg.MatrixFile); err != nil {
			zapLogger.Fatal("Failed to load risk matrix", zap.Error(err))
		}
	}
	matrices, err := matrix.NewStore(initial, store, zapLogger)
	if err != nil {
		zapLogger.Fatal("Invalid risk matrix", zap.Error(err))
	}
	if err := matrices.Restore(ctx); err != nil {
		zapLogger.Fatal("Failed to restore risk matrix", zap.Error(err))
	}

	normalizer := normalize.New(cfg.Screening.Normalize)
	refs := screening.NewReferenceStore(normalizer)
	if cfg.SeedFile != "" {
		seed, err := screening.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			zapLogger.Fatal("Failed to load reference seed", zap.Error(err))
		}
		seed.Apply(refs, time.Now())
		zapLogger.Info("Reference data seeded", zap.String("file", cfg.SeedFile))
	}
	updater := screening.NewListUpdater(sugar.Named("updater"), refs, cfg.Updater)

	registry := screening.NewRegistry(buildScreeners(sugar, cfg, normalizer, refs)...)
	zapLogger.Info("Screeners enabled", zap.Any("sources", registry.Kinds()))

	var redisClient redis.UniversalClient
	if len(cfg.Redis.Addrs) > 0 {
		redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var assessments cache.AssessmentCache = cache.NewMemoryCache(cfg.Redis.CacheTTL)
	var publishers []messaging.Publisher
	if redisClient != nil {
		assessments = cache.NewRedisCache(redisClient, cfg.Redis.CacheTTL, sugar.Named("cache"))
		if cfg.Redis.StreamEvents {
			publishers = append(publishers, messaging.NewRedisStreamPublisher(redisClient, cfg.Redis.StreamMaxLen, zapLogger))
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publishers = append(publishers, messaging.NewKafkaPublisher(cfg.Kafka, zapLogger))
	}
	events := messaging.NewEventPublisher(zapLogger, publishers...)

	queue := recorder.NewRetryQueue(cfg.Queue, sugar.Named("retry"))
	queue.Start()
	rec := recorder.New(sugar.Named("recorder"), store, assessments, events, queue)

	svc := engine.NewService(zapLogger.Named("engine"), cfg.Engine, engine.Deps{
		Normalizer: normalizer,
		Registry:   registry,
		Aggregator: scoring.NewAggregator(cfg.Scoring),
		Matrices:   matrices,
		Recorder:   rec,
		Store:      store,
		Cache:      assessments,
	})

	if len(cfg.Updater.Feeds) > 0 {
		if err := updater.RefreshAll(ctx); err != nil {
			zapLogger.Warn("Initial reference refresh incomplete", zap.Error(err))
		}
	}
	jobs := scheduler.New(sugar.Named("scheduler"), cfg.Scheduler, updater, svc, store)
	jobs.Start(ctx)

	health := map[string]server.Pinger{"database": store}
	if redisClient != nil {
		health["redis"] = redisPinger{redisClient}
	}
	auth := server.NewAuthenticator(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience)
	srv := server.NewServer(zapLogger, server.Config{
		Addr:            cfg.Server.Addr(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		ServiceName:     cfg.Telemetry.ServiceName,
	}, svc, updater, auth, health)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		zapLogger.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			zapLogger.Error("API server stopped", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("API server shutdown failed", zap.Error(err))
	}
	jobs.Stop()
	queue.Stop(shutdownCtx)
	if err := events.Close(); err != nil {
		zapLogger.Error("Failed to close event publishers", zap.Error(err))
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	closeDB(zapLogger, db)
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		zapLogger.Error("Telemetry shutdown failed", zap.Error(err))
	}
	zapLogger.Info("Shutdown complete")
}

func buildScreeners(logger *zap.SugaredLogger, cfg *config.Config, n *normalize.Normalizer, refs *screening.ReferenceStore) []screening.Screener {
	sc := cfg.Screening
	matcher := screening.NewFuzzyMatcher(sc.Match)
	enabled := func(kind aml.SourceKind) bool {
		return !slices.Contains(sc.Disabled, string(kind))
	}

	var out []screening.Screener
	if enabled(aml.SourceSanctions) {
		out = append(out, screening.NewSanctionsScreener(logger.Named("sanctions"), refs, matcher, sc.Sanctions))
	}
	if enabled(aml.SourcePEP) {
		out = append(out, screening.NewPEPScreener(logger.Named("pep"), refs, matcher, sc.PEP))
	}
	if enabled(aml.SourceAdverseMedia) {
		providers := []screening.MediaProvider{screening.NewCorpusProvider(refs, sc.MediaMaxAge)}
		for _, p := range sc.MediaProviders {
			timeout := p.Timeout
			if timeout <= 0 {
				timeout = cfg.Engine.SourceTimeout
			}
			providers = append(providers, screening.NewHTTPMediaProvider(p.Name, p.URL, p.APIKey, timeout))
		}
		out = append(out, screening.NewAdverseMediaScreener(logger.Named("adverse_media"), matcher, n, sc.AdverseMedia, providers...))
	}
	if enabled(aml.SourceWalletRisk) {
		out = append(out, screening.NewWalletScreener(logger.Named("wallet"), refs, sc.Wallet))
	}
	return out
}

type redisPinger struct {
	client redis.UniversalClient
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func closeDB(logger *zap.Logger, db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Error("Failed to close database", zap.Error(err))
	}
}
