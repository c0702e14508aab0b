package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"citation-finder/config"
	"citation-finder/graph"
	"citation-finder/metrics"
	"citation-finder/providers"
	"citation-finder/providers/europepmc"
	"citation-finder/providers/pubmed"
	"citation-finder/services"
	"citation-finder/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func newProvider(cfg *config.Config, limiter *rate.Limiter, logging *zap.Logger) providers.Provider {
	switch cfg.Provider {
	case "europepmc":
		return europepmc.NewFetcher(cfg, limiter, logging)
	default:
		return pubmed.NewFetcher(cfg, limiter, logging)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	logging, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Setup Database
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to papers database.")

	store := storage.NewStore(db, logging)
	logging.Info("Running database auto-migration...")
	if err := store.Migrate(); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	// Zitationsgraph aus der Datenbank aufbauen
	citationGraph := graph.New()
	if err := services.RestoreGraph(ctx, store, citationGraph, logging); err != nil {
		logging.Fatal("Graph restore failed", zap.Error(err))
	}
	if err := metrics.RegisterGraphGauges(prometheus.DefaultRegisterer, citationGraph.NodeCount, citationGraph.EdgeCount); err != nil {
		logging.Fatal("Metric registration failed", zap.Error(err))
	}

	// Ein Limiter für alle externen Aufrufe des Prozesses
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	provider := newProvider(cfg, limiter, logging)
	logging.Info("Active provider loaded", zap.String("provider", provider.Name()), zap.Float64("requests_per_second", cfg.RequestsPerSecond))

	var ner services.EntityRecognizer
	if cfg.NEREndpoint != "" {
		ner = services.NewNERClient(cfg.NEREndpoint, cfg.NERAPIKey, cfg.FetchTimeout)
		logging.Info("NER service enabled", zap.String("endpoint", cfg.NEREndpoint))
	}

	pipeline := &services.Pipeline{
		Config:     cfg,
		Provider:   provider,
		Parser:     pubmed.NewParser(logging),
		Store:      store,
		Graph:      citationGraph,
		Extractor:  services.NewEntityExtractor(ner, logging),
		Normalizer: services.NewTextNormalizer(logging),
		Logger:     logging,
	}
	if cfg.ArchiveEnabled() {
		s3Client, err := storage.NewS3Client(ctx, cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		pipeline.Archive = storage.NewS3Archive(s3Client, cfg.ArchiveS3Bucket, logging)
		logging.Info("Raw XML archive enabled", zap.String("bucket", cfg.ArchiveS3Bucket))
	}

	// Setup Cron
	scheduler, err := services.NewScheduler(cfg.CronSchedule, cfg.Queries(), cfg.ScheduledLimit, pipeline, logging)
	if err != nil {
		logging.Fatal("Invalid cron schedule", zap.String("schedule", cfg.CronSchedule), zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(cfg, store, pipeline, citationGraph, logging)

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Ingestion läuft synchron im Request
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown failed", zap.Error(err))
	}
}
