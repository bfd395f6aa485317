package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/curtaincall-app/curtaincall-backend/api/controllers"
	"github.com/curtaincall-app/curtaincall-backend/api/routes"
	"github.com/curtaincall-app/curtaincall-backend/internal/assets"
	"github.com/curtaincall-app/curtaincall-backend/pkg/config"
	"github.com/curtaincall-app/curtaincall-backend/pkg/db"
	"github.com/curtaincall-app/curtaincall-backend/pkg/logger"
	"github.com/curtaincall-app/curtaincall-backend/pkg/metrics"
	"github.com/curtaincall-app/curtaincall-backend/pkg/redis"
	"github.com/curtaincall-app/curtaincall-backend/pkg/storage/gcs"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if cfg.FeatureFlags.AutoMigrate {
		// Schema changes apply atomically or not at all.
		err := dbClient.WithTx(context.Background(), func(tx *gorm.DB) error {
			return assets.AutoMigrate(tx)
		})
		if err != nil {
			logg.Error(context.Background(), "failed to run auto-migration", err)
			os.Exit(1)
		}
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pipelineMetrics := metrics.NewAssetPipelineMetrics(registry)

	// The remote store is optional: without it every generated asset lands
	// under the local fallback root.
	var blobs *assets.BlobStore
	pingers := map[string]controllers.Pinger{
		"db":    dbClient,
		"redis": redisClient,
	}
	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Warn(context.Background(), "object storage unavailable, using local asset root only")
		pingers["gcs"] = nil
		blobs = assets.NewBlobStore(nil, cfg.Assets.LocalRoot, logg, pipelineMetrics)
	} else {
		pingers["gcs"] = gcsClient
		blobs = assets.NewBlobStore(gcsClient, cfg.Assets.LocalRoot, logg, pipelineMetrics)
	}

	compositor := assets.NewCompositor(
		cfg.Assets.QRSizePixels,
		&assets.HTTPLogoFetcher{Client: &http.Client{Timeout: cfg.Assets.LogoFetchTimeout}},
		logg,
		pipelineMetrics,
	)

	repo := assets.NewRepository(dbClient.DB())
	assetsService := assets.NewService(repo, compositor, blobs, redisClient, cfg.Assets, logg, pipelineMetrics)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, assetsService, pingers, registry),
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		logg.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "server shutdown failed", err)
		}
	}
}
