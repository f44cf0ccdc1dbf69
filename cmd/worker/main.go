package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"docRender/internal/config"
	"docRender/internal/database"
	"docRender/internal/metrics"
	"docRender/internal/notify"
	"docRender/internal/pageproc"
	"docRender/internal/publish"
	"docRender/internal/raster"
	"docRender/internal/render"
	"docRender/internal/source"
	"docRender/internal/storage"
	"docRender/internal/tasks"
	"docRender/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO, logger)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	driveSource, err := source.NewDriveSource(context.Background(), cfg.Drive, logger)
	if err != nil {
		log.Fatalf("init drive source: %v", err)
	}

	// 未配置 clamd 时跳过扫描
	var scanner source.Scanner
	if s := source.NewClamdScanner(cfg.Clamd.Addr); s != nil {
		scanner = s
		logger.Info("document scanning enabled", slog.String("clamd_addr", cfg.Clamd.Addr))
	}

	coordinator := render.NewCoordinator(render.Deps{
		Store:   render.NewGormJobStore(db),
		Fetcher: source.NewFetcher(driveSource, scanner, cfg.Drive.MaxDocumentBytes, logger),
		Rasterizer: raster.NewRasterizer(raster.FitzEngine{}, raster.NewPDFCPUCounter(), raster.Options{
			TargetWidth: cfg.Render.TargetWidth,
			Density:     cfg.Render.Density,
			Workers:     cfg.Render.Workers,
		}, logger),
		Processor: pageproc.NewProcessor(cfg.Render.JPEGQuality, cfg.Render.Workers),
		Publisher: publish.NewPublisher(storageClient, cfg.Render.Workers, logger),
		Notifier:  notify.NewRedisNotifier(redisClient, logger),
		Recorder:  metrics.RenderRecorder{},
		Logger:    logger,
	}, render.Options{
		TargetWidth: cfg.Render.TargetWidth,
		Density:     cfg.Render.Density,
		StaleAfter:  cfg.Render.StaleAfter,
	})

	reaper, err := render.NewReaper(coordinator, cfg.Render.ReaperSpec, logger)
	if err != nil {
		log.Fatalf("init reaper: %v", err)
	}
	reaper.Start()
	defer reaper.Stop()

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.Any("error", err))
		}
	}()
	defer metricsServer.Close()

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues:      map[string]int{tasks.QueueRender: 1},
	})

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeDocumentRender, worker.NewRenderTaskHandler(coordinator, logger))

	logger.Info("worker service started",
		slog.String("redis_addr", redisAddr),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
