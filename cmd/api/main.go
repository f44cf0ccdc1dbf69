package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"docRender/internal/api"
	"docRender/internal/auth"
	"docRender/internal/config"
	"docRender/internal/database"
	"docRender/internal/metrics"
	"docRender/internal/notify"
	"docRender/internal/publish"
	"docRender/internal/render"
	"docRender/internal/storage"
	"docRender/internal/viewer"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	log.Printf("api bootstrapped with db host=%s port=%d db=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	log.Printf("database migrated")

	ctx := context.Background()
	if cfg.Auth.PublisherEmail != "" {
		publisher, err := auth.EnsurePublisher(ctx, db, cfg.Auth.PublisherEmail, cfg.Auth.PublisherPasswordHash)
		if err != nil {
			log.Fatalf("seed publisher: %v", err)
		}
		logger.Info("publisher account ready", slog.Uint64("publisher_id", uint64(publisher.ID)))
	}

	privateKey, err := os.ReadFile(cfg.Auth.PrivateKeyPath)
	if err != nil {
		log.Fatalf("read private key: %v", err)
	}
	publicKey, err := os.ReadFile(cfg.Auth.PublicKeyPath)
	if err != nil {
		log.Fatalf("read public key: %v", err)
	}
	authService, err := auth.NewAuthService(privateKey, publicKey, cfg.Auth.AccessTokenTTL)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	storageClient, err := storage.NewClient(cfg.MinIO, logger)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	store := render.NewGormJobStore(db)
	coordinator := render.NewCoordinator(render.Deps{
		Store:      store,
		Publisher:  publish.NewPublisher(storageClient, cfg.Render.Workers, logger),
		Dispatcher: render.NewAsynqDispatcher(asynqClient),
		Notifier:   notify.NewRedisNotifier(redisClient, logger),
		Recorder:   metrics.RenderRecorder{},
		Logger:     logger,
	}, render.Options{
		TargetWidth: cfg.Render.TargetWidth,
		Density:     cfg.Render.Density,
		StaleAfter:  cfg.Render.StaleAfter,
	})
	pageViewer := viewer.New(store, coordinator, storageClient, cfg.API.PublicBaseURL, cfg.Render.SignedURLTTL)
	wsHandler := notify.NewWsHandler(redisClient, authService, logger, cfg.API.AllowedOrigins)

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("get sql db: %v", err)
	}

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, api.Deps{
		DB:         db,
		Tokens:     authService,
		Validator:  authService,
		LoginGuard: redisClient,
		LoginLimits: api.LoginLimits{
			RatePerHour:   cfg.Auth.LoginRateLimitPerHour,
			LockThreshold: cfg.Auth.LoginLockThreshold,
			LockTTL:       cfg.Auth.LoginLockTTL,
		},
		Renderer: coordinator,
		Viewer:   pageViewer,
		Reaper:   coordinator,
		HealthChecks: map[string]api.HealthCheck{
			"database": sqlDB.PingContext,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
			"storage":  storageClient.Ping,
		},
		StatusStream:   wsHandler.HandleConnection,
		InternalSecret: cfg.API.InternalSecret,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start api server: %v", err)
		}
	}()

	stop, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-stop.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", slog.Any("error", err))
	}
	logger.Info("api stopped")
}
