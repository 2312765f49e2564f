package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/yeremiapane/table-join/config"
	"github.com/yeremiapane/table-join/database"
	"github.com/yeremiapane/table-join/hub"
	"github.com/yeremiapane/table-join/middlewares"
	"github.com/yeremiapane/table-join/router"
	"github.com/yeremiapane/table-join/services"
	"github.com/yeremiapane/table-join/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to load config: %v", err)
	}
	utils.InitLogger(cfg.LogLevel, cfg.LogFormat)
	utils.SetJWTSecret(cfg.JWTSecret)

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := config.InitDB(cfg)
	if err != nil {
		utils.ErrorLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		utils.ErrorLogger.Fatalf("Failed to AutoMigrate: %v", err)
	}

	wsHub := hub.NewHub()
	notifier := services.MultiNotifier{
		wsHub,
		services.NewNotificationStore(db),
		services.LogNotifier{Logger: utils.InfoLogger},
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			utils.ErrorLogger.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			utils.ErrorLogger.Warnf("Redis not reachable, join events will not be published: %v", err)
		}
		notifier = append(notifier, services.NewRedisNotifier(rdb))
	}

	clock := clockwork.NewRealClock()
	coordinator := services.NewJoinCoordinator(db, services.NewDBTableRegistry(db), notifier, clock, cfg.Join)

	sweeper := services.NewJoinSweeper(coordinator, cfg.Join.SweepInterval, clock)
	if err := sweeper.Start(); err != nil {
		utils.ErrorLogger.Fatalf("Failed to start join sweeper: %v", err)
	}

	r := router.SetupRouter(router.Dependencies{
		DB:          db,
		Coordinator: coordinator,
		Hub:         wsHub,
		RateLimiter: middlewares.NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitPerSec*2),
		CORSOrigins: cfg.AllowedOrigins(),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}
	go func() {
		utils.InfoLogger.Printf("Listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.ErrorLogger.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	utils.InfoLogger.Println("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		utils.ErrorLogger.Errorf("HTTP shutdown: %v", err)
	}
	if err := sweeper.Stop(); err != nil {
		utils.ErrorLogger.Errorf("Join sweeper shutdown: %v", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
