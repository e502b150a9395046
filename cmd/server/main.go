package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/kiruthick0007/library-lending/internal/adapter/handler"
	"github.com/kiruthick0007/library-lending/internal/adapter/storage"
	"github.com/kiruthick0007/library-lending/internal/adapter/worker"
	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/core/service"
	"github.com/kiruthick0007/library-lending/internal/platform/auth"
	"github.com/kiruthick0007/library-lending/internal/platform/config"
	"github.com/kiruthick0007/library-lending/internal/platform/db"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	configPath := "config/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		configPath = p
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	database, err := db.Connect(ctx, cfg.MySQL.DSN)
	if err != nil {
		log.Error("failed to connect mysql", "error", err)
		os.Exit(1)
	}
	log.Info("connected to mysql")

	// Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis")

	// Adapters and services
	store := storage.NewMySQLStore(database)
	cache := storage.NewRedisCache(rdb)
	authorizer := auth.NewRoleAuthorizer(store.Users())
	fines := domain.NewFineCalculator(cfg.Lending.FineDailyRate, domain.DefaultFineGranularity)

	lendingService := service.NewLendingService(store, authorizer, fines, cfg.Lending.QueueSize)
	authService := service.NewAuthService(store, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL.Std())

	// Cache refresh workers
	var wg sync.WaitGroup
	for i := 0; i < cfg.Lending.WorkerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker.RefreshLoop(id, lendingService.CommittedBooks(), cache, log)
		}(i)
	}
	log.Info("started cache refresh workers", "count", cfg.Lending.WorkerCount)

	// HTTP server
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	handler.NewAuthHandler(authService, log).RegisterRoutes(api)
	handler.NewLendingHandler(lendingService, cache, log).RegisterRoutes(api, []byte(cfg.Auth.JWTSecret))

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
	}

	go func() {
		log.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	log.Info("http server stopped")

	lendingService.Close()
	wg.Wait()
	log.Info("workers stopped")

	rdb.Close()
	database.Close()
	log.Info("connections closed")
}
