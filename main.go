package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"social-publisher/domain/repository"
	"social-publisher/infrastructure/cache"
	"social-publisher/infrastructure/clients/facebook"
	"social-publisher/infrastructure/clients/instagram"
	"social-publisher/infrastructure/clients/threads"
	"social-publisher/infrastructure/clients/tiktok"
	"social-publisher/infrastructure/clients/youtube"
	"social-publisher/infrastructure/clock"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/persistence"
	"social-publisher/infrastructure/ratelimit"
	"social-publisher/infrastructure/socialcore"
	"social-publisher/infrastructure/storage"
	httpHandler "social-publisher/interfaces/http"
	"social-publisher/server"
	"social-publisher/usecase"

	"golang.org/x/sync/errgroup"
)

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
	}
}

func main() {
	defer recoverPanic()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	// Env files are non-destructive; OS env keeps precedence.
	configuration.LoadEnvFromFile("config.env", ".env")
	cfg, err := configuration.Load()
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Configuration load failed")
		os.Exit(1)
	}

	db, err := persistence.NewPostgreSQLDB(cfg.Database.Psql)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Cannot connect to PostgreSQL")
		os.Exit(1)
	}
	defer db.Close()
	if err := persistence.EnsureAccountSchema(db); err != nil {
		logger.GetLogger().WithField("error", err).Error("failed ensuring accounts schema")
		os.Exit(1)
	}
	accounts := persistence.NewAccountRepository(db)

	// Rate windows and cached responses live in redis so replicas share one
	// bucket; without redis a process-local store keeps a single node working.
	var kv repository.IKVStore
	redisStore, err := cache.NewRedisStore(ctx,
		fmt.Sprintf("%s:%s", cfg.RedisClient.Host, cfg.RedisClient.Port),
		cfg.RedisClient.Username, cfg.RedisClient.Password)
	if err != nil {
		logger.GetLogger().WithField("error", err).Warn("Redis not available - using in-memory store")
		kv = cache.NewMemoryStore()
	} else {
		kv = redisStore
	}

	limiter := ratelimit.NewLimiter(kv, cfg.RateLimit)
	var respCache repository.IResponseCache
	if cfg.Cache.Enabled {
		respCache = cache.NewResponseCache(kv)
	}

	media := storage.NewLocal(mediaDir())
	clk := clock.New()
	core := socialcore.New(accounts, limiter, respCache, clk, cfg.Cache.Prefix)

	ttl := cfg.Cache.TTL()
	publisher := usecase.NewPublisher(accounts, media,
		youtube.NewClient(core, media, cfg.OAuth.YouTube, ttl),
		facebook.NewClient(core, media, cfg.OAuth.Facebook, ttl),
		instagram.NewClient(core, cfg.OAuth.Instagram, ttl, cfg.Media.PublicBaseURL),
		tiktok.NewClient(core, media, cfg.OAuth.TikTok, ttl),
		threads.NewClient(core, cfg.OAuth.Threads, ttl, cfg.Media.PublicBaseURL),
	)

	router := server.InitiateRouter(cfg,
		httpHandler.NewConnectHandler(publisher),
		httpHandler.NewPublishHandler(publisher),
	)

	g, ctx := errgroup.WithContext(ctx)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.Port),
		Handler: router,
	}
	logger.GetLogger().WithField("port", cfg.App.Port).Info("Starting application")
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	select {
	case <-interrupt:
		logger.GetLogger().Info("Application shutdown requested")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	if err := g.Wait(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Server returned an error")
		os.Exit(2)
	}
}

func mediaDir() string {
	if dir := os.Getenv("MEDIA_DIR"); dir != "" {
		return dir
	}
	return "media"
}
