package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"content-orchestrator/internal/api"
	"content-orchestrator/internal/config"
	"content-orchestrator/internal/external"
	"content-orchestrator/internal/logger"
	"content-orchestrator/internal/notify"
	"content-orchestrator/internal/orchestrator"
	"content-orchestrator/internal/ratelimit"
	"content-orchestrator/internal/refund"
	"content-orchestrator/internal/store"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.Env == "dev")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	notifier := notify.NewRedis(rdb)
	limiter := ratelimit.New(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	payments := external.NewPaymentsClient(cfg.PaymentsBaseURL, cfg.PaymentsAPIKey, cfg.ExternalTimeout)

	orch := orchestrator.New(st, notifier)
	refunds := refund.NewService(st, payments, notifier)
	server := api.New(cfg, st, orch, refunds, limiter, api.NewStreamHub(notifier))

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Info().Str("port", cfg.HTTPPort).Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
