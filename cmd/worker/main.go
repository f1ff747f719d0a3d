package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"content-orchestrator/internal/config"
	"content-orchestrator/internal/external"
	"content-orchestrator/internal/logger"
	"content-orchestrator/internal/notify"
	"content-orchestrator/internal/store"
	"content-orchestrator/internal/telemetry"
	"content-orchestrator/internal/worker"
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

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	archive, err := external.NewArchive(ctx, external.ArchiveConfig{
		S3Bucket:    cfg.ArchiveS3Bucket,
		S3Region:    cfg.ArchiveS3Region,
		S3Endpoint:  cfg.ArchiveS3Endpoint,
		S3PathStyle: cfg.ArchiveS3PathStyle,
		LocalDir:    cfg.ArchiveLocalDir,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init archive")
	}

	gen := external.NewGenerationClient(cfg.GenerationBaseURL, cfg.GenerationAPIKey, cfg.ExternalTimeout)
	traffic := external.NewTrafficClient(cfg.TrafficBaseURL, cfg.ExternalTimeout)
	cms := external.NewCMSClient(cfg.CMSBaseURL, cfg.CMSToken, cfg.ExternalTimeout)
	payments := external.NewPaymentsClient(cfg.PaymentsBaseURL, cfg.PaymentsAPIKey, cfg.ExternalTimeout)

	processor := worker.NewProcessor(cfg, st, notifier, workerID)
	handlers := worker.NewHandlers(cfg, st, notifier, gen, traffic, cms, payments, archive)
	handlers.Register(processor)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().
		Str("worker_id", workerID).
		Dur("staleness_timeout", cfg.StalenessTimeout).
		Dur("backoff_initial", cfg.BackoffInitial).
		Msg("worker started")
	if err := processor.Run(ctx); err != nil {
		log.Warn().Err(err).Msg("worker stopped")
	}
}
