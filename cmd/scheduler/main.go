package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"content-orchestrator/internal/config"
	"content-orchestrator/internal/logger"
	"content-orchestrator/internal/scheduler"
	"content-orchestrator/internal/store"
	"content-orchestrator/internal/telemetry"
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

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	auto := scheduler.New(cfg, st)
	log.Info().Dur("interval", cfg.SchedulerInterval).Msg("scheduler started")
	if err := auto.Run(ctx); err != nil {
		log.Warn().Err(err).Msg("scheduler stopped")
	}
}
