// Package scheduler holds the autopilot trigger: a fixed-cadence loop that
// enqueues publish jobs for eligible projects.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"content-orchestrator/internal/config"
	"content-orchestrator/internal/models"
	"content-orchestrator/internal/store"
	"content-orchestrator/internal/telemetry"
)

// Autopilot enqueues publish jobs for eligible projects, FIFO over each
// project's generated briefs, up to the per-run ceiling and the project's
// daily limit. Everything it needs is recomputed from the store, so a restart
// cannot duplicate work.
type Autopilot struct {
	cfg   config.Config
	store store.Store
	clock func() time.Time
}

// New builds the autopilot trigger.
func New(cfg config.Config, st store.Store) *Autopilot {
	return &Autopilot{cfg: cfg, store: st, clock: time.Now}
}

// SetClock swaps the time source for tests.
func (a *Autopilot) SetClock(clock func() time.Time) { a.clock = clock }

// Run ticks until context cancellation.
func (a *Autopilot) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.SchedulerInterval)
	defer ticker.Stop()

	for {
		if err := a.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("autopilot run failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce evaluates every autopilot project exactly once.
func (a *Autopilot) RunOnce(ctx context.Context) error {
	projects, err := a.store.ListAutopilotProjects(ctx)
	if err != nil {
		return fmt.Errorf("list projects: %w", err)
	}

	now := a.clock().UTC()
	for _, p := range projects {
		if err := a.evaluate(ctx, p, now); err != nil {
			log.Error().Err(err).Str("project_id", p.ID).Msg("autopilot project failed")
		}
	}
	return nil
}

func (a *Autopilot) evaluate(ctx context.Context, p models.Project, now time.Time) error {
	if p.Paused {
		log.Debug().Str("project_id", p.ID).Msg("autopilot paused, skipping")
		return nil
	}
	if !windowPassed(p.AutopilotTime, now) {
		return nil
	}

	count, err := a.store.CountPublishJobsToday(ctx, p.ID, now)
	if err != nil {
		return err
	}

	ceiling := a.cfg.PublishRunCeiling
	if ceiling <= 0 {
		ceiling = 1
	}

	for i := 0; i < ceiling; i++ {
		if p.DailyPublishLimit > 0 && count >= p.DailyPublishLimit {
			return nil
		}

		brief, ok, err := a.store.OldestPublishableBrief(ctx, p.ID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		payload, err := models.EncodePayload(models.PublishPayload{
			BriefID:        brief.ID,
			ContentKey:     brief.ContentKey,
			FallbackStatus: models.BriefGenerated,
		})
		if err != nil {
			return err
		}

		job, existed, err := a.store.EnqueueJob(ctx, store.EnqueueParams{
			Type:        models.JobPublish,
			ProjectID:   p.ID,
			TargetID:    brief.ID,
			Payload:     payload,
			MaxAttempts: a.cfg.MaxAttempts,
		})
		if err != nil {
			return err
		}
		if existed {
			telemetry.DedupeHits.Inc()
			log.Debug().Str("project_id", p.ID).Str("brief_id", brief.ID).Msg("publish already queued")
			return nil
		}

		count++
		_ = a.store.AppendAudit(ctx, job.ID, "autopilot_enqueued",
			fmt.Sprintf("project=%s brief=%s", p.ID, brief.ID))
		telemetry.AutopilotPublishes.Inc()
		log.Info().Str("project_id", p.ID).Str("brief_id", brief.ID).Str("job_id", job.ID).Msg("autopilot enqueued publish")
	}
	return nil
}

// windowPassed reports whether the project's time of day has already passed
// today in UTC. Malformed times default to midnight, making the project
// always eligible.
func windowPassed(timeOfDay string, now time.Time) bool {
	hour, minute := parseTimeOfDay(timeOfDay)
	window := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	return !now.Before(window)
}

func parseTimeOfDay(v string) (hour, minute int) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return h, 0
	}
	return h, m
}
