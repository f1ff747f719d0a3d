package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"content-orchestrator/internal/config"
	"content-orchestrator/internal/models"
	"content-orchestrator/internal/notify"
	"content-orchestrator/internal/store"
	"content-orchestrator/internal/telemetry"
)

// Handler executes one job and reports the resulting entity state. Missing
// means the target entity vanished mid-flight; the job still completes.
type Handler func(ctx context.Context, job models.Job) (Result, error)

// Result describes the entity outcome of a successful handler run.
type Result struct {
	Table    string
	EntityID string
	Status   string
	Note     string
	Missing  bool
}

// Processor drives the worker execution loop: sweep stale claims, claim one
// job, dispatch its handler, converge job and entity state.
type Processor struct {
	cfg      config.Config
	store    store.Store
	notifier notify.Publisher
	handlers map[string]Handler
	workerID string
}

// NewProcessor creates a processor with a specific worker ID for tracking.
func NewProcessor(cfg config.Config, st store.Store, notifier notify.Publisher, workerID string) *Processor {
	return &Processor{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		handlers: make(map[string]Handler),
		workerID: workerID,
	}
}

// RegisterHandler binds a handler to a job type.
func (p *Processor) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	p.handlers[jobType] = handler
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p.sweepAndMeasure(ctx)

		job, ok, err := p.store.ClaimJob(ctx, p.workerID)
		if err != nil {
			log.Error().Err(err).Msg("claim failed")
			p.sleep(ctx)
			continue
		}
		if !ok {
			p.sleep(ctx)
			continue
		}

		telemetry.InFlightGauge.Inc()
		p.process(ctx, job)
		telemetry.InFlightGauge.Dec()
	}
}

// RunOnce drains at most one job. Tests drive the processor with it.
func (p *Processor) RunOnce(ctx context.Context) (bool, error) {
	job, ok, err := p.store.ClaimJob(ctx, p.workerID)
	if err != nil || !ok {
		return false, err
	}
	p.process(ctx, job)
	return true, nil
}

func (p *Processor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.cfg.WorkerPollInterval):
	}
}

func (p *Processor) sweepAndMeasure(ctx context.Context) {
	cutoff := time.Now().Add(-p.cfg.StalenessTimeout)
	if n, err := p.store.SweepStale(ctx, cutoff); err != nil {
		log.Error().Err(err).Msg("stale sweep failed")
	} else if n > 0 {
		telemetry.StaleReclaims.Add(float64(n))
		log.Warn().Int("reclaimed", n).Msg("reclaimed stale claims")
	}

	if depth, err := p.store.QueueDepth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
	if age, err := p.store.OldestPendingAge(ctx, time.Now()); err == nil {
		telemetry.OldestPendingAge.Set(age.Seconds())
	}
}

func (p *Processor) process(ctx context.Context, job models.Job) {
	handler, ok := p.handlers[job.Type]
	if !ok {
		p.failForGood(ctx, job, fmt.Errorf("no handler registered for type %q", job.Type))
		return
	}

	result, err := handler(ctx, job)
	if err == nil {
		p.succeed(ctx, job, result)
		return
	}

	attempts := job.Attempts + 1
	permanent := isPermanent(err)
	if permanent || attempts >= retryLimit(job.MaxAttempts, p.cfg.MaxAttempts) {
		p.failForGood(ctx, job, err)
		return
	}

	nextRun := time.Now().Add(backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts))
	if rerr := p.store.RescheduleJob(ctx, job.ID, attempts, nextRun, err.Error()); rerr != nil {
		log.Error().Err(rerr).Str("job_id", job.ID).Msg("reschedule failed")
		return
	}
	_ = p.store.AppendAudit(ctx, job.ID, "retry_scheduled",
		fmt.Sprintf("next_run=%s attempts=%d", nextRun.UTC().Format(time.RFC3339), attempts))
	telemetry.WorkerRetries.Inc()
	log.Warn().Err(err).Str("job_id", job.ID).Int("attempts", attempts).Msg("job rescheduled")
}

func (p *Processor) succeed(ctx context.Context, job models.Job, result Result) {
	note := result.Note
	if result.Missing {
		note = "target entity deleted, completion skipped"
	}
	if err := p.store.CompleteJob(ctx, job.ID, note); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("complete failed")
		return
	}
	_ = p.store.AppendAudit(ctx, job.ID, "done", note)
	telemetry.WorkerSuccess.Inc()

	if !result.Missing && result.Table != "" {
		p.publish(ctx, job.ProjectID, result.Table, result.EntityID, result.Status)
	}
	log.Info().Str("job_id", job.ID).Str("job_type", job.Type).Msg("job completed")
}

// failForGood marks the job failed and reverts the entity to the stable
// status recorded in the payload, so nothing is left stuck in a transient
// state.
func (p *Processor) failForGood(ctx context.Context, job models.Job, cause error) {
	if err := p.store.FailJob(ctx, job.ID, cause.Error()); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("fail write failed")
		return
	}
	_ = p.store.AppendAudit(ctx, job.ID, "failed", cause.Error())
	telemetry.WorkerFailures.Inc()

	table, entityID, fallback, err := entityRef(job)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("cannot revert entity")
		return
	}
	found, err := p.store.UpdateEntityStatus(ctx, table, entityID, fallback)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("entity revert failed")
		return
	}
	if found {
		p.publish(ctx, job.ProjectID, table, entityID, fallback)
	}
	log.Warn().Err(cause).Str("job_id", job.ID).Str("job_type", job.Type).Msg("job failed")
}

func (p *Processor) publish(ctx context.Context, projectID, table, entityID, status string) {
	if p.notifier == nil {
		return
	}
	ev := notify.Event{
		Event:     notify.EventUpdate,
		Table:     table,
		ProjectID: projectID,
		EntityID:  entityID,
		Status:    status,
	}
	if err := p.notifier.Publish(ctx, ev); err != nil {
		// Best effort; subscribers converge through their poll fallback.
		log.Warn().Err(err).Str("entity_id", entityID).Msg("event publish failed")
	}
}

// entityRef resolves which entity a job targets and the stable status to
// fall back to on terminal failure.
func entityRef(job models.Job) (table, entityID, fallback string, err error) {
	switch job.Type {
	case models.JobAnalyzeKeyword:
		var pl models.AnalyzeKeywordPayload
		if err := models.DecodePayload(job.Payload, &pl); err != nil {
			return "", "", "", err
		}
		return models.TableKeywords, pl.KeywordID, orStatus(pl.FallbackStatus, models.KeywordFailed), nil
	case models.JobGenerateBrief:
		var pl models.GenerateBriefPayload
		if err := models.DecodePayload(job.Payload, &pl); err != nil {
			return "", "", "", err
		}
		return models.TableKeywords, pl.KeywordID, orStatus(pl.FallbackStatus, models.KeywordReady), nil
	case models.JobAnalyzeCompetitor:
		var pl models.AnalyzeCompetitorPayload
		if err := models.DecodePayload(job.Payload, &pl); err != nil {
			return "", "", "", err
		}
		return models.TableCompetitors, pl.CompetitorID, orStatus(pl.FallbackStatus, models.CompetitorFailed), nil
	case models.JobPublish:
		var pl models.PublishPayload
		if err := models.DecodePayload(job.Payload, &pl); err != nil {
			return "", "", "", err
		}
		return models.TableBriefs, pl.BriefID, orStatus(pl.FallbackStatus, models.BriefGenerated), nil
	case models.JobRequestRefund:
		var pl models.RequestRefundPayload
		if err := models.DecodePayload(job.Payload, &pl); err != nil {
			return "", "", "", err
		}
		return models.TableRefunds, pl.RefundID, models.RefundFailed, nil
	}
	return "", "", "", fmt.Errorf("unknown job type %q", job.Type)
}

const defaultMaxAttempts = 5

// retryLimit combines the per-job and process-wide attempt caps, treating
// non-positive values as unset so a zero-value config cannot turn every
// transient error terminal.
func retryLimit(jobMax, cfgMax int) int {
	limit := defaultMaxAttempts
	if jobMax > 0 {
		limit = jobMax
	}
	if cfgMax > 0 && cfgMax < limit {
		limit = cfgMax
	}
	return limit
}

// A fallback carried in the payload must itself be stable; transient values
// fall through to the per-type default so no entity is parked in-flight.
func orStatus(v, def string) string {
	if v == "" || models.TransientEntityStatus(v) {
		return def
	}
	return v
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 5 * time.Minute
	}
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}
