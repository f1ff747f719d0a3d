// Package orchestrator holds the producer flows: create an entity at its
// initial status and enqueue the job that will advance it, as one logical
// operation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"content-orchestrator/internal/models"
	"content-orchestrator/internal/notify"
	"content-orchestrator/internal/store"
	"content-orchestrator/internal/telemetry"
)

// ErrNotReady rejects a brief request for a keyword that has not finished
// analysis.
var ErrNotReady = errors.New("keyword is not ready for brief generation")

// Service enqueues work on behalf of user actions.
type Service struct {
	store    store.Store
	notifier notify.Publisher
}

// New wires the producer service.
func New(st store.Store, notifier notify.Publisher) *Service {
	return &Service{store: st, notifier: notifier}
}

// AnalyzeKeyword creates a keyword and queues its analysis. Re-invoking
// while the first job is active returns the same job (dedupe key).
func (s *Service) AnalyzeKeyword(ctx context.Context, projectID, term string) (models.Keyword, models.Job, error) {
	if term == "" {
		return models.Keyword{}, models.Job{}, errors.New("term is required")
	}

	now := time.Now().UTC()
	k := models.Keyword{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Term:      term,
		Status:    models.KeywordQueued,
		CreatedAt: now,
	}
	if err := s.store.CreateKeyword(ctx, k); err != nil {
		return models.Keyword{}, models.Job{}, err
	}
	s.publish(ctx, notify.EventInsert, models.TableKeywords, projectID, k.ID, k.Status)

	payload, err := models.EncodePayload(models.AnalyzeKeywordPayload{
		KeywordID:      k.ID,
		Term:           term,
		FallbackStatus: models.KeywordFailed,
	})
	if err != nil {
		return models.Keyword{}, models.Job{}, err
	}

	job, existed, err := s.store.EnqueueJob(ctx, store.EnqueueParams{
		Type:             models.JobAnalyzeKeyword,
		ProjectID:        projectID,
		TargetID:         k.ID,
		Payload:          payload,
		EntityTable:      models.TableKeywords,
		OptimisticStatus: models.KeywordAnalyzing,
	})
	if err != nil {
		return models.Keyword{}, models.Job{}, err
	}
	if existed {
		telemetry.DedupeHits.Inc()
	} else {
		_ = s.store.AppendAudit(ctx, job.ID, "enqueued", "analyze keyword "+k.ID)
	}
	k.Status = models.KeywordAnalyzing
	return k, job, nil
}

// RequestBrief queues brief generation for a ready keyword.
func (s *Service) RequestBrief(ctx context.Context, keywordID string) (models.Job, error) {
	k, err := s.store.GetKeyword(ctx, keywordID)
	if err != nil {
		return models.Job{}, err
	}
	if k.Status != models.KeywordReady {
		return models.Job{}, fmt.Errorf("%w: status %s", ErrNotReady, k.Status)
	}

	payload, err := models.EncodePayload(models.GenerateBriefPayload{
		KeywordID:      k.ID,
		Term:           k.Term,
		FallbackStatus: models.KeywordReady,
	})
	if err != nil {
		return models.Job{}, err
	}

	job, existed, err := s.store.EnqueueJob(ctx, store.EnqueueParams{
		Type:             models.JobGenerateBrief,
		ProjectID:        k.ProjectID,
		TargetID:         k.ID,
		Payload:          payload,
		EntityTable:      models.TableKeywords,
		OptimisticStatus: models.KeywordAnalyzing,
	})
	if err != nil {
		return models.Job{}, err
	}
	if existed {
		telemetry.DedupeHits.Inc()
	} else {
		_ = s.store.AppendAudit(ctx, job.ID, "enqueued", "generate brief for keyword "+k.ID)
	}
	return job, nil
}

// AnalyzeCompetitor creates a competitor and queues its traffic estimate.
func (s *Service) AnalyzeCompetitor(ctx context.Context, projectID, domain string) (models.Competitor, models.Job, error) {
	if domain == "" {
		return models.Competitor{}, models.Job{}, errors.New("domain is required")
	}

	now := time.Now().UTC()
	c := models.Competitor{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Domain:    domain,
		Status:    models.CompetitorQueued,
		CreatedAt: now,
	}
	if err := s.store.CreateCompetitor(ctx, c); err != nil {
		return models.Competitor{}, models.Job{}, err
	}
	s.publish(ctx, notify.EventInsert, models.TableCompetitors, projectID, c.ID, c.Status)

	payload, err := models.EncodePayload(models.AnalyzeCompetitorPayload{
		CompetitorID:   c.ID,
		Domain:         domain,
		FallbackStatus: models.CompetitorFailed,
	})
	if err != nil {
		return models.Competitor{}, models.Job{}, err
	}

	job, existed, err := s.store.EnqueueJob(ctx, store.EnqueueParams{
		Type:             models.JobAnalyzeCompetitor,
		ProjectID:        projectID,
		TargetID:         c.ID,
		Payload:          payload,
		EntityTable:      models.TableCompetitors,
		OptimisticStatus: models.CompetitorAnalyzing,
	})
	if err != nil {
		return models.Competitor{}, models.Job{}, err
	}
	if existed {
		telemetry.DedupeHits.Inc()
	} else {
		_ = s.store.AppendAudit(ctx, job.ID, "enqueued", "analyze competitor "+c.ID)
	}
	c.Status = models.CompetitorAnalyzing
	return c, job, nil
}

func (s *Service) publish(ctx context.Context, event, table, projectID, id, status string) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Publish(ctx, notify.Event{
		Event:     event,
		Table:     table,
		ProjectID: projectID,
		EntityID:  id,
		Status:    status,
	})
}
