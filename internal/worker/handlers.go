package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"content-orchestrator/internal/config"
	"content-orchestrator/internal/external"
	"content-orchestrator/internal/models"
	"content-orchestrator/internal/notify"
	"content-orchestrator/internal/store"
)

// Handlers bundles the domain logic for every job type together with the
// external collaborators it needs.
type Handlers struct {
	cfg      config.Config
	store    store.Store
	notifier notify.Publisher
	gen      external.Generator
	traffic  external.TrafficEstimator
	cms      external.Publisher
	payments external.PaymentVerifier
	archive  external.Archive
	images   *imageFetcher
}

// NewHandlers wires the handler set.
func NewHandlers(cfg config.Config, st store.Store, notifier notify.Publisher,
	gen external.Generator, traffic external.TrafficEstimator, cms external.Publisher,
	payments external.PaymentVerifier, archive external.Archive) *Handlers {
	return &Handlers{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		gen:      gen,
		traffic:  traffic,
		cms:      cms,
		payments: payments,
		archive:  archive,
		images:   newImageFetcher(cfg),
	}
}

// Register binds every handler to its job type on the processor.
func (h *Handlers) Register(p *Processor) {
	p.RegisterHandler(models.JobAnalyzeKeyword, h.AnalyzeKeyword)
	p.RegisterHandler(models.JobGenerateBrief, h.GenerateBrief)
	p.RegisterHandler(models.JobAnalyzeCompetitor, h.AnalyzeCompetitor)
	p.RegisterHandler(models.JobPublish, h.Publish)
	p.RegisterHandler(models.JobRequestRefund, h.RequestRefund)
}

// AnalyzeKeyword fetches search metrics for a keyword and records them.
func (h *Handlers) AnalyzeKeyword(ctx context.Context, job models.Job) (Result, error) {
	var pl models.AnalyzeKeywordPayload
	if err := models.DecodePayload(job.Payload, &pl); err != nil {
		return Result{}, backoff.Permanent(err)
	}

	metrics, err := h.gen.AnalyzeKeyword(ctx, pl.Term)
	if err != nil {
		return Result{}, classify(err)
	}

	found, err := h.store.SetKeywordResult(ctx, pl.KeywordID, metrics.Volume, metrics.Difficulty, metrics.Intent)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Missing: true}, nil
	}
	return Result{
		Table:    models.TableKeywords,
		EntityID: pl.KeywordID,
		Status:   models.KeywordReady,
		Note:     fmt.Sprintf("volume=%d difficulty=%d", metrics.Volume, metrics.Difficulty),
	}, nil
}

// GenerateBrief produces a content brief for an analyzed keyword, archives
// the article body, and creates the brief row. The brief ID derives from the
// job ID, so a re-run after a crash between brief creation and job
// completion lands on the existing row instead of minting a duplicate.
func (h *Handlers) GenerateBrief(ctx context.Context, job models.Job) (Result, error) {
	var pl models.GenerateBriefPayload
	if err := models.DecodePayload(job.Payload, &pl); err != nil {
		return Result{}, backoff.Permanent(err)
	}

	briefID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(job.ID)).String()
	if existing, err := h.store.GetBrief(ctx, briefID); err == nil {
		// Re-run after a crash; the brief is already written.
		found, uerr := h.store.UpdateEntityStatus(ctx, models.TableKeywords, pl.KeywordID, models.KeywordGenerated)
		if uerr != nil {
			return Result{}, uerr
		}
		if !found {
			return Result{Missing: true}, nil
		}
		return Result{
			Table:    models.TableKeywords,
			EntityID: pl.KeywordID,
			Status:   models.KeywordGenerated,
			Note:     "brief " + existing.ID,
		}, nil
	} else if !errors.Is(err, store.ErrEntityNotFound) {
		return Result{}, err
	}

	content, err := h.gen.GenerateBrief(ctx, pl.Term)
	if err != nil {
		return Result{}, classify(err)
	}

	contentKey := fmt.Sprintf("briefs/%s/%s.md", pl.KeywordID, briefID)
	if _, err := h.archive.Put(ctx, contentKey, []byte(content.Body), "text/markdown"); err != nil {
		return Result{}, err
	}

	now := time.Now().UTC()
	brief := models.Brief{
		ID:         briefID,
		ProjectID:  job.ProjectID,
		KeywordID:  pl.KeywordID,
		Title:      content.Title,
		Outline:    content.Outline,
		ContentKey: contentKey,
		Status:     models.BriefGenerated,
		CreatedAt:  now,
	}
	if err := h.store.CreateBrief(ctx, brief); err != nil {
		return Result{}, err
	}
	h.publishEvent(ctx, notify.EventInsert, job.ProjectID, models.TableBriefs, briefID, models.BriefGenerated)

	found, err := h.store.UpdateEntityStatus(ctx, models.TableKeywords, pl.KeywordID, models.KeywordGenerated)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Missing: true}, nil
	}
	return Result{
		Table:    models.TableKeywords,
		EntityID: pl.KeywordID,
		Status:   models.KeywordGenerated,
		Note:     "brief " + briefID,
	}, nil
}

// AnalyzeCompetitor estimates a competitor domain's traffic.
func (h *Handlers) AnalyzeCompetitor(ctx context.Context, job models.Job) (Result, error) {
	var pl models.AnalyzeCompetitorPayload
	if err := models.DecodePayload(job.Payload, &pl); err != nil {
		return Result{}, backoff.Permanent(err)
	}

	estimate, err := h.traffic.Estimate(ctx, pl.Domain)
	if err != nil {
		return Result{}, classify(err)
	}

	found, err := h.store.SetCompetitorResult(ctx, pl.CompetitorID, estimate.MonthlyTraffic, estimate.TopKeywords)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Missing: true}, nil
	}
	return Result{
		Table:    models.TableCompetitors,
		EntityID: pl.CompetitorID,
		Status:   models.CompetitorReady,
		Note:     fmt.Sprintf("monthly_traffic=%d", estimate.MonthlyTraffic),
	}, nil
}

// Publish pushes a generated brief to the external CMS. The featured image,
// when present, is downscaled and archived alongside the article snapshot.
func (h *Handlers) Publish(ctx context.Context, job models.Job) (Result, error) {
	var pl models.PublishPayload
	if err := models.DecodePayload(job.Payload, &pl); err != nil {
		return Result{}, backoff.Permanent(err)
	}

	brief, err := h.store.GetBrief(ctx, pl.BriefID)
	if err != nil {
		if errors.Is(err, store.ErrEntityNotFound) {
			return Result{Missing: true}, nil
		}
		return Result{}, err
	}
	if brief.Status == models.BriefPublished {
		// Re-run after a crash between CMS call and completion.
		return Result{Table: models.TableBriefs, EntityID: brief.ID, Status: models.BriefPublished, Note: "already published"}, nil
	}

	body := brief.Outline
	contentKey := orKey(pl.ContentKey, brief.ContentKey)
	if contentKey != "" {
		raw, err := h.archive.Get(ctx, contentKey)
		if err != nil {
			return Result{}, err
		}
		body = string(raw)
	}

	if pl.FeaturedImageURL != "" {
		shrunk, err := h.images.fetchAndShrink(ctx, pl.FeaturedImageURL)
		if err != nil {
			// The image is decoration; publish proceeds without it.
			log.Warn().Err(err).Str("brief_id", brief.ID).Msg("featured image skipped")
		} else if _, err := h.archive.Put(ctx, fmt.Sprintf("images/%s.jpg", brief.ID), shrunk, "image/jpeg"); err != nil {
			log.Warn().Err(err).Str("brief_id", brief.ID).Msg("featured image archive failed")
		}
	}

	url, err := h.cms.Publish(ctx, external.Article{
		Title:            brief.Title,
		Body:             body,
		FeaturedImageURL: pl.FeaturedImageURL,
	})
	if err != nil {
		return Result{}, classify(err)
	}

	found, err := h.store.MarkBriefPublished(ctx, brief.ID, time.Now().UTC())
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Missing: true}, nil
	}
	return Result{
		Table:    models.TableBriefs,
		EntityID: brief.ID,
		Status:   models.BriefPublished,
		Note:     "published " + url,
	}, nil
}

// RequestRefund re-verifies the payment and resolves the refund. The amount
// on the row is never touched after creation.
func (h *Handlers) RequestRefund(ctx context.Context, job models.Job) (Result, error) {
	var pl models.RequestRefundPayload
	if err := models.DecodePayload(job.Payload, &pl); err != nil {
		return Result{}, backoff.Permanent(err)
	}

	found, err := h.store.UpdateEntityStatus(ctx, models.TableRefunds, pl.RefundID, models.RefundProcessing)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{Missing: true}, nil
	}
	h.publishEvent(ctx, notify.EventUpdate, job.ProjectID, models.TableRefunds, pl.RefundID, models.RefundProcessing)

	info, err := h.payments.Verify(ctx, pl.PaymentRef)
	if err != nil {
		return Result{}, classify(err)
	}

	status := models.RefundSuccess
	note := "refund approved"
	if info.Status != "paid" && info.Status != "refundable" {
		status = models.RefundFailed
		note = "payment not refundable: " + info.Status
	}
	if err := h.store.SetRefundStatus(ctx, pl.RefundID, status); err != nil {
		return Result{}, err
	}
	_ = h.store.AppendAudit(ctx, pl.RefundID, "refund_resolved", note)
	return Result{
		Table:    models.TableRefunds,
		EntityID: pl.RefundID,
		Status:   status,
		Note:     note,
	}, nil
}

func (h *Handlers) publishEvent(ctx context.Context, event, projectID, table, id, status string) {
	if h.notifier == nil {
		return
	}
	_ = h.notifier.Publish(ctx, notify.Event{
		Event:     event,
		Table:     table,
		ProjectID: projectID,
		EntityID:  id,
		Status:    status,
	})
}

// classify wraps errors the external service rejected outright so the
// processor fails them without retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isPermanent(err) {
		return err
	}
	if !external.Retryable(err) {
		return backoff.Permanent(err)
	}
	return err
}

func orKey(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
