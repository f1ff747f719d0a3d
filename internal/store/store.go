package store

import (
	"context"
	"errors"
	"time"

	"content-orchestrator/internal/models"
)

// Sentinel errors for common conditions.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrEntityNotFound  = errors.New("entity not found")
	ErrDuplicateRefund = errors.New("refund already exists for payment reference")
	ErrJobTerminal     = errors.New("job already terminal")
)

// EnqueueParams collects inputs required to insert a job. The optimistic
// entity transition is written in the same transaction as the job row, so
// the two stores never observe a job without an in-progress entity state.
type EnqueueParams struct {
	Type        string
	ProjectID   string
	TargetID    string
	Payload     []byte
	MaxAttempts int

	// Optimistic entity transition applied alongside the insert.
	EntityTable      string
	OptimisticStatus string
}

// ActiveJobFilter narrows ListActiveJobs.
type ActiveJobFilter struct {
	ProjectID string
	Type      string
}

// Store is the single source of truth for jobs, entities, and refunds.
// Postgres backs production; the memory implementation backs tests.
type Store interface {
	// Job lifecycle. EnqueueJob dedupes on (type, target_id) while an active
	// job exists, returning the existing job and true. ClaimJob is exclusive:
	// concurrent claimers never receive the same job. CompleteJob and FailJob
	// are terminal; RescheduleJob moves a processing job back to pending with
	// a future next_run_at for retry.
	EnqueueJob(ctx context.Context, p EnqueueParams) (models.Job, bool, error)
	ClaimJob(ctx context.Context, workerID string) (models.Job, bool, error)
	CompleteJob(ctx context.Context, id, note string) error
	FailJob(ctx context.Context, id, reason string) error
	RescheduleJob(ctx context.Context, id string, attempts int, nextRun time.Time, reason string) error
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListActiveJobs(ctx context.Context, f ActiveJobFilter) ([]models.Job, error)

	// SweepStale returns processing jobs claimed before the cutoff to
	// pending so another worker can reclaim them.
	SweepStale(ctx context.Context, claimedBefore time.Time) (int, error)

	// Quota and health reads, all derived by counting rather than kept as
	// mutable counters.
	CountPublishJobsToday(ctx context.Context, projectID string, now time.Time) (int, error)
	QueueDepth(ctx context.Context) (int64, error)
	OldestPendingAge(ctx context.Context, now time.Time) (time.Duration, error)

	// Projects.
	GetProject(ctx context.Context, id string) (models.Project, error)
	ListAutopilotProjects(ctx context.Context) ([]models.Project, error)
	UpdateAutopilot(ctx context.Context, projectID string, enabled, paused bool, timeOfDay string, dailyLimit int) error
	SetCancelAtPeriodEnd(ctx context.Context, projectID string, v bool) error

	// Entities. UpdateEntityStatus reports found=false without error when the
	// target row no longer exists, which makes a worker's completion write a
	// no-op if the user deleted the entity mid-flight.
	CreateKeyword(ctx context.Context, k models.Keyword) error
	GetKeyword(ctx context.Context, id string) (models.Keyword, error)
	SetKeywordResult(ctx context.Context, id string, volume, difficulty int, intent string) (bool, error)
	CreateBrief(ctx context.Context, b models.Brief) error
	GetBrief(ctx context.Context, id string) (models.Brief, error)
	MarkBriefPublished(ctx context.Context, id string, at time.Time) (bool, error)
	OldestPublishableBrief(ctx context.Context, projectID string) (models.Brief, bool, error)
	CreateCompetitor(ctx context.Context, c models.Competitor) error
	GetCompetitor(ctx context.Context, id string) (models.Competitor, error)
	SetCompetitorResult(ctx context.Context, id string, monthlyTraffic int64, topKeywords []string) (bool, error)
	UpdateEntityStatus(ctx context.Context, table, id, status string) (bool, error)
	GetEntityStatus(ctx context.Context, table, id string) (string, bool, error)
	ListEntityStatuses(ctx context.Context, table, projectID string) (map[string]string, error)

	// Refunds, keyed 1:1 by payment reference.
	CreateRefund(ctx context.Context, r models.Refund) error
	GetRefund(ctx context.Context, id string) (models.Refund, error)
	GetRefundByPaymentRef(ctx context.Context, paymentRef string) (models.Refund, bool, error)
	SetRefundStatus(ctx context.Context, id, status string) error

	// Audit rows are append-only.
	AppendAudit(ctx context.Context, refID, event, detail string) error
}
