package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"content-orchestrator/internal/models"
)

const pgUniqueViolation = "23505"

// Postgres implements Store on top of pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnqueueJob inserts a job row and applies the optimistic entity transition
// in one transaction. If an active job already exists for the same
// (type, target_id), the existing job is returned instead of a duplicate.
func (s *Postgres) EnqueueJob(ctx context.Context, p EnqueueParams) (models.Job, bool, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 5
	}
	if err := models.ValidatePayload(p.Type, p.Payload); err != nil {
		return models.Job{}, false, err
	}
	if p.EntityTable != "" && !validEntityTable(p.EntityTable) {
		return models.Job{}, false, fmt.Errorf("unknown entity table %q", p.EntityTable)
	}

	if existing, found, err := s.findActiveJob(ctx, p.Type, p.TargetID); err != nil {
		return models.Job{}, false, err
	} else if found {
		return existing, true, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, job_type, status, project_id, target_id, payload, attempts, max_attempts, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $9)
	`, id, p.Type, models.JobPending, p.ProjectID, p.TargetID, p.Payload, p.MaxAttempts, now, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			// Lost the race to a concurrent enqueue for the same target.
			existing, found, ferr := s.findActiveJob(ctx, p.Type, p.TargetID)
			if ferr != nil {
				return models.Job{}, false, ferr
			}
			if !found {
				return models.Job{}, false, errors.New("dedupe conflict but no active job found")
			}
			return existing, true, nil
		}
		return models.Job{}, false, fmt.Errorf("insert job: %w", err)
	}

	if p.EntityTable != "" && p.OptimisticStatus != "" {
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = NOW() WHERE id = $1`, p.EntityTable),
			p.TargetID, p.OptimisticStatus,
		); err != nil {
			return models.Job{}, false, fmt.Errorf("optimistic entity update: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, false, fmt.Errorf("commit: %w", err)
	}

	log.Info().Str("job_id", id).Str("job_type", p.Type).Str("target_id", p.TargetID).Msg("enqueued job")

	return models.Job{
		ID:          id,
		Type:        p.Type,
		Status:      models.JobPending,
		ProjectID:   p.ProjectID,
		TargetID:    p.TargetID,
		Payload:     p.Payload,
		MaxAttempts: p.MaxAttempts,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, false, nil
}

func (s *Postgres) findActiveJob(ctx context.Context, jobType, targetID string) (models.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE job_type = $1 AND target_id = $2 AND status IN ($3, $4)
		ORDER BY created_at ASC
		LIMIT 1
	`, jobType, targetID, models.JobPending, models.JobProcessing)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

// ClaimJob atomically moves the oldest runnable pending job to processing.
// FOR UPDATE SKIP LOCKED keeps concurrent claimers from ever matching the
// same row.
func (s *Postgres) ClaimJob(ctx context.Context, workerID string) (models.Job, bool, error) {
	row := s.pool.QueryRow(ctx, `
		WITH claimable AS (
			SELECT id
			FROM jobs
			WHERE status = $1 AND next_run_at <= NOW()
			ORDER BY next_run_at ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs
		SET status = $2, worker_id = $3, claimed_at = NOW(), updated_at = NOW()
		FROM claimable
		WHERE jobs.id = claimable.id
		RETURNING `+prefixedJobColumns,
		models.JobPending, models.JobProcessing, workerID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

// CompleteJob marks a processing job done. Terminal jobs stay immutable
// except for the audit note.
func (s *Postgres) CompleteJob(ctx context.Context, id, note string) error {
	return s.finishJob(ctx, id, models.JobDone, note, nil)
}

// FailJob marks a processing job failed with the reason recorded.
func (s *Postgres) FailJob(ctx context.Context, id, reason string) error {
	return s.finishJob(ctx, id, models.JobFailed, "", &reason)
}

func (s *Postgres) finishJob(ctx context.Context, id, status, note string, lastErr *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, note = NULLIF($3, ''), last_error = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, status, note, lastErr, models.JobProcessing)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobTerminal, id)
	}
	return nil
}

// RescheduleJob returns a processing job to pending with a future run time.
func (s *Postgres) RescheduleJob(ctx context.Context, id string, attempts int, nextRun time.Time, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, attempts = $3, next_run_at = $4, last_error = $5, worker_id = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $6
	`, id, models.JobPending, attempts, nextRun, reason, models.JobProcessing)
	if err != nil {
		return fmt.Errorf("reschedule job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrJobTerminal, id)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, err
}

// ListActiveJobs returns pending and processing jobs matching the filter.
func (s *Postgres) ListActiveJobs(ctx context.Context, f ActiveJobFilter) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE status IN ($1, $2)
		  AND ($3 = '' OR project_id::text = $3)
		  AND ($4 = '' OR job_type = $4)
		ORDER BY created_at ASC
	`, models.JobPending, models.JobProcessing, f.ProjectID, f.Type)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SweepStale reclaims processing jobs whose claim predates the cutoff,
// typically because a worker crashed before finishing.
func (s *Postgres) SweepStale(ctx context.Context, claimedBefore time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $1, worker_id = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE status = $2 AND claimed_at < $3
	`, models.JobPending, models.JobProcessing, claimedBefore)
	if err != nil {
		return 0, fmt.Errorf("sweep stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CountPublishJobsToday counts publish jobs created within the current UTC
// calendar day for the project, regardless of their current status.
func (s *Postgres) CountPublishJobsToday(ctx context.Context, projectID string, now time.Time) (int, error) {
	day := now.UTC().Truncate(24 * time.Hour)
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE project_id = $1 AND job_type = $2 AND created_at >= $3 AND created_at < $4
	`, projectID, models.JobPublish, day, day.Add(24*time.Hour)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count publish jobs: %w", err)
	}
	return n, nil
}

// QueueDepth returns the number of pending jobs ready or waiting to run.
func (s *Postgres) QueueDepth(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE status = $1`, models.JobPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// OldestPendingAge returns how long the oldest pending job has been waiting,
// or zero when the queue is empty.
func (s *Postgres) OldestPendingAge(ctx context.Context, now time.Time) (time.Duration, error) {
	var oldest pgtype.Timestamptz
	err := s.pool.QueryRow(ctx, `
		SELECT MIN(created_at) FROM jobs WHERE status = $1
	`, models.JobPending).Scan(&oldest)
	if err != nil {
		return 0, fmt.Errorf("oldest pending age: %w", err)
	}
	if !oldest.Valid {
		return 0, nil
	}
	age := now.Sub(oldest.Time)
	if age < 0 {
		age = 0
	}
	return age, nil
}

// GetProject fetches a project by id.
func (s *Postgres) GetProject(ctx context.Context, id string) (models.Project, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, site_url, autopilot_enabled, paused, autopilot_time, daily_publish_limit,
		       subscription_start_at, trial_start_at, cancel_at_period_end, created_at, updated_at
		FROM projects WHERE id = $1
	`, id)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return p, err
}

// ListAutopilotProjects returns projects with autopilot enabled, paused or
// not. The scheduler applies the pause flag itself so it can log skips.
func (s *Postgres) ListAutopilotProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, site_url, autopilot_enabled, paused, autopilot_time, daily_publish_limit,
		       subscription_start_at, trial_start_at, cancel_at_period_end, created_at, updated_at
		FROM projects WHERE autopilot_enabled ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list autopilot projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateAutopilot writes the scheduler settings for a project.
func (s *Postgres) UpdateAutopilot(ctx context.Context, projectID string, enabled, paused bool, timeOfDay string, dailyLimit int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE projects
		SET autopilot_enabled = $2, paused = $3, autopilot_time = $4, daily_publish_limit = $5, updated_at = NOW()
		WHERE id = $1
	`, projectID, enabled, paused, timeOfDay, dailyLimit)
	if err != nil {
		return fmt.Errorf("update autopilot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	return nil
}

// SetCancelAtPeriodEnd flags the subscription without immediate cancellation.
func (s *Postgres) SetCancelAtPeriodEnd(ctx context.Context, projectID string, v bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE projects SET cancel_at_period_end = $2, updated_at = NOW() WHERE id = $1
	`, projectID, v)
	if err != nil {
		return fmt.Errorf("set cancel_at_period_end: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	return nil
}

// CreateKeyword inserts a keyword row.
func (s *Postgres) CreateKeyword(ctx context.Context, k models.Keyword) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO keywords (id, project_id, term, status, volume, difficulty, intent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, k.ID, k.ProjectID, k.Term, k.Status, k.Volume, k.Difficulty, k.Intent, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert keyword: %w", err)
	}
	return nil
}

// GetKeyword fetches a keyword by id.
func (s *Postgres) GetKeyword(ctx context.Context, id string) (models.Keyword, error) {
	var k models.Keyword
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, term, status, volume, difficulty, intent, created_at, updated_at
		FROM keywords WHERE id = $1
	`, id).Scan(&k.ID, &k.ProjectID, &k.Term, &k.Status, &k.Volume, &k.Difficulty, &k.Intent, &k.CreatedAt, &k.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Keyword{}, fmt.Errorf("%w: keyword %s", ErrEntityNotFound, id)
	}
	if err != nil {
		return models.Keyword{}, fmt.Errorf("scan keyword: %w", err)
	}
	return k, nil
}

// SetKeywordResult records analysis metrics and moves the keyword to ready.
func (s *Postgres) SetKeywordResult(ctx context.Context, id string, volume, difficulty int, intent string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE keywords
		SET status = $2, volume = $3, difficulty = $4, intent = $5, updated_at = NOW()
		WHERE id = $1
	`, id, models.KeywordReady, volume, difficulty, intent)
	if err != nil {
		return false, fmt.Errorf("set keyword result: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CreateBrief inserts a brief row.
func (s *Postgres) CreateBrief(ctx context.Context, b models.Brief) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO briefs (id, project_id, keyword_id, title, outline, content_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, b.ID, b.ProjectID, b.KeywordID, b.Title, b.Outline, b.ContentKey, b.Status, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert brief: %w", err)
	}
	return nil
}

// GetBrief fetches a brief by id.
func (s *Postgres) GetBrief(ctx context.Context, id string) (models.Brief, error) {
	var b models.Brief
	var publishedAt pgtype.Timestamptz
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, keyword_id, title, outline, content_key, status, published_at, created_at, updated_at
		FROM briefs WHERE id = $1
	`, id).Scan(&b.ID, &b.ProjectID, &b.KeywordID, &b.Title, &b.Outline, &b.ContentKey, &b.Status, &publishedAt, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Brief{}, fmt.Errorf("%w: brief %s", ErrEntityNotFound, id)
	}
	if err != nil {
		return models.Brief{}, fmt.Errorf("scan brief: %w", err)
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		b.PublishedAt = &t
	}
	return b, nil
}

// MarkBriefPublished finalizes a publish pass.
func (s *Postgres) MarkBriefPublished(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE briefs SET status = $2, published_at = $3, updated_at = NOW() WHERE id = $1
	`, id, models.BriefPublished, at)
	if err != nil {
		return false, fmt.Errorf("mark brief published: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// OldestPublishableBrief returns the oldest generated brief for a project
// that has no active publish job yet. FIFO by creation time keeps autopilot
// predictable, and the active-job exclusion lets one scheduler run pick
// successive briefs.
func (s *Postgres) OldestPublishableBrief(ctx context.Context, projectID string) (models.Brief, bool, error) {
	var b models.Brief
	var publishedAt pgtype.Timestamptz
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, keyword_id, title, outline, content_key, status, published_at, created_at, updated_at
		FROM briefs
		WHERE project_id = $1 AND status = $2
		  AND NOT EXISTS (
			SELECT 1 FROM jobs
			WHERE jobs.job_type = $3 AND jobs.target_id = briefs.id AND jobs.status IN ($4, $5)
		  )
		ORDER BY created_at ASC
		LIMIT 1
	`, projectID, models.BriefGenerated, models.JobPublish, models.JobPending, models.JobProcessing).Scan(&b.ID, &b.ProjectID, &b.KeywordID, &b.Title, &b.Outline, &b.ContentKey, &b.Status, &publishedAt, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Brief{}, false, nil
	}
	if err != nil {
		return models.Brief{}, false, fmt.Errorf("oldest publishable brief: %w", err)
	}
	return b, true, nil
}

// CreateCompetitor inserts a competitor row.
func (s *Postgres) CreateCompetitor(ctx context.Context, c models.Competitor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO competitors (id, project_id, domain, status, monthly_traffic, top_keywords, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, c.ID, c.ProjectID, c.Domain, c.Status, c.MonthlyTraffic, c.TopKeywords, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert competitor: %w", err)
	}
	return nil
}

// GetCompetitor fetches a competitor by id.
func (s *Postgres) GetCompetitor(ctx context.Context, id string) (models.Competitor, error) {
	var c models.Competitor
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, domain, status, monthly_traffic, top_keywords, created_at, updated_at
		FROM competitors WHERE id = $1
	`, id).Scan(&c.ID, &c.ProjectID, &c.Domain, &c.Status, &c.MonthlyTraffic, &c.TopKeywords, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Competitor{}, fmt.Errorf("%w: competitor %s", ErrEntityNotFound, id)
	}
	if err != nil {
		return models.Competitor{}, fmt.Errorf("scan competitor: %w", err)
	}
	return c, nil
}

// SetCompetitorResult records the traffic estimate and moves the competitor
// to ready.
func (s *Postgres) SetCompetitorResult(ctx context.Context, id string, monthlyTraffic int64, topKeywords []string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE competitors
		SET status = $2, monthly_traffic = $3, top_keywords = $4, updated_at = NOW()
		WHERE id = $1
	`, id, models.CompetitorReady, monthlyTraffic, topKeywords)
	if err != nil {
		return false, fmt.Errorf("set competitor result: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateEntityStatus writes a status on any entity table. A missing row is
// reported as found=false, not an error.
func (s *Postgres) UpdateEntityStatus(ctx context.Context, table, id, status string) (bool, error) {
	if !validEntityTable(table) {
		return false, fmt.Errorf("unknown entity table %q", table)
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = NOW() WHERE id = $1`, table),
		id, status)
	if err != nil {
		return false, fmt.Errorf("update %s status: %w", table, err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetEntityStatus reads a status from any entity table.
func (s *Postgres) GetEntityStatus(ctx context.Context, table, id string) (string, bool, error) {
	if !validEntityTable(table) {
		return "", false, fmt.Errorf("unknown entity table %q", table)
	}
	var status string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, table), id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s status: %w", table, err)
	}
	return status, true, nil
}

// ListEntityStatuses returns id -> status for every row of the table in the
// project scope. The reconciliation client uses it for full resyncs.
func (s *Postgres) ListEntityStatuses(ctx context.Context, table, projectID string) (map[string]string, error) {
	if !validEntityTable(table) {
		return nil, fmt.Errorf("unknown entity table %q", table)
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, status FROM %s WHERE project_id = $1`, table), projectID)
	if err != nil {
		return nil, fmt.Errorf("list %s statuses: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan %s status: %w", table, err)
		}
		out[id] = status
	}
	return out, rows.Err()
}

// CreateRefund inserts a refund row. The unique index on payment_ref turns a
// concurrent duplicate into ErrDuplicateRefund.
func (s *Postgres) CreateRefund(ctx context.Context, r models.Refund) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refunds (id, project_id, payment_ref, status, amount_cents, currency, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, r.ID, r.ProjectID, r.PaymentRef, r.Status, r.AmountCents, r.Currency, r.Reason, r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateRefund, r.PaymentRef)
		}
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// GetRefund fetches a refund by id.
func (s *Postgres) GetRefund(ctx context.Context, id string) (models.Refund, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, payment_ref, status, amount_cents, currency, reason, created_at, updated_at
		FROM refunds WHERE id = $1
	`, id)
	r, err := scanRefund(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Refund{}, fmt.Errorf("%w: refund %s", ErrEntityNotFound, id)
	}
	return r, err
}

// GetRefundByPaymentRef looks up the single refund for a payment reference.
func (s *Postgres) GetRefundByPaymentRef(ctx context.Context, paymentRef string) (models.Refund, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, project_id, payment_ref, status, amount_cents, currency, reason, created_at, updated_at
		FROM refunds WHERE payment_ref = $1
	`, paymentRef)
	r, err := scanRefund(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Refund{}, false, nil
	}
	if err != nil {
		return models.Refund{}, false, err
	}
	return r, true, nil
}

// SetRefundStatus moves the refund state machine. The amount never changes.
func (s *Postgres) SetRefundStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refunds SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("set refund status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: refund %s", ErrEntityNotFound, id)
	}
	return nil
}

// AppendAudit adds an audit row.
func (s *Postgres) AppendAudit(ctx context.Context, refID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (ref_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, refID, event, detail)
	return err
}

const jobColumns = "id, job_type, status, project_id, target_id, payload, attempts, max_attempts, last_error, note, worker_id, claimed_at, next_run_at, created_at, updated_at"

const prefixedJobColumns = "jobs.id, jobs.job_type, jobs.status, jobs.project_id, jobs.target_id, jobs.payload, jobs.attempts, jobs.max_attempts, jobs.last_error, jobs.note, jobs.worker_id, jobs.claimed_at, jobs.next_run_at, jobs.created_at, jobs.updated_at"

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var lastErr, note, workerID pgtype.Text
	var claimedAt pgtype.Timestamptz

	if err := row.Scan(&job.ID, &job.Type, &job.Status, &job.ProjectID, &job.TargetID, &job.Payload,
		&job.Attempts, &job.MaxAttempts, &lastErr, &note, &workerID, &claimedAt,
		&job.NextRunAt, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, err
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.LastError = textPtr(lastErr)
	job.Note = textPtr(note)
	job.WorkerID = textPtr(workerID)
	if claimedAt.Valid {
		t := claimedAt.Time
		job.ClaimedAt = &t
	}
	return job, nil
}

func scanProject(row pgx.Row) (models.Project, error) {
	var p models.Project
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.SiteURL, &p.AutopilotEnabled, &p.Paused,
		&p.AutopilotTime, &p.DailyPublishLimit, &p.SubscriptionStart, &p.TrialStart,
		&p.CancelAtPeriodEnd, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Project{}, err
		}
		return models.Project{}, fmt.Errorf("scan project: %w", err)
	}
	return p, nil
}

func scanRefund(row pgx.Row) (models.Refund, error) {
	var r models.Refund
	if err := row.Scan(&r.ID, &r.ProjectID, &r.PaymentRef, &r.Status, &r.AmountCents,
		&r.Currency, &r.Reason, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Refund{}, err
		}
		return models.Refund{}, fmt.Errorf("scan refund: %w", err)
	}
	return r, nil
}

func validEntityTable(table string) bool {
	switch table {
	case models.TableKeywords, models.TableBriefs, models.TableCompetitors, models.TableRefunds:
		return true
	}
	return false
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
