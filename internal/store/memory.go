package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"content-orchestrator/internal/models"
)

// Memory is an in-process Store with the same transition semantics as the
// Postgres implementation. It backs tests and local development without a
// database.
type Memory struct {
	mu          sync.Mutex
	jobs        map[string]*models.Job
	projects    map[string]*models.Project
	keywords    map[string]*models.Keyword
	briefs      map[string]*models.Brief
	competitors map[string]*models.Competitor
	refunds     map[string]*models.Refund
	audit       []models.AuditLog

	clock func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:        make(map[string]*models.Job),
		projects:    make(map[string]*models.Project),
		keywords:    make(map[string]*models.Keyword),
		briefs:      make(map[string]*models.Brief),
		competitors: make(map[string]*models.Competitor),
		refunds:     make(map[string]*models.Refund),
		clock:       time.Now,
	}
}

// SetClock swaps the time source, letting tests steer windows and staleness.
func (s *Memory) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *Memory) now() time.Time { return s.clock().UTC() }

func (s *Memory) EnqueueJob(_ context.Context, p EnqueueParams) (models.Job, bool, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 5
	}
	if err := models.ValidatePayload(p.Type, p.Payload); err != nil {
		return models.Job{}, false, err
	}
	if p.EntityTable != "" && !validEntityTable(p.EntityTable) {
		return models.Job{}, false, fmt.Errorf("unknown entity table %q", p.EntityTable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.Type == p.Type && j.TargetID == p.TargetID && !models.JobTerminal(j.Status) {
			return *j, true, nil
		}
	}

	now := s.now()
	job := &models.Job{
		ID:          uuid.New().String(),
		Type:        p.Type,
		Status:      models.JobPending,
		ProjectID:   p.ProjectID,
		TargetID:    p.TargetID,
		Payload:     p.Payload,
		MaxAttempts: p.MaxAttempts,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[job.ID] = job

	if p.EntityTable != "" && p.OptimisticStatus != "" {
		s.setStatusLocked(p.EntityTable, p.TargetID, p.OptimisticStatus)
	}
	return *job, false, nil
}

func (s *Memory) ClaimJob(_ context.Context, workerID string) (models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var candidate *models.Job
	for _, j := range s.jobs {
		if j.Status != models.JobPending || j.NextRunAt.After(now) {
			continue
		}
		if candidate == nil || j.NextRunAt.Before(candidate.NextRunAt) ||
			(j.NextRunAt.Equal(candidate.NextRunAt) && j.CreatedAt.Before(candidate.CreatedAt)) {
			candidate = j
		}
	}
	if candidate == nil {
		return models.Job{}, false, nil
	}

	candidate.Status = models.JobProcessing
	candidate.WorkerID = &workerID
	claimed := now
	candidate.ClaimedAt = &claimed
	candidate.UpdatedAt = now
	return *candidate, true, nil
}

func (s *Memory) CompleteJob(_ context.Context, id, note string) error {
	return s.finish(id, models.JobDone, note, nil)
}

func (s *Memory) FailJob(_ context.Context, id, reason string) error {
	return s.finish(id, models.JobFailed, "", &reason)
}

func (s *Memory) finish(id, status, note string, lastErr *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.Status != models.JobProcessing {
		return fmt.Errorf("%w: %s", ErrJobTerminal, id)
	}
	j.Status = status
	if note != "" {
		j.Note = &note
	}
	j.LastError = lastErr
	j.UpdatedAt = s.now()
	return nil
}

func (s *Memory) RescheduleJob(_ context.Context, id string, attempts int, nextRun time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if j.Status != models.JobProcessing {
		return fmt.Errorf("%w: %s", ErrJobTerminal, id)
	}
	j.Status = models.JobPending
	j.Attempts = attempts
	j.NextRunAt = nextRun
	j.LastError = &reason
	j.WorkerID = nil
	j.ClaimedAt = nil
	j.UpdatedAt = s.now()
	return nil
}

func (s *Memory) GetJob(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return *j, nil
}

func (s *Memory) ListActiveJobs(_ context.Context, f ActiveJobFilter) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []models.Job
	for _, j := range s.jobs {
		if models.JobTerminal(j.Status) {
			continue
		}
		if f.ProjectID != "" && j.ProjectID != f.ProjectID {
			continue
		}
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		jobs = append(jobs, *j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
	return jobs, nil
}

func (s *Memory) SweepStale(_ context.Context, claimedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.Status == models.JobProcessing && j.ClaimedAt != nil && j.ClaimedAt.Before(claimedBefore) {
			j.Status = models.JobPending
			j.WorkerID = nil
			j.ClaimedAt = nil
			j.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *Memory) CountPublishJobsToday(_ context.Context, projectID string, now time.Time) (int, error) {
	day := now.UTC().Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, j := range s.jobs {
		if j.ProjectID == projectID && j.Type == models.JobPublish &&
			!j.CreatedAt.Before(day) && j.CreatedAt.Before(next) {
			n++
		}
	}
	return n, nil
}

func (s *Memory) QueueDepth(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, j := range s.jobs {
		if j.Status == models.JobPending {
			n++
		}
	}
	return n, nil
}

func (s *Memory) OldestPendingAge(_ context.Context, now time.Time) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest time.Time
	for _, j := range s.jobs {
		if j.Status != models.JobPending {
			continue
		}
		if oldest.IsZero() || j.CreatedAt.Before(oldest) {
			oldest = j.CreatedAt
		}
	}
	if oldest.IsZero() {
		return 0, nil
	}
	age := now.Sub(oldest)
	if age < 0 {
		age = 0
	}
	return age, nil
}

// PutProject inserts or replaces a project. Test seeding helper.
func (s *Memory) PutProject(p models.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.projects[p.ID] = &cp
}

func (s *Memory) GetProject(_ context.Context, id string) (models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[id]
	if !ok {
		return models.Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return *p, nil
}

func (s *Memory) ListAutopilotProjects(_ context.Context) ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Project
	for _, p := range s.projects {
		if p.AutopilotEnabled {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *Memory) UpdateAutopilot(_ context.Context, projectID string, enabled, paused bool, timeOfDay string, dailyLimit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	p.AutopilotEnabled = enabled
	p.Paused = paused
	p.AutopilotTime = timeOfDay
	p.DailyPublishLimit = dailyLimit
	p.UpdatedAt = s.now()
	return nil
}

func (s *Memory) SetCancelAtPeriodEnd(_ context.Context, projectID string, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	p.CancelAtPeriodEnd = v
	p.UpdatedAt = s.now()
	return nil
}

func (s *Memory) CreateKeyword(_ context.Context, k models.Keyword) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := k
	s.keywords[k.ID] = &cp
	return nil
}

func (s *Memory) GetKeyword(_ context.Context, id string) (models.Keyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keywords[id]
	if !ok {
		return models.Keyword{}, fmt.Errorf("%w: keyword %s", ErrEntityNotFound, id)
	}
	return *k, nil
}

func (s *Memory) SetKeywordResult(_ context.Context, id string, volume, difficulty int, intent string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keywords[id]
	if !ok {
		return false, nil
	}
	k.Status = models.KeywordReady
	k.Volume = volume
	k.Difficulty = difficulty
	k.Intent = intent
	k.UpdatedAt = s.now()
	return true, nil
}

func (s *Memory) CreateBrief(_ context.Context, b models.Brief) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := b
	s.briefs[b.ID] = &cp
	return nil
}

func (s *Memory) GetBrief(_ context.Context, id string) (models.Brief, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.briefs[id]
	if !ok {
		return models.Brief{}, fmt.Errorf("%w: brief %s", ErrEntityNotFound, id)
	}
	return *b, nil
}

func (s *Memory) MarkBriefPublished(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.briefs[id]
	if !ok {
		return false, nil
	}
	b.Status = models.BriefPublished
	b.PublishedAt = &at
	b.UpdatedAt = s.now()
	return true, nil
}

func (s *Memory) OldestPublishableBrief(_ context.Context, projectID string) (models.Brief, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *models.Brief
	for _, b := range s.briefs {
		if b.ProjectID != projectID || b.Status != models.BriefGenerated {
			continue
		}
		if s.hasActivePublishJobLocked(b.ID) {
			continue
		}
		if oldest == nil || b.CreatedAt.Before(oldest.CreatedAt) {
			oldest = b
		}
	}
	if oldest == nil {
		return models.Brief{}, false, nil
	}
	return *oldest, true, nil
}

func (s *Memory) hasActivePublishJobLocked(briefID string) bool {
	for _, j := range s.jobs {
		if j.Type == models.JobPublish && j.TargetID == briefID &&
			(j.Status == models.JobPending || j.Status == models.JobProcessing) {
			return true
		}
	}
	return false
}

func (s *Memory) CreateCompetitor(_ context.Context, c models.Competitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.competitors[c.ID] = &cp
	return nil
}

func (s *Memory) GetCompetitor(_ context.Context, id string) (models.Competitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.competitors[id]
	if !ok {
		return models.Competitor{}, fmt.Errorf("%w: competitor %s", ErrEntityNotFound, id)
	}
	return *c, nil
}

func (s *Memory) SetCompetitorResult(_ context.Context, id string, monthlyTraffic int64, topKeywords []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.competitors[id]
	if !ok {
		return false, nil
	}
	c.Status = models.CompetitorReady
	c.MonthlyTraffic = monthlyTraffic
	c.TopKeywords = topKeywords
	c.UpdatedAt = s.now()
	return true, nil
}

// DeleteEntity removes a row outright, simulating a user delete racing an
// in-flight job.
func (s *Memory) DeleteEntity(table, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch table {
	case models.TableKeywords:
		delete(s.keywords, id)
	case models.TableBriefs:
		delete(s.briefs, id)
	case models.TableCompetitors:
		delete(s.competitors, id)
	case models.TableRefunds:
		delete(s.refunds, id)
	}
}

func (s *Memory) UpdateEntityStatus(_ context.Context, table, id, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setStatusLocked(table, id, status), nil
}

func (s *Memory) setStatusLocked(table, id, status string) bool {
	now := s.now()
	switch table {
	case models.TableKeywords:
		if k, ok := s.keywords[id]; ok {
			k.Status = status
			k.UpdatedAt = now
			return true
		}
	case models.TableBriefs:
		if b, ok := s.briefs[id]; ok {
			b.Status = status
			b.UpdatedAt = now
			return true
		}
	case models.TableCompetitors:
		if c, ok := s.competitors[id]; ok {
			c.Status = status
			c.UpdatedAt = now
			return true
		}
	case models.TableRefunds:
		if r, ok := s.refunds[id]; ok {
			r.Status = status
			r.UpdatedAt = now
			return true
		}
	}
	return false
}

func (s *Memory) GetEntityStatus(_ context.Context, table, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch table {
	case models.TableKeywords:
		if k, ok := s.keywords[id]; ok {
			return k.Status, true, nil
		}
	case models.TableBriefs:
		if b, ok := s.briefs[id]; ok {
			return b.Status, true, nil
		}
	case models.TableCompetitors:
		if c, ok := s.competitors[id]; ok {
			return c.Status, true, nil
		}
	case models.TableRefunds:
		if r, ok := s.refunds[id]; ok {
			return r.Status, true, nil
		}
	}
	return "", false, nil
}

func (s *Memory) ListEntityStatuses(_ context.Context, table, projectID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string)
	switch table {
	case models.TableKeywords:
		for id, k := range s.keywords {
			if k.ProjectID == projectID {
				out[id] = k.Status
			}
		}
	case models.TableBriefs:
		for id, b := range s.briefs {
			if b.ProjectID == projectID {
				out[id] = b.Status
			}
		}
	case models.TableCompetitors:
		for id, c := range s.competitors {
			if c.ProjectID == projectID {
				out[id] = c.Status
			}
		}
	case models.TableRefunds:
		for id, r := range s.refunds {
			if r.ProjectID == projectID {
				out[id] = r.Status
			}
		}
	}
	return out, nil
}

func (s *Memory) CreateRefund(_ context.Context, r models.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.refunds {
		if existing.PaymentRef == r.PaymentRef {
			return fmt.Errorf("%w: %s", ErrDuplicateRefund, r.PaymentRef)
		}
	}
	cp := r
	s.refunds[r.ID] = &cp
	return nil
}

func (s *Memory) GetRefund(_ context.Context, id string) (models.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.refunds[id]
	if !ok {
		return models.Refund{}, fmt.Errorf("%w: refund %s", ErrEntityNotFound, id)
	}
	return *r, nil
}

func (s *Memory) GetRefundByPaymentRef(_ context.Context, paymentRef string) (models.Refund, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.refunds {
		if r.PaymentRef == paymentRef {
			return *r, true, nil
		}
	}
	return models.Refund{}, false, nil
}

func (s *Memory) SetRefundStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.refunds[id]
	if !ok {
		return fmt.Errorf("%w: refund %s", ErrEntityNotFound, id)
	}
	r.Status = status
	r.UpdatedAt = s.now()
	return nil
}

func (s *Memory) AppendAudit(_ context.Context, refID, event, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, models.AuditLog{RefID: refID, Event: event, Detail: detail, Recorded: s.now()})
	return nil
}

// AuditEntries returns a copy of the audit trail for assertions.
func (s *Memory) AuditEntries() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AuditLog, len(s.audit))
	copy(out, s.audit)
	return out
}
