package models

import (
	"time"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobDone       = "done"
	JobFailed     = "failed"
)

// JobType enumerates the kinds of asynchronous work the pool executes.
const (
	JobAnalyzeKeyword    = "analyze_keyword"
	JobGenerateBrief     = "generate_brief"
	JobAnalyzeCompetitor = "analyze_competitor"
	JobPublish           = "publish"
	JobRequestRefund     = "request_refund"
)

// JobTerminal reports whether a status admits no further transitions.
func JobTerminal(status string) bool {
	return status == JobDone || status == JobFailed
}

// KnownJobType reports whether a handler exists for the given type.
func KnownJobType(t string) bool {
	switch t {
	case JobAnalyzeKeyword, JobGenerateBrief, JobAnalyzeCompetitor, JobPublish, JobRequestRefund:
		return true
	}
	return false
}

// Job is a durable unit of asynchronous work. The payload is immutable after
// enqueue; TargetID together with Type forms the dedupe key while the job is
// active (pending or processing).
type Job struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	ProjectID   string     `json:"project_id"`
	TargetID    string     `json:"target_id"`
	Payload     []byte     `json:"payload"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   *string    `json:"last_error,omitempty"`
	Note        *string    `json:"note,omitempty"`
	WorkerID    *string    `json:"worker_id,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	NextRunAt   time.Time  `json:"next_run_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AuditLog is an append-only audit event row.
type AuditLog struct {
	RefID    string    `json:"ref_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
