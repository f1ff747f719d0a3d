package models

import (
	"time"
)

// Keyword statuses. A keyword re-enters "analyzing" only through an explicit
// generate-brief action, which terminates in "generated".
const (
	KeywordQueued    = "queued"
	KeywordAnalyzing = "analyzing"
	KeywordReady     = "ready"
	KeywordFailed    = "failed"
	KeywordGenerated = "generated"
)

// Brief statuses. "published" is terminal for a publish pass.
const (
	BriefDraft     = "draft"
	BriefGenerated = "generated"
	BriefPublished = "published"
)

// Competitor statuses.
const (
	CompetitorQueued    = "queued"
	CompetitorAnalyzing = "analyzing"
	CompetitorReady     = "ready"
	CompetitorFailed    = "failed"
)

// Refund statuses.
const (
	RefundPending    = "pending"
	RefundProcessing = "processing"
	RefundSuccess    = "success"
	RefundFailed     = "failed"
)

// Entity table names, used for push-event scoping and generic status writes.
const (
	TableKeywords    = "keywords"
	TableBriefs      = "briefs"
	TableCompetitors = "competitors"
	TableRefunds     = "refunds"
)

// TransientEntityStatus reports whether a status indicates in-flight work.
// No entity may remain in one of these once its owning job is terminal.
func TransientEntityStatus(status string) bool {
	return status == KeywordAnalyzing || status == RefundProcessing
}

// Project holds the autopilot settings the scheduler reads every cadence.
// DailyPublishLimit of zero means unlimited.
type Project struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Name              string    `json:"name"`
	SiteURL           string    `json:"site_url"`
	AutopilotEnabled  bool      `json:"autopilot_enabled"`
	Paused            bool      `json:"paused"`
	AutopilotTime     string    `json:"autopilot_time"` // "HH:MM", UTC
	DailyPublishLimit int       `json:"daily_publish_limit"`
	SubscriptionStart time.Time `json:"subscription_start_at"`
	TrialStart        time.Time `json:"trial_start_at"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Keyword is a researched search term and its analysis result.
type Keyword struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	Term       string    `json:"term"`
	Status     string    `json:"status"`
	Volume     int       `json:"volume"`
	Difficulty int       `json:"difficulty"`
	Intent     string    `json:"intent"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Brief is a generated content brief for a keyword.
type Brief struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	KeywordID   string    `json:"keyword_id"`
	Title       string    `json:"title"`
	Outline     string    `json:"outline"`
	ContentKey  string    `json:"content_key"` // archive object key for the generated body
	Status      string    `json:"status"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Competitor is a tracked competing domain and its traffic estimate.
type Competitor struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Domain         string    `json:"domain"`
	Status         string    `json:"status"`
	MonthlyTraffic int64     `json:"monthly_traffic"`
	TopKeywords    []string  `json:"top_keywords"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Refund is keyed 1:1 by the underlying payment reference. The amount is
// fetched from the payment verifier at creation and immutable afterwards.
type Refund struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	PaymentRef string    `json:"payment_ref"`
	Status     string    `json:"status"`
	AmountCents int64    `json:"amount_cents"`
	Currency   string    `json:"currency"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
