package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"content-orchestrator/internal/config"
	"content-orchestrator/internal/models"
	"content-orchestrator/internal/store"
)

func testAutopilot(t *testing.T, now time.Time) (*Autopilot, *store.Memory) {
	t.Helper()
	s := store.NewMemory()
	s.SetClock(func() time.Time { return now })
	a := New(config.Config{MaxAttempts: 5}, s)
	a.SetClock(func() time.Time { return now })
	return a, s
}

func seedProject(s *store.Memory, id string, limit int) {
	s.PutProject(models.Project{
		ID:                id,
		AutopilotEnabled:  true,
		AutopilotTime:     "09:00",
		DailyPublishLimit: limit,
	})
}

func seedBrief(t *testing.T, s *store.Memory, id, projectID string, created time.Time) {
	t.Helper()
	require.NoError(t, s.CreateBrief(context.Background(), models.Brief{
		ID:        id,
		ProjectID: projectID,
		Title:     "brief " + id,
		Status:    models.BriefGenerated,
		CreatedAt: created,
	}))
}

func publishJobs(t *testing.T, s *store.Memory, projectID string) []models.Job {
	t.Helper()
	jobs, err := s.ListActiveJobs(context.Background(), store.ActiveJobFilter{
		ProjectID: projectID,
		Type:      models.JobPublish,
	})
	require.NoError(t, err)
	return jobs
}

func TestRunOncePublishesOldestBriefFirst(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a, s := testAutopilot(t, now)

	seedProject(s, "p1", 0)
	seedBrief(t, s, "older", "p1", now.Add(-2*time.Hour))
	seedBrief(t, s, "newer", "p1", now.Add(-time.Hour))

	require.NoError(t, a.RunOnce(ctx))

	jobs := publishJobs(t, s, "p1")
	require.Len(t, jobs, 1)
	require.Equal(t, "older", jobs[0].TargetID)
}

func TestRunCeilingCapsUnlimitedProjects(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := store.NewMemory()
	s.SetClock(func() time.Time { return now })
	a := New(config.Config{MaxAttempts: 5, PublishRunCeiling: 2}, s)
	a.SetClock(func() time.Time { return now })

	seedProject(s, "p1", 0)
	seedBrief(t, s, "b1", "p1", now.Add(-3*time.Hour))
	seedBrief(t, s, "b2", "p1", now.Add(-2*time.Hour))
	seedBrief(t, s, "b3", "p1", now.Add(-time.Hour))

	require.NoError(t, a.RunOnce(ctx))

	jobs := publishJobs(t, s, "p1")
	require.Len(t, jobs, 2)
	targets := []string{jobs[0].TargetID, jobs[1].TargetID}
	require.ElementsMatch(t, []string{"b1", "b2"}, targets)
}

func TestRunOnceIsIdempotentWhileJobActive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a, s := testAutopilot(t, now)

	seedProject(s, "p1", 0)
	seedBrief(t, s, "b1", "p1", now.Add(-time.Hour))

	// A scheduler restart re-evaluates from the store; the active publish
	// job absorbs the duplicate.
	require.NoError(t, a.RunOnce(ctx))
	require.NoError(t, a.RunOnce(ctx))

	require.Len(t, publishJobs(t, s, "p1"), 1)
}

func TestDailyLimitCapsEnqueues(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a, s := testAutopilot(t, now)

	seedProject(s, "p1", 1)
	seedBrief(t, s, "b1", "p1", now.Add(-2*time.Hour))
	seedBrief(t, s, "b2", "p1", now.Add(-time.Hour))

	require.NoError(t, a.RunOnce(ctx))
	require.Len(t, publishJobs(t, s, "p1"), 1)

	// Even after the first brief publishes, today's quota is spent.
	claimed, ok, err := s.ClaimJob(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.CompleteJob(ctx, claimed.ID, ""))
	_, err = s.MarkBriefPublished(ctx, "b1", now)
	require.NoError(t, err)

	require.NoError(t, a.RunOnce(ctx))
	require.Empty(t, publishJobs(t, s, "p1"))

	// The next UTC day reopens the window for the second brief.
	tomorrow := now.Add(24 * time.Hour)
	a.SetClock(func() time.Time { return tomorrow })
	s.SetClock(func() time.Time { return tomorrow })
	require.NoError(t, a.RunOnce(ctx))

	jobs := publishJobs(t, s, "p1")
	require.Len(t, jobs, 1)
	require.Equal(t, "b2", jobs[0].TargetID)
}

func TestPausedProjectIsSkipped(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a, s := testAutopilot(t, now)

	s.PutProject(models.Project{
		ID:               "p1",
		AutopilotEnabled: true,
		Paused:           true,
		AutopilotTime:    "09:00",
	})
	seedBrief(t, s, "b1", "p1", now.Add(-time.Hour))

	require.NoError(t, a.RunOnce(ctx))
	require.Empty(t, publishJobs(t, s, "p1"))
}

func TestWindowNotYetPassed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	a, s := testAutopilot(t, now)

	seedProject(s, "p1", 0)
	seedBrief(t, s, "b1", "p1", now.Add(-time.Hour))

	require.NoError(t, a.RunOnce(ctx))
	require.Empty(t, publishJobs(t, s, "p1"))

	// Once the configured time of day passes, the brief goes out.
	later := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return later })
	s.SetClock(func() time.Time { return later })
	require.NoError(t, a.RunOnce(ctx))
	require.Len(t, publishJobs(t, s, "p1"), 1)
}

func TestNoPublishableBriefsNoJob(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a, s := testAutopilot(t, now)

	seedProject(s, "p1", 0)
	require.NoError(t, s.CreateBrief(ctx, models.Brief{
		ID: "b1", ProjectID: "p1", Status: models.BriefDraft, CreatedAt: now.Add(-time.Hour),
	}))

	require.NoError(t, a.RunOnce(ctx))
	require.Empty(t, publishJobs(t, s, "p1"))
}

func TestParseTimeOfDay(t *testing.T) {
	cases := []struct {
		in     string
		hour   int
		minute int
	}{
		{"09:30", 9, 30},
		{"23:59", 23, 59},
		{"0:05", 0, 5},
		{"", 0, 0},
		{"garbage", 0, 0},
		{"25:00", 0, 0},
	}
	for _, tc := range cases {
		h, m := parseTimeOfDay(tc.in)
		require.Equal(t, tc.hour, h, "hour for %q", tc.in)
		require.Equal(t, tc.minute, m, "minute for %q", tc.in)
	}
}
