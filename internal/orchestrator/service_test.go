package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"content-orchestrator/internal/models"
	"content-orchestrator/internal/store"
)

func TestAnalyzeKeywordCreatesEntityAndJob(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	svc := New(s, nil)

	k, job, err := svc.AnalyzeKeyword(ctx, "p1", "running socks")
	require.NoError(t, err)
	require.Equal(t, models.KeywordAnalyzing, k.Status)
	require.Equal(t, models.JobAnalyzeKeyword, job.Type)
	require.Equal(t, k.ID, job.TargetID)

	stored, err := s.GetKeyword(ctx, k.ID)
	require.NoError(t, err)
	require.Equal(t, models.KeywordAnalyzing, stored.Status)
}

func TestRequestBriefOnlyForReadyKeywords(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	svc := New(s, nil)

	require.NoError(t, s.CreateKeyword(ctx, models.Keyword{
		ID: "kw1", ProjectID: "p1", Term: "running socks", Status: models.KeywordAnalyzing,
	}))
	_, err := svc.RequestBrief(ctx, "kw1")
	require.ErrorIs(t, err, ErrNotReady)

	_, err = s.UpdateEntityStatus(ctx, models.TableKeywords, "kw1", models.KeywordReady)
	require.NoError(t, err)

	job, err := svc.RequestBrief(ctx, "kw1")
	require.NoError(t, err)
	require.Equal(t, models.JobGenerateBrief, job.Type)

	// The optimistic transition back to analyzing blocks repeat requests.
	_, err = svc.RequestBrief(ctx, "kw1")
	require.ErrorIs(t, err, ErrNotReady)
}

func TestAnalyzeCompetitorCreatesEntityAndJob(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	svc := New(s, nil)

	c, job, err := svc.AnalyzeCompetitor(ctx, "p1", "rival.example")
	require.NoError(t, err)
	require.Equal(t, models.CompetitorAnalyzing, c.Status)
	require.Equal(t, models.JobAnalyzeCompetitor, job.Type)

	_, _, err = svc.AnalyzeCompetitor(ctx, "p1", "")
	require.Error(t, err)
}
