package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"content-orchestrator/internal/models"
	"content-orchestrator/internal/notify"
	"content-orchestrator/internal/store"
)

func seedKeyword(t *testing.T, s *store.Memory, id, status string) {
	t.Helper()
	require.NoError(t, s.CreateKeyword(context.Background(), models.Keyword{
		ID:        id,
		ProjectID: "p1",
		Term:      "term " + id,
		Status:    status,
	}))
}

func TestConfirmedEventOverwritesOptimistic(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedKeyword(t, s, "kw1", models.KeywordAnalyzing)

	c := New("p1", s, time.Hour, []string{models.TableKeywords})
	c.ApplyOptimistic(ctx, models.TableKeywords, "kw1", models.KeywordAnalyzing)

	rec, ok := c.Record(models.TableKeywords, "kw1")
	require.True(t, ok)
	require.Equal(t, Optimistic, rec.Origin)

	c.HandleEvent(notify.Event{
		Event:     notify.EventUpdate,
		Table:     models.TableKeywords,
		ProjectID: "p1",
		EntityID:  "kw1",
		Status:    models.KeywordReady,
	})

	rec, ok = c.Record(models.TableKeywords, "kw1")
	require.True(t, ok)
	require.Equal(t, Confirmed, rec.Origin)
	require.Equal(t, models.KeywordReady, rec.Status)
}

func TestDelayedPollCorrectsDroppedPush(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	// The worker already finished; its push event never arrived.
	seedKeyword(t, s, "kw1", models.KeywordReady)

	c := New("p1", s, 5*time.Millisecond, []string{models.TableKeywords})
	c.ApplyOptimistic(ctx, models.TableKeywords, "kw1", models.KeywordAnalyzing)
	c.Wait()

	rec, ok := c.Record(models.TableKeywords, "kw1")
	require.True(t, ok)
	require.Equal(t, Confirmed, rec.Origin)
	require.Equal(t, models.KeywordReady, rec.Status)
}

func TestPollDropsDeletedEntity(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()

	c := New("p1", s, 5*time.Millisecond, []string{models.TableKeywords})
	c.ApplyOptimistic(ctx, models.TableKeywords, "ghost", models.KeywordAnalyzing)
	c.Wait()

	_, ok := c.Status(models.TableKeywords, "ghost")
	require.False(t, ok)
}

func TestEventsForOtherProjectsIgnored(t *testing.T) {
	s := store.NewMemory()
	c := New("p1", s, time.Hour, []string{models.TableKeywords})

	c.HandleEvent(notify.Event{
		Event:     notify.EventUpdate,
		Table:     models.TableKeywords,
		ProjectID: "p2",
		EntityID:  "kw1",
		Status:    models.KeywordReady,
	})

	_, ok := c.Status(models.TableKeywords, "kw1")
	require.False(t, ok)
}

func TestConsumeResyncsOnStreamClose(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedKeyword(t, s, "kw1", models.KeywordReady)
	seedKeyword(t, s, "kw2", models.KeywordFailed)

	c := New("p1", s, time.Hour, []string{models.TableKeywords})

	events := make(chan notify.Event)
	errs := make(chan error, 1)
	close(events)
	c.Consume(ctx, events, errs)

	status, ok := c.Status(models.TableKeywords, "kw1")
	require.True(t, ok)
	require.Equal(t, models.KeywordReady, status)
	status, ok = c.Status(models.TableKeywords, "kw2")
	require.True(t, ok)
	require.Equal(t, models.KeywordFailed, status)
}

func TestConsumeResyncsOnStreamError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := store.NewMemory()
	seedKeyword(t, s, "kw1", models.KeywordReady)

	c := New("p1", s, time.Hour, []string{models.TableKeywords})

	events := make(chan notify.Event)
	errs := make(chan error, 1)
	errs <- context.DeadlineExceeded

	done := make(chan struct{})
	go func() {
		c.Consume(ctx, events, errs)
		close(done)
	}()

	require.Eventually(t, func() bool {
		status, ok := c.Status(models.TableKeywords, "kw1")
		return ok && status == models.KeywordReady
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
