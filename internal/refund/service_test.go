package refund

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"content-orchestrator/internal/external"
	"content-orchestrator/internal/models"
	"content-orchestrator/internal/store"
)

type fakeVerifier struct {
	info  external.PaymentInfo
	err   error
	calls int
}

func (f *fakeVerifier) Verify(context.Context, string) (external.PaymentInfo, error) {
	f.calls++
	return f.info, f.err
}

func newTestService(t *testing.T, now, subscribed time.Time) (*Service, *store.Memory, *fakeVerifier) {
	t.Helper()
	s := store.NewMemory()
	s.SetClock(func() time.Time { return now })
	s.PutProject(models.Project{
		ID:                "p1",
		SubscriptionStart: subscribed,
	})
	verifier := &fakeVerifier{info: external.PaymentInfo{Status: "paid", AmountCents: 2900, Currency: "usd"}}
	svc := NewService(s, verifier, nil)
	svc.SetClock(func() time.Time { return now })
	return svc, s, verifier
}

func TestRequestWithinWindowCreatesRefundAndJob(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, s, _ := newTestService(t, now, now.Add(-3*24*time.Hour))

	r, existed, err := svc.Request(ctx, "p1", "pay_1", "changed my mind")
	require.NoError(t, err)
	require.False(t, existed)
	require.Equal(t, models.RefundPending, r.Status)

	// Amount comes from the verifier, never the caller.
	require.Equal(t, int64(2900), r.AmountCents)
	require.Equal(t, "usd", r.Currency)

	jobs, err := s.ListActiveJobs(ctx, store.ActiveJobFilter{Type: models.JobRequestRefund})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, r.ID, jobs[0].TargetID)

	p, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	require.True(t, p.CancelAtPeriodEnd)
}

func TestRequestOnDayEightRejectedWithoutRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, s, verifier := newTestService(t, now, now.Add(-8*24*time.Hour))

	_, _, err := svc.Request(ctx, "p1", "pay_1", "")
	require.ErrorIs(t, err, ErrWindowExpired)
	require.Zero(t, verifier.calls)

	_, found, err := s.GetRefundByPaymentRef(ctx, "pay_1")
	require.NoError(t, err)
	require.False(t, found)

	p, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	require.False(t, p.CancelAtPeriodEnd)
}

func TestTrialStartExtendsWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, s, _ := newTestService(t, now, now.Add(-30*24*time.Hour))
	s.PutProject(models.Project{
		ID:                "p1",
		SubscriptionStart: now.Add(-30 * 24 * time.Hour),
		TrialStart:        now.Add(-2 * 24 * time.Hour),
	})

	_, existed, err := svc.Request(ctx, "p1", "pay_1", "")
	require.NoError(t, err)
	require.False(t, existed)
}

func TestDuplicatePaymentRefReturnsFirstRefund(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, s, verifier := newTestService(t, now, now.Add(-time.Hour))

	first, existed, err := svc.Request(ctx, "p1", "pay_1", "")
	require.NoError(t, err)
	require.False(t, existed)

	second, existed, err := svc.Request(ctx, "p1", "pay_1", "")
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, first.ID, second.ID)

	// The duplicate never re-verifies or re-enqueues.
	require.Equal(t, 1, verifier.calls)
	jobs, err := s.ListActiveJobs(ctx, store.ActiveJobFilter{Type: models.JobRequestRefund})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestVerifierOutageFailsRequest(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, s, verifier := newTestService(t, now, now.Add(-time.Hour))
	verifier.err = errors.New("payments unreachable")

	_, _, err := svc.Request(ctx, "p1", "pay_1", "")
	require.Error(t, err)

	// Nothing was written; a later retry starts clean.
	_, found, err := s.GetRefundByPaymentRef(ctx, "pay_1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestUnknownProjectRejected(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, _, _ := newTestService(t, now, now)

	_, _, err := svc.Request(ctx, "missing", "pay_1", "")
	require.ErrorIs(t, err, store.ErrProjectNotFound)
}
