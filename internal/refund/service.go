// Package refund implements the financially critical request path: a strict
// eligibility window, one refund per payment reference, and an amount that
// comes from the payment verifier rather than the caller.
package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"content-orchestrator/internal/external"
	"content-orchestrator/internal/models"
	"content-orchestrator/internal/notify"
	"content-orchestrator/internal/store"
)

// EligibilityWindow bounds how long after subscription or trial start a
// refund may be requested.
const EligibilityWindow = 7 * 24 * time.Hour

// ErrWindowExpired rejects requests outside the eligibility window.
var ErrWindowExpired = errors.New("refund window expired")

// Service coordinates refund creation.
type Service struct {
	store    store.Store
	payments external.PaymentVerifier
	notifier notify.Publisher
	clock    func() time.Time
}

// NewService wires the refund workflow.
func NewService(st store.Store, payments external.PaymentVerifier, notifier notify.Publisher) *Service {
	return &Service{store: st, payments: payments, notifier: notifier, clock: time.Now}
}

// SetClock swaps the time source for tests.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// Request creates a refund for the payment reference, or returns the
// existing one. The second return reports whether the refund already
// existed. A verifier outage fails the request; the amount is never guessed.
func (s *Service) Request(ctx context.Context, projectID, paymentRef, reason string) (models.Refund, bool, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return models.Refund{}, false, err
	}

	start := project.SubscriptionStart
	if project.TrialStart.After(start) {
		start = project.TrialStart
	}
	now := s.clock().UTC()
	if now.Sub(start) > EligibilityWindow {
		return models.Refund{}, false, fmt.Errorf("%w: started %s", ErrWindowExpired, start.Format(time.RFC3339))
	}

	if existing, found, err := s.store.GetRefundByPaymentRef(ctx, paymentRef); err != nil {
		return models.Refund{}, false, err
	} else if found {
		return existing, true, nil
	}

	info, err := s.payments.Verify(ctx, paymentRef)
	if err != nil {
		return models.Refund{}, false, fmt.Errorf("verify payment: %w", err)
	}

	r := models.Refund{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		PaymentRef:  paymentRef,
		Status:      models.RefundPending,
		AmountCents: info.AmountCents,
		Currency:    info.Currency,
		Reason:      reason,
		CreatedAt:   now,
	}
	if err := s.store.CreateRefund(ctx, r); err != nil {
		if errors.Is(err, store.ErrDuplicateRefund) {
			// Lost a concurrent race; hand back the winner's record.
			existing, found, ferr := s.store.GetRefundByPaymentRef(ctx, paymentRef)
			if ferr != nil {
				return models.Refund{}, false, ferr
			}
			if found {
				return existing, true, nil
			}
		}
		return models.Refund{}, false, err
	}

	payload, err := models.EncodePayload(models.RequestRefundPayload{
		RefundID:   r.ID,
		PaymentRef: paymentRef,
	})
	if err != nil {
		return models.Refund{}, false, err
	}
	if _, _, err := s.store.EnqueueJob(ctx, store.EnqueueParams{
		Type:      models.JobRequestRefund,
		ProjectID: projectID,
		TargetID:  r.ID,
		Payload:   payload,
	}); err != nil {
		return models.Refund{}, false, err
	}

	// Service continues until manual review resolves the refund.
	if err := s.store.SetCancelAtPeriodEnd(ctx, projectID, true); err != nil {
		log.Error().Err(err).Str("project_id", projectID).Msg("cancel_at_period_end flag failed")
	}
	_ = s.store.AppendAudit(ctx, r.ID, "refund_requested",
		fmt.Sprintf("payment_ref=%s amount_cents=%d %s", paymentRef, r.AmountCents, r.Currency))

	if s.notifier != nil {
		_ = s.notifier.Publish(ctx, notify.Event{
			Event:     notify.EventInsert,
			Table:     models.TableRefunds,
			ProjectID: projectID,
			EntityID:  r.ID,
			Status:    r.Status,
		})
	}
	return r, false, nil
}
