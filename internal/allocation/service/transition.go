package service

import (
	"context"
	"fmt"

	"organlink/internal/allocation/chain"
	"organlink/internal/allocation/models"
	dErrors "organlink/pkg/domain-errors"
)

// plan is everything one use case writes, computed from a fresh read with
// no locks held. Entities are modified copies carrying the revision they were
// read at.
type plan struct {
	lockKey    string
	allocation *models.Allocation
	organ      *models.Organ
	request    *models.Request
	consent    *models.Consent
	// statuses to append to the allocation's audit history, in order
	audit         []models.AllocationStatus
	notifications []models.Notification
}

// runWithRetry runs attempt, and once more if it lost a revision race.
func (s *Service) runWithRetry(ctx context.Context, op string, attempt func(ctx context.Context) error) error {
	err := attempt(ctx)
	if err != nil && dErrors.HasCode(err, dErrors.CodeConflict) {
		s.metrics.IncrementConflictRetries()
		s.logger.InfoContext(ctx, "revision conflict, retrying once", "operation", op)
		err = attempt(ctx)
	}
	return err
}

// execute drives a state-changing use case: build validates and prepares the
// writes, the audit entries are anchored outside any lock, then everything is
// written in one transaction under the per-key lock. Notifications go out
// only after commit.
func (s *Service) execute(ctx context.Context, op string, build func(ctx context.Context) (*plan, error)) (*plan, error) {
	var committed *plan
	err := s.observe(ctx, op, func(ctx context.Context) error {
		return s.runWithRetry(ctx, op, func(ctx context.Context) error {
			p, err := build(ctx)
			if err != nil {
				return err
			}
			s.anchor(ctx, p)
			if err := s.commit(ctx, p); err != nil {
				return err
			}
			committed = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, committed.notifications)
	return committed, nil
}

func (s *Service) anchor(ctx context.Context, p *plan) {
	if p.allocation == nil {
		return
	}
	for _, status := range p.audit {
		entry := chain.Append(p.allocation.ID, p.allocation.BlockchainHistory, status, s.now(ctx))
		entry.ExternalTxRef = s.recorder.Record(ctx, entry.Hash)
		p.allocation.AppendAudit(entry)
	}
}

func (s *Service) commit(ctx context.Context, p *plan) error {
	if err := checkPlan(p); err != nil {
		return err
	}
	release, err := s.locks.acquire(ctx, p.lockKey)
	if err != nil {
		return err
	}
	defer release()

	return s.store.RunInTx(ctx, func(txCtx context.Context) error {
		if p.consent != nil {
			if err := s.store.SaveConsent(txCtx, p.consent); err != nil {
				return wrapStoreErr(err, "consent")
			}
		}
		if p.organ != nil {
			if err := s.store.SaveOrgan(txCtx, p.organ); err != nil {
				return wrapStoreErr(err, "organ")
			}
		}
		if p.request != nil {
			if err := s.store.SaveRequest(txCtx, p.request); err != nil {
				return wrapStoreErr(err, "request")
			}
		}
		if p.allocation != nil {
			if err := s.store.SaveAllocation(txCtx, p.allocation); err != nil {
				return wrapStoreErr(err, "allocation")
			}
		}
		return nil
	})
}

// checkPlan asserts the cross-entity invariants before anything is written.
func checkPlan(p *plan) error {
	if p.request != nil {
		if err := p.request.CheckCoupling(); err != nil {
			return err
		}
	}
	a := p.allocation
	if a == nil {
		return nil
	}
	last, ok := a.LastEntry()
	if !ok {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("allocation %s has no audit history", a.ID))
	}
	if last.Status != a.Status {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("allocation %s is %s but last audit entry is %s", a.ID, a.Status, last.Status))
	}
	if a.LastBlockchainHash != last.Hash {
		return dErrors.New(dErrors.CodeInvariantViolation, fmt.Sprintf("allocation %s head hash mismatch", a.ID))
	}
	return nil
}
