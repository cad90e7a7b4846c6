package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"organlink/internal/allocation/models"
	"organlink/internal/allocation/statemachine"
	id "organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

// Notification kinds.
const (
	KindOfferReceived     = "OFFER_RECEIVED"
	KindOfferConfirmed    = "OFFER_CONFIRMED"
	KindOfferRejected     = "OFFER_REJECTED"
	KindAllocationDone    = "ALLOCATION_COMPLETED"
	KindAllocationFailed  = "ALLOCATION_FAILED"
	KindDonorAccepted     = "DONOR_ACCEPTED"
	maxFailureReasonBytes = 1000
)

// OfferOrgan reserves an available organ for the actor's hospital, optionally
// against one of that hospital's waiting requests, and asks the donor to
// confirm. A targeted organ must have the request's type and blood group.
func (s *Service) OfferOrgan(ctx context.Context, organID id.OrganID, requestID *id.RequestID, actorID id.UserID) (*models.Allocation, error) {
	p, err := s.execute(ctx, "offer", func(ctx context.Context) (*plan, error) {
		organ, err := s.store.FindOrgan(ctx, organID)
		if err != nil {
			return nil, wrapStoreErr(err, "organ")
		}
		if err := organ.CanReserve(); err != nil {
			return nil, err
		}
		if err := s.requireVerifiedConsent(ctx, organ); err != nil {
			return nil, err
		}
		actor, err := s.loadActor(ctx, actorID)
		if err != nil {
			return nil, err
		}
		if actor.Role != models.RoleClinician && actor.Role != models.RoleAdmin {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "only clinicians and admins can offer organs")
		}
		if !actor.IsAffiliated() {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "actor must be associated with a hospital")
		}
		hospital := *actor.HospitalID

		var request *models.Request
		var boundRequest *id.RequestID
		if requestID != nil {
			request, err = s.store.FindRequest(ctx, *requestID)
			if err != nil {
				return nil, wrapStoreErr(err, "request")
			}
			if request.HospitalID != hospital {
				return nil, dErrors.New(dErrors.CodeUnauthorized, "request belongs to another hospital")
			}
			if err := request.CanReserve(); err != nil {
				return nil, err
			}
			if organ.OrganType != request.OrganType || organ.BloodGroup != request.BloodGroup {
				return nil, dErrors.New(dErrors.CodeInvalidState, "organ does not match the request's organ type and blood group")
			}
			rid := request.ID
			boundRequest = &rid
		}

		now := s.now(ctx)
		allocation := models.NewAllocation(id.NewAllocationID(), organ.ID, boundRequest, hospital, now)
		organ.ApplyReserve(allocation.ID, now)
		if request != nil {
			request.ApplyPending(allocation.ID, now)
		}
		return &plan{
			lockKey:    organ.ID.String(),
			allocation: allocation,
			organ:      organ,
			request:    request,
			audit:      []models.AllocationStatus{models.AllocationPendingConfirmation},
			notifications: []models.Notification{{
				UserID:       organ.DonorID,
				AllocationID: allocation.ID,
				Kind:         KindOfferReceived,
				Message:      fmt.Sprintf("Your %s donation has been offered to a hospital. Please confirm or reject.", strings.ToLower(string(organ.OrganType))),
				CreatedAt:    now,
			}},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "allocation_offered",
		"allocation_id", p.allocation.ID.String(),
		"organ_id", p.organ.ID.String(),
		"actor_id", actorID.String(),
	)
	return p.allocation, nil
}

// DonorConfirm accepts a pending offer on the donor's behalf.
func (s *Service) DonorConfirm(ctx context.Context, allocationID id.AllocationID, donorID id.UserID) (*models.Allocation, error) {
	p, err := s.execute(ctx, "donor_confirm", func(ctx context.Context) (*plan, error) {
		b, err := s.loadForDonor(ctx, allocationID, donorID, models.AllocationMatched)
		if err != nil {
			return nil, err
		}
		now := s.now(ctx)
		b.allocation.ApplyStatus(models.AllocationMatched, now)
		b.organ.ApplyAllocate(now)
		if b.request != nil {
			b.request.ApplyMatched(now)
		}
		return b.plan(models.AllocationMatched, b.clinicianNotice(KindOfferConfirmed, "The donor confirmed the organ offer.", now)), nil
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "allocation_confirmed", "allocation_id", allocationID.String(), "donor_id", donorID.String())
	return p.allocation, nil
}

// DonorReject declines a pending offer and returns the organ and request to
// their pools.
func (s *Service) DonorReject(ctx context.Context, allocationID id.AllocationID, donorID id.UserID) (*models.Allocation, error) {
	p, err := s.execute(ctx, "donor_reject", func(ctx context.Context) (*plan, error) {
		b, err := s.loadForDonor(ctx, allocationID, donorID, models.AllocationRejected)
		if err != nil {
			return nil, err
		}
		now := s.now(ctx)
		b.allocation.ApplyStatus(models.AllocationRejected, now)
		b.organ.ApplyRelease(now)
		if b.request != nil {
			b.request.ApplyReopen(now)
		}
		return b.plan(models.AllocationRejected, b.clinicianNotice(KindOfferRejected, "The donor declined the organ offer. The request is waiting again.", now)), nil
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "allocation_rejected", "allocation_id", allocationID.String(), "donor_id", donorID.String())
	return p.allocation, nil
}

// CompleteAllocation records the transplant. Only a clinician of the
// allocation's hospital may complete it.
func (s *Service) CompleteAllocation(ctx context.Context, allocationID id.AllocationID, clinicianID id.UserID) (*models.Allocation, error) {
	p, err := s.execute(ctx, "complete", func(ctx context.Context) (*plan, error) {
		b, err := s.loadForClinician(ctx, allocationID, clinicianID, models.AllocationCompleted)
		if err != nil {
			return nil, err
		}
		now := s.now(ctx)
		b.allocation.ApplyCompletion(clinicianID, now)
		b.organ.ApplyTransplant(now)
		if b.request != nil {
			b.request.ApplyTransplanted(now)
		}
		return b.plan(models.AllocationCompleted, b.donorNotice(KindAllocationDone, "The transplant using your donation has been completed. Thank you.", now)), nil
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "allocation_completed", "allocation_id", allocationID.String(), "clinician_id", clinicianID.String())
	return p.allocation, nil
}

// FailAllocation abandons an allocation with a reason and returns the organ
// and request to their pools.
func (s *Service) FailAllocation(ctx context.Context, allocationID id.AllocationID, clinicianID id.UserID, reason string) (*models.Allocation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "failure reason is required")
	}
	if len(reason) > maxFailureReasonBytes {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "failure reason too long")
	}
	p, err := s.execute(ctx, "fail", func(ctx context.Context) (*plan, error) {
		b, err := s.loadForClinician(ctx, allocationID, clinicianID, models.AllocationFailed)
		if err != nil {
			return nil, err
		}
		now := s.now(ctx)
		b.allocation.ApplyFailure(reason, now)
		b.organ.ApplyRelease(now)
		if b.request != nil {
			b.request.ApplyReopen(now)
		}
		return b.plan(models.AllocationFailed, b.donorNotice(KindAllocationFailed, "The allocation of your donation failed: "+reason, now)), nil
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "allocation_failed",
		"allocation_id", allocationID.String(),
		"clinician_id", clinicianID.String(),
		"reason", reason,
	)
	return p.allocation, nil
}

// bundle is an allocation with the organ and request it is bound to.
type bundle struct {
	allocation *models.Allocation
	organ      *models.Organ
	request    *models.Request
}

func (b *bundle) plan(status models.AllocationStatus, notices []models.Notification) *plan {
	return &plan{
		lockKey:       b.allocation.ID.String(),
		allocation:    b.allocation,
		organ:         b.organ,
		request:       b.request,
		audit:         []models.AllocationStatus{status},
		notifications: notices,
	}
}

func (b *bundle) clinicianNotice(kind, msg string, now time.Time) []models.Notification {
	if b.request == nil {
		return nil
	}
	return []models.Notification{{
		UserID:       b.request.ClinicianID,
		AllocationID: b.allocation.ID,
		Kind:         kind,
		Message:      msg,
		CreatedAt:    now,
	}}
}

func (b *bundle) donorNotice(kind, msg string, now time.Time) []models.Notification {
	return []models.Notification{{
		UserID:       b.organ.DonorID,
		AllocationID: b.allocation.ID,
		Kind:         kind,
		Message:      msg,
		CreatedAt:    now,
	}}
}

// loadBundle reads an allocation and the entities it points at, checking
// that their back-pointers agree.
func (s *Service) loadBundle(ctx context.Context, allocationID id.AllocationID) (*bundle, error) {
	allocation, err := s.store.FindAllocation(ctx, allocationID)
	if err != nil {
		return nil, wrapStoreErr(err, "allocation")
	}
	organ, err := s.store.FindOrgan(ctx, allocation.OrganID)
	if err != nil {
		return nil, wrapStoreErr(err, "organ")
	}
	b := &bundle{allocation: allocation, organ: organ}
	if allocation.RequestID != nil {
		request, err := s.store.FindRequest(ctx, *allocation.RequestID)
		if err != nil {
			return nil, wrapStoreErr(err, "request")
		}
		b.request = request
	}
	return b, nil
}

// checkBound verifies the organ and request still point at the allocation.
// Only meaningful before a transition out of an active status.
func (b *bundle) checkBound() error {
	if !b.organ.BoundTo(b.allocation.ID) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("organ %s is not bound to allocation %s", b.organ.ID, b.allocation.ID))
	}
	if b.request != nil && !b.request.BoundTo(b.allocation.ID) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("request %s is not bound to allocation %s", b.request.ID, b.allocation.ID))
	}
	return nil
}

func (s *Service) loadForDonor(ctx context.Context, allocationID id.AllocationID, donorID id.UserID, to models.AllocationStatus) (*bundle, error) {
	b, err := s.loadBundle(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	if b.organ.DonorID != donorID {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "allocation concerns another donor's organ")
	}
	if err := statemachine.ValidateTransition(b.allocation.Status, to); err != nil {
		return nil, err
	}
	if err := b.checkBound(); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) loadForClinician(ctx context.Context, allocationID id.AllocationID, clinicianID id.UserID, to models.AllocationStatus) (*bundle, error) {
	b, err := s.loadBundle(ctx, allocationID)
	if err != nil {
		return nil, err
	}
	actor, err := s.loadActor(ctx, clinicianID)
	if err != nil {
		return nil, err
	}
	if !actor.WorksAt(b.allocation.HospitalID) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only clinicians of the allocation's hospital can do this")
	}
	if err := statemachine.ValidateTransition(b.allocation.Status, to); err != nil {
		return nil, err
	}
	if err := b.checkBound(); err != nil {
		return nil, err
	}
	return b, nil
}

// loadActor resolves the acting user. An unknown user is unauthorized rather
// than not found.
func (s *Service) loadActor(ctx context.Context, userID id.UserID) (*models.User, error) {
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		if dErrors.HasCode(wrapStoreErr(err, "user"), dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unknown user")
		}
		return nil, wrapStoreErr(err, "user")
	}
	return user, nil
}

func (s *Service) requireVerifiedConsent(ctx context.Context, organ *models.Organ) error {
	consent, err := s.store.FindConsent(ctx, *organ.ConsentID)
	if err != nil {
		if dErrors.HasCode(wrapStoreErr(err, "consent"), dErrors.CodeNotFound) {
			return dErrors.New(dErrors.CodeInvalidState, "organ consent not verified")
		}
		return wrapStoreErr(err, "consent")
	}
	if !consent.IsVerified() || consent.DonorID != organ.DonorID {
		return dErrors.New(dErrors.CodeInvalidState, "organ consent not verified")
	}
	return nil
}
