package service

import (
	"context"
	"fmt"
	"strings"

	"organlink/internal/allocation/models"
	id "organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

// RegisterDonation records an organ a donor is willing to give. It stays
// PENDING_CONSENT until the donor confirms.
func (s *Service) RegisterDonation(ctx context.Context, donorID id.UserID, organType id.OrganType, group id.BloodGroup, hospitalID *id.HospitalID) (*models.Organ, error) {
	p, err := s.execute(ctx, "register_donation", func(ctx context.Context) (*plan, error) {
		donor, err := s.loadActor(ctx, donorID)
		if err != nil {
			return nil, err
		}
		organ, err := models.NewOrgan(id.NewOrganID(), donor, organType, group, hospitalID, s.now(ctx))
		if err != nil {
			return nil, err
		}
		return &plan{lockKey: organ.ID.String(), organ: organ}, nil
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "donation_registered", "organ_id", p.organ.ID.String(), "donor_id", donorID.String())
	return p.organ, nil
}

// ConfirmDonation attaches the donor's verified consent and makes the organ
// available for allocation.
func (s *Service) ConfirmDonation(ctx context.Context, organID id.OrganID, donorID id.UserID, consentType models.ConsentType) (*models.Organ, error) {
	if !consentType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "consent type must be LIVING or POST_DEATH")
	}
	p, err := s.execute(ctx, "confirm_donation", func(ctx context.Context) (*plan, error) {
		organ, err := s.store.FindOrgan(ctx, organID)
		if err != nil {
			return nil, wrapStoreErr(err, "organ")
		}
		if err := organ.CanAttachConsent(donorID); err != nil {
			return nil, err
		}
		now := s.now(ctx)
		consent, err := models.NewVerifiedConsent(id.NewConsentID(), donorID, consentType, now)
		if err != nil {
			return nil, err
		}
		organ.ApplyConsent(consent.ID, now)
		return &plan{lockKey: organ.ID.String(), organ: organ, consent: consent}, nil
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "donation_confirmed",
		"organ_id", organID.String(),
		"donor_id", donorID.String(),
		"consent_id", p.consent.ID.String(),
	)
	return p.organ, nil
}

// SubmitRequest puts a clinician's need for an organ on the waiting list.
func (s *Service) SubmitRequest(ctx context.Context, clinicianID id.UserID, organType id.OrganType, group id.BloodGroup, urgency int, notes string) (*models.Request, error) {
	p, err := s.execute(ctx, "submit_request", func(ctx context.Context) (*plan, error) {
		clinician, err := s.loadActor(ctx, clinicianID)
		if err != nil {
			return nil, err
		}
		request, err := models.NewRequest(id.NewRequestID(), clinician, organType, group, urgency, notes, s.now(ctx))
		if err != nil {
			return nil, err
		}
		return &plan{lockKey: request.ID.String(), request: request}, nil
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "request_submitted",
		"request_id", p.request.ID.String(),
		"clinician_id", clinicianID.String(),
		"urgency", p.request.UrgencyScore,
	)
	return p.request, nil
}

// AcceptRequest lets a donor answer a waiting request directly. The donor's
// acceptance is both the consent and the confirmation, so the new organ goes
// straight to ALLOCATED and the allocation records PENDING_CONFIRMATION then
// MATCHED.
func (s *Service) AcceptRequest(ctx context.Context, requestID id.RequestID, donorID id.UserID, consentType models.ConsentType) (*models.Allocation, error) {
	if !consentType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "consent type must be LIVING or POST_DEATH")
	}
	p, err := s.execute(ctx, "accept_request", func(ctx context.Context) (*plan, error) {
		donor, err := s.loadActor(ctx, donorID)
		if err != nil {
			return nil, err
		}
		if donor.Role != models.RoleDonor {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "only donors can accept requests")
		}
		request, err := s.store.FindRequest(ctx, requestID)
		if err != nil {
			return nil, wrapStoreErr(err, "request")
		}
		if err := request.CanReserve(); err != nil {
			return nil, err
		}

		now := s.now(ctx)
		consent, err := models.NewVerifiedConsent(id.NewConsentID(), donor.ID, consentType, now)
		if err != nil {
			return nil, err
		}
		hospital := request.HospitalID
		organ, err := models.NewOrgan(id.NewOrganID(), donor, request.OrganType, request.BloodGroup, &hospital, now)
		if err != nil {
			return nil, err
		}
		organ.ApplyConsent(consent.ID, now)

		rid := request.ID
		allocation := models.NewAllocation(id.NewAllocationID(), organ.ID, &rid, hospital, now)
		organ.ApplyReserve(allocation.ID, now)
		organ.ApplyAllocate(now)
		request.ApplyPending(allocation.ID, now)
		request.ApplyMatched(now)
		allocation.ApplyStatus(models.AllocationMatched, now)

		return &plan{
			lockKey:    request.ID.String(),
			allocation: allocation,
			organ:      organ,
			request:    request,
			consent:    consent,
			audit:      []models.AllocationStatus{models.AllocationPendingConfirmation, models.AllocationMatched},
			notifications: []models.Notification{{
				UserID:       request.ClinicianID,
				AllocationID: allocation.ID,
				Kind:         KindDonorAccepted,
				Message:      fmt.Sprintf("A donor accepted your %s request.", strings.ToLower(string(request.OrganType))),
				CreatedAt:    now,
			}},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, "request_accepted",
		"allocation_id", p.allocation.ID.String(),
		"request_id", requestID.String(),
		"donor_id", donorID.String(),
	)
	return p.allocation, nil
}
