package service

import (
	"context"
	"fmt"

	"organlink/internal/allocation/chain"
	"organlink/internal/allocation/models"
	"organlink/internal/allocation/statemachine"
	id "organlink/pkg/domain"
)

// CheckConsistency reports every detected inconsistency for one allocation,
// or for all of them when allocationID is nil. It never repairs anything.
func (s *Service) CheckConsistency(ctx context.Context, allocationID *id.AllocationID) ([]models.Finding, error) {
	var allocations []*models.Allocation
	if allocationID != nil {
		a, err := s.store.FindAllocation(ctx, *allocationID)
		if err != nil {
			return nil, wrapStoreErr(err, "allocation")
		}
		allocations = []*models.Allocation{a}
	} else {
		all, err := s.store.ListAllocations(ctx, models.AllocationFilter{})
		if err != nil {
			return nil, wrapStoreErr(err, "allocations")
		}
		allocations = all
	}

	var findings []models.Finding
	for _, a := range allocations {
		if err := ctx.Err(); err != nil {
			return nil, wrapStoreErr(err, "allocations")
		}
		fs, err := s.checkAllocation(ctx, a)
		if err != nil {
			return nil, err
		}
		findings = append(findings, fs...)
	}
	for _, f := range findings {
		s.metrics.IncrementConsistencyFindings(string(f.Kind))
	}
	if len(findings) > 0 {
		s.logger.WarnContext(ctx, "consistency check found problems", "findings", len(findings))
	}
	return findings, nil
}

func (s *Service) checkAllocation(ctx context.Context, a *models.Allocation) ([]models.Finding, error) {
	var out []models.Finding
	add := func(kind models.FindingKind, format string, args ...any) {
		out = append(out, models.Finding{AllocationID: a.ID, Kind: kind, Detail: fmt.Sprintf(format, args...)})
	}

	if last, ok := a.LastEntry(); !ok {
		add(models.FindingEmptyHistory, "allocation has no audit entries")
	} else {
		if res := chain.Verify(a.ID, a.BlockchainHistory); !res.Valid {
			add(models.FindingTampered, "entry %d does not recompute", res.FirstInvalidIndex)
		}
		if a.LastBlockchainHash != last.Hash {
			add(models.FindingHeadMismatch, "head hash %q differs from last entry %q", a.LastBlockchainHash, last.Hash)
		}
		if last.Status != a.Status {
			add(models.FindingStatusMismatch, "status %s but last entry records %s", a.Status, last.Status)
		}
		if detail := illegalHistory(a.BlockchainHistory); detail != "" {
			add(models.FindingIllegalHistory, "%s", detail)
		}
	}

	organ, err := s.store.FindOrgan(ctx, a.OrganID)
	switch {
	case err == nil:
		if want, ok := expectedOrganStatus[a.Status]; ok {
			if !organ.BoundTo(a.ID) || organ.Status != want {
				add(models.FindingOrganPointer, "organ %s is %s (bound=%t), expected %s bound to allocation",
					organ.ID, organ.Status, organ.BoundTo(a.ID), want)
			}
		} else if organ.BoundTo(a.ID) {
			add(models.FindingOrganPointer, "organ %s still points at %s allocation", organ.ID, a.Status)
		}
	case isNotFound(err):
		add(models.FindingOrganPointer, "organ %s does not exist", a.OrganID)
	default:
		return nil, wrapStoreErr(err, "organ")
	}

	if a.RequestID == nil {
		return out, nil
	}
	request, err := s.store.FindRequest(ctx, *a.RequestID)
	switch {
	case err == nil:
		if cerr := request.CheckCoupling(); cerr != nil {
			add(models.FindingRequestCoupling, "%s", cerr.Error())
		}
		if want, ok := expectedRequestStatus[a.Status]; ok {
			if request.Status != want {
				add(models.FindingRequestPointer, "request %s is %s, expected %s", request.ID, request.Status, want)
			}
			if a.Status != models.AllocationCompleted && !request.BoundTo(a.ID) {
				add(models.FindingRequestPointer, "request %s does not point at the allocation", request.ID)
			}
		} else if request.BoundTo(a.ID) {
			add(models.FindingRequestPointer, "request %s still points at %s allocation", request.ID, a.Status)
		}
	case isNotFound(err):
		add(models.FindingRequestPointer, "request %s does not exist", *a.RequestID)
	default:
		return nil, wrapStoreErr(err, "request")
	}
	return out, nil
}

// Expected status of the bound organ and request while an allocation is in a
// given status. Absent keys mean the entity must no longer point at it.
var (
	expectedOrganStatus = map[models.AllocationStatus]models.OrganStatus{
		models.AllocationPendingConfirmation: models.OrganReserved,
		models.AllocationMatched:             models.OrganAllocated,
		models.AllocationCompleted:           models.OrganTransplanted,
	}
	expectedRequestStatus = map[models.AllocationStatus]models.RequestStatus{
		models.AllocationPendingConfirmation: models.RequestPendingConfirmation,
		models.AllocationMatched:             models.RequestMatched,
		models.AllocationCompleted:           models.RequestTransplanted,
	}
)

// illegalHistory describes the first recorded status sequence the transition
// table does not allow, or returns "" for a legal history. Hashes can be
// valid for an illegal sequence, so chain.Verify does not catch this.
func illegalHistory(history []models.AuditEntry) string {
	if len(history) == 0 {
		return ""
	}
	if first := history[0].Status; first != models.AllocationPendingConfirmation {
		return fmt.Sprintf("entry 0 records %s, allocations start at %s", first, models.AllocationPendingConfirmation)
	}
	for i := 1; i < len(history); i++ {
		from, to := history[i-1].Status, history[i].Status
		if statemachine.IsTerminal(from) {
			return fmt.Sprintf("entry %d records %s after terminal %s", i, to, from)
		}
		if statemachine.ValidateTransition(from, to) != nil {
			return fmt.Sprintf("entry %d records %s -> %s, allowed: %v", i, from, to, statemachine.AllowedTargets(from))
		}
	}
	return ""
}
