package service

import (
	"time"

	"github.com/google/uuid"

	"organlink/internal/allocation/chain"
	"organlink/internal/allocation/models"
	id "organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

// =============================================================================
// Queries
// =============================================================================

func (s *ServiceSuite) TestHospitalViews() {
	pending, _, _ := s.offered()
	matched, _, _ := s.matched()
	failed, _, _ := s.matched()
	_, err := s.service.FailAllocation(s.ctx, failed.ID, s.clinician.ID, "cross-match failed")
	s.Require().NoError(err)
	completed, _, _ := s.matched()
	_, err = s.service.CompleteAllocation(s.ctx, completed.ID, s.clinician.ID)
	s.Require().NoError(err)

	s.Run("dashboard counts", func() {
		d, err := s.service.Dashboard(s.ctx, s.clinician.ID)
		s.Require().NoError(err)
		s.Equal(4, d.TotalRequests)
		s.Equal(2, d.ActiveAllocations)
		s.Equal(1, d.CompletedAllocations)
		s.Equal(1, d.FailedAllocations)
	})

	s.Run("other hospital sees nothing", func() {
		d, err := s.service.Dashboard(s.ctx, s.outsider.ID)
		s.Require().NoError(err)
		s.Zero(d.TotalRequests)
		s.Zero(d.ActiveAllocations)
		s.Empty(d.MyRequests)
		s.Empty(d.HospitalRequests)
	})

	s.Run("donors have no hospital view", func() {
		_, err := s.service.Dashboard(s.ctx, s.donor.ID)
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("active filter", func() {
		got, err := s.service.ListHospitalAllocations(s.ctx, s.clinician.ID, FilterAllActive)
		s.Require().NoError(err)
		ids := map[id.AllocationID]bool{}
		for _, a := range got {
			ids[a.ID] = true
		}
		s.Len(got, 2)
		s.True(ids[pending.ID])
		s.True(ids[matched.ID])
	})

	s.Run("single status filter", func() {
		got, err := s.service.ListHospitalAllocations(s.ctx, s.clinician.ID, string(models.AllocationFailed))
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(failed.ID, got[0].ID)
	})

	s.Run("all statuses", func() {
		got, err := s.service.ListHospitalAllocations(s.ctx, s.clinician.ID, "")
		s.Require().NoError(err)
		s.Len(got, 4)
	})

	s.Run("unknown status filter", func() {
		_, err := s.service.ListHospitalAllocations(s.ctx, s.clinician.ID, "ARCHIVED")
		s.requireCode(err, dErrors.CodeInvalidArgument)
	})

	s.Run("waiting list holds only reopened requests", func() {
		got, err := s.service.ListWaitingRequests(s.ctx, models.RequestFilter{OrganType: id.OrganKidney})
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(models.RequestWaiting, got[0].Status)
	})

	s.Run("donor organs", func() {
		got, err := s.service.ListDonorOrgans(s.ctx, s.donor.ID)
		s.Require().NoError(err)
		s.Len(got, 4)
		none, err := s.service.ListDonorOrgans(s.ctx, s.otherDonor.ID)
		s.Require().NoError(err)
		s.Empty(none)
	})
}

func (s *ServiceSuite) TestDashboardRequestLists() {
	colleague := &models.User{ID: id.UserID(uuid.New()), Name: "colleague", Role: models.RoleClinician, HospitalID: &s.hospital}
	s.Require().NoError(s.store.SaveUser(s.ctx, colleague))

	mine := s.waitingRequest(4)
	theirs, err := s.service.SubmitRequest(s.ctx, colleague.ID, id.OrganLiver, id.BloodGroupANeg, 9, "")
	s.Require().NoError(err)
	_, err = s.service.SubmitRequest(s.ctx, s.outsider.ID, id.OrganKidney, id.BloodGroupOPos, 5, "")
	s.Require().NoError(err)

	d, err := s.service.Dashboard(s.ctx, s.clinician.ID)
	s.Require().NoError(err)
	s.Equal(2, d.TotalRequests)
	s.Require().Len(d.MyRequests, 1)
	s.Equal(mine.ID, d.MyRequests[0].ID)
	s.Require().Len(d.HospitalRequests, 2)
	s.ElementsMatch([]id.RequestID{mine.ID, theirs.ID},
		[]id.RequestID{d.HospitalRequests[0].ID, d.HospitalRequests[1].ID})

	d, err = s.service.Dashboard(s.ctx, colleague.ID)
	s.Require().NoError(err)
	s.Require().Len(d.MyRequests, 1)
	s.Equal(theirs.ID, d.MyRequests[0].ID)
}

func (s *ServiceSuite) TestGetRequest() {
	req := s.waitingRequest(6)

	s.Run("hospital member reads the request", func() {
		for _, u := range []*models.User{s.clinician, s.admin} {
			got, err := s.service.GetRequest(s.ctx, u.ID, req.ID)
			s.Require().NoError(err)
			s.Equal(req.ID, got.ID)
			s.Equal(models.RequestWaiting, got.Status)
		}
	})

	s.Run("other hospital is refused", func() {
		_, err := s.service.GetRequest(s.ctx, s.outsider.ID, req.ID)
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("donors have no hospital view", func() {
		_, err := s.service.GetRequest(s.ctx, s.donor.ID, req.ID)
		s.requireCode(err, dErrors.CodeUnauthorized)
	})

	s.Run("unknown request", func() {
		_, err := s.service.GetRequest(s.ctx, s.clinician.ID, id.NewRequestID())
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

func (s *ServiceSuite) TestWaitingListOrder() {
	_ = s.waitingRequest(3)
	urgent := s.waitingRequest(10)
	got, err := s.service.ListWaitingRequests(s.ctx, models.RequestFilter{})
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(urgent.ID, got[0].ID)
}

// =============================================================================
// Verification and consistency
// =============================================================================

func (s *ServiceSuite) TestVerifyAllocation() {
	alloc, _, _ := s.matched()

	s.Run("untouched chain verifies, repeatedly", func() {
		for i := 0; i < 2; i++ {
			report, err := s.service.VerifyAllocation(s.ctx, alloc.ID)
			s.Require().NoError(err)
			s.True(report.Valid)
			s.Equal(-1, report.FirstInvalidIndex)
			s.Equal(2, report.Entries)
		}
	})

	s.Run("altered entry is located", func() {
		stored, err := s.store.FindAllocation(s.ctx, alloc.ID)
		s.Require().NoError(err)
		stored.BlockchainHistory[1].Timestamp = stored.BlockchainHistory[1].Timestamp.Add(time.Second)
		s.Require().NoError(s.store.SaveAllocation(s.ctx, stored))

		report, err := s.service.VerifyAllocation(s.ctx, alloc.ID)
		s.Require().NoError(err)
		s.False(report.Valid)
		s.Equal(1, report.FirstInvalidIndex)
	})

	s.Run("unknown allocation", func() {
		_, err := s.service.VerifyAllocation(s.ctx, id.NewAllocationID())
		s.requireCode(err, dErrors.CodeNotFound)
	})
}

func kinds(findings []models.Finding) []models.FindingKind {
	out := make([]models.FindingKind, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Kind)
	}
	return out
}

func (s *ServiceSuite) TestCheckConsistency() {
	s.Run("lifecycle leaves no findings", func() {
		_, _, _ = s.offered()
		_, _, _ = s.matched()
		rejected, _, _ := s.offered()
		_, err := s.service.DonorReject(s.ctx, rejected.ID, s.donor.ID)
		s.Require().NoError(err)
		done, _, _ := s.matched()
		_, err = s.service.CompleteAllocation(s.ctx, done.ID, s.clinician.ID)
		s.Require().NoError(err)

		findings, err := s.service.CheckConsistency(s.ctx, nil)
		s.Require().NoError(err)
		s.Empty(findings)
	})

	s.Run("tampered history", func() {
		alloc, _, _ := s.matched()
		stored, err := s.store.FindAllocation(s.ctx, alloc.ID)
		s.Require().NoError(err)
		stored.BlockchainHistory[0].Hash = "forged"
		s.Require().NoError(s.store.SaveAllocation(s.ctx, stored))

		findings, err := s.service.CheckConsistency(s.ctx, &alloc.ID)
		s.Require().NoError(err)
		s.Equal([]models.FindingKind{models.FindingTampered}, kinds(findings))
	})

	s.Run("status without audit entry and stale head", func() {
		alloc, _, _ := s.offered()
		stored, err := s.store.FindAllocation(s.ctx, alloc.ID)
		s.Require().NoError(err)
		stored.Status = models.AllocationMatched
		stored.LastBlockchainHash = "stale"
		s.Require().NoError(s.store.SaveAllocation(s.ctx, stored))

		findings, err := s.service.CheckConsistency(s.ctx, &alloc.ID)
		s.Require().NoError(err)
		got := kinds(findings)
		s.Contains(got, models.FindingHeadMismatch)
		s.Contains(got, models.FindingStatusMismatch)
		s.Contains(got, models.FindingOrganPointer, "organ is RESERVED, not ALLOCATED")
		s.Contains(got, models.FindingRequestPointer)
	})

	s.Run("broken request coupling", func() {
		alloc, _, req := s.offered()
		stored, err := s.store.FindRequest(s.ctx, req.ID)
		s.Require().NoError(err)
		stored.Status = models.RequestWaiting
		s.Require().NoError(s.store.SaveRequest(s.ctx, stored))

		findings, err := s.service.CheckConsistency(s.ctx, &alloc.ID)
		s.Require().NoError(err)
		got := kinds(findings)
		s.Contains(got, models.FindingRequestCoupling)
		s.Contains(got, models.FindingRequestPointer)
	})

	s.Run("rehashed history with an illegal sequence", func() {
		alloc, _, _ := s.matched()
		stored, err := s.store.FindAllocation(s.ctx, alloc.ID)
		s.Require().NoError(err)
		// A correctly chained COMPLETED -> MATCHED step passes chain.Verify.
		at := stored.BlockchainHistory[1].Timestamp
		for _, st := range []models.AllocationStatus{models.AllocationCompleted, models.AllocationMatched} {
			at = at.Add(time.Second)
			stored.BlockchainHistory = append(stored.BlockchainHistory, chain.Append(stored.ID, stored.BlockchainHistory, st, at))
		}
		stored.LastBlockchainHash = stored.BlockchainHistory[len(stored.BlockchainHistory)-1].Hash
		s.Require().NoError(s.store.SaveAllocation(s.ctx, stored))

		findings, err := s.service.CheckConsistency(s.ctx, &alloc.ID)
		s.Require().NoError(err)
		s.Equal([]models.FindingKind{models.FindingIllegalHistory}, kinds(findings))
		s.Contains(findings[0].Detail, "after terminal COMPLETED")
	})

	s.Run("empty history and missing organ", func() {
		orphan := models.NewAllocation(id.NewAllocationID(), id.NewOrganID(), nil, s.hospital, time.Now())
		s.Require().NoError(s.store.SaveAllocation(s.ctx, orphan))

		findings, err := s.service.CheckConsistency(s.ctx, &orphan.ID)
		s.Require().NoError(err)
		s.Equal([]models.FindingKind{models.FindingEmptyHistory, models.FindingOrganPointer}, kinds(findings))
	})

	s.Run("unknown allocation", func() {
		missing := id.NewAllocationID()
		_, err := s.service.CheckConsistency(s.ctx, &missing)
		s.requireCode(err, dErrors.CodeNotFound)
	})
}
