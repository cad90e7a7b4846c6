package service

import (
	"context"
	"slices"

	"organlink/internal/allocation/chain"
	"organlink/internal/allocation/models"
	id "organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

// Status filter values accepted by ListHospitalAllocations besides a single
// allocation status.
const (
	FilterAll       = "ALL"
	FilterAllActive = "ALL_ACTIVE"
)

// ListWaitingRequests returns WAITING requests, most urgent first. Any
// statuses set on filter are ignored.
func (s *Service) ListWaitingRequests(ctx context.Context, filter models.RequestFilter) ([]*models.Request, error) {
	filter.Statuses = []models.RequestStatus{models.RequestWaiting}
	requests, err := s.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, wrapStoreErr(err, "requests")
	}
	return requests, nil
}

// ListDonorOrgans returns the donor's organs, newest first.
func (s *Service) ListDonorOrgans(ctx context.Context, donorID id.UserID) ([]*models.Organ, error) {
	organs, err := s.store.ListOrgans(ctx, models.OrganFilter{DonorID: &donorID})
	if err != nil {
		return nil, wrapStoreErr(err, "organs")
	}
	return organs, nil
}

// ListHospitalAllocations returns the allocations of the user's hospital.
// status is empty or ALL for every status, ALL_ACTIVE for pending and
// matched allocations, or one allocation status.
func (s *Service) ListHospitalAllocations(ctx context.Context, userID id.UserID, status string) ([]*models.Allocation, error) {
	hospital, err := s.hospitalOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	filter := models.AllocationFilter{HospitalID: &hospital}
	switch status {
	case "", FilterAll:
	case FilterAllActive:
		filter.Statuses = models.ActiveAllocationStatuses
	default:
		st := models.AllocationStatus(status)
		if !st.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvalidArgument, "unknown allocation status "+status)
		}
		filter.Statuses = []models.AllocationStatus{st}
	}
	allocations, err := s.store.ListAllocations(ctx, filter)
	if err != nil {
		return nil, wrapStoreErr(err, "allocations")
	}
	return allocations, nil
}

// GetRequest returns one request to a member of the hospital that submitted it.
func (s *Service) GetRequest(ctx context.Context, userID id.UserID, requestID id.RequestID) (*models.Request, error) {
	hospital, err := s.hospitalOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	request, err := s.store.FindRequest(ctx, requestID)
	if err != nil {
		return nil, wrapStoreErr(err, "request")
	}
	if request.HospitalID != hospital {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "request belongs to another hospital")
	}
	return request, nil
}

// Dashboard counts the requests and allocations of the user's hospital and
// lists its requests, newest first.
func (s *Service) Dashboard(ctx context.Context, userID id.UserID) (*models.Dashboard, error) {
	hospital, err := s.hospitalOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	requests, err := s.store.ListRequests(ctx, models.RequestFilter{HospitalID: &hospital})
	if err != nil {
		return nil, wrapStoreErr(err, "requests")
	}
	allocations, err := s.store.ListAllocations(ctx, models.AllocationFilter{HospitalID: &hospital})
	if err != nil {
		return nil, wrapStoreErr(err, "allocations")
	}
	slices.SortStableFunc(requests, func(a, b *models.Request) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	d := &models.Dashboard{
		TotalRequests:    len(requests),
		MyRequests:       []*models.Request{},
		HospitalRequests: requests,
	}
	if d.HospitalRequests == nil {
		d.HospitalRequests = []*models.Request{}
	}
	for _, r := range requests {
		if r.ClinicianID == userID {
			d.MyRequests = append(d.MyRequests, r)
		}
	}
	for _, a := range allocations {
		switch a.Status {
		case models.AllocationPendingConfirmation, models.AllocationMatched:
			d.ActiveAllocations++
		case models.AllocationCompleted:
			d.CompletedAllocations++
		case models.AllocationFailed:
			d.FailedAllocations++
		}
	}
	return d, nil
}

// VerifyAllocation recomputes the allocation's audit chain.
func (s *Service) VerifyAllocation(ctx context.Context, allocationID id.AllocationID) (*models.VerifyReport, error) {
	allocation, err := s.store.FindAllocation(ctx, allocationID)
	if err != nil {
		return nil, wrapStoreErr(err, "allocation")
	}
	res := chain.Verify(allocation.ID, allocation.BlockchainHistory)
	return &models.VerifyReport{
		AllocationID:      allocation.ID,
		Valid:             res.Valid,
		FirstInvalidIndex: res.FirstInvalidIndex,
		Entries:           len(allocation.BlockchainHistory),
	}, nil
}

func (s *Service) hospitalOf(ctx context.Context, userID id.UserID) (id.HospitalID, error) {
	user, err := s.loadActor(ctx, userID)
	if err != nil {
		return id.HospitalID{}, err
	}
	if user.Role == models.RoleDonor || !user.IsAffiliated() {
		return id.HospitalID{}, dErrors.New(dErrors.CodeUnauthorized, "user is not associated with a hospital")
	}
	return *user.HospitalID, nil
}
