package models

import (
	"fmt"
	"strings"
	"time"

	id "organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

const (
	MinUrgency = 1
	MaxUrgency = 10
	// DefaultUrgency scores candidates when the caller gives no urgency.
	DefaultUrgency = 5
	maxNotes   = 2000
)

// Request is a clinician's standing need for an organ.
//
// Invariants:
//   - UrgencyScore is within [MinUrgency, MaxUrgency]
//   - AllocationID is non-nil iff Status is PENDING_CONFIRMATION or MATCHED
//     (checked by CheckCoupling on every write)
type Request struct {
	ID           id.RequestID     `json:"id"`
	OrganType    id.OrganType     `json:"organ_type"`
	BloodGroup   id.BloodGroup    `json:"blood_group"`
	UrgencyScore int              `json:"urgency_score"`
	ClinicianID  id.UserID        `json:"clinician_id"`
	HospitalID   id.HospitalID    `json:"hospital_id"`
	Notes        string           `json:"notes,omitempty"`
	Status       RequestStatus    `json:"status"`
	AllocationID *id.AllocationID `json:"allocation_id,omitempty"`
	Revision     int64            `json:"revision"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NewRequest creates a WAITING request at the clinician's hospital.
func NewRequest(requestID id.RequestID, clinician *User, organType id.OrganType, group id.BloodGroup, urgency int, notes string, now time.Time) (*Request, error) {
	if clinician == nil || clinician.Role != RoleClinician {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only clinicians can submit requests")
	}
	if !clinician.IsAffiliated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "clinician must be associated with a hospital")
	}
	if organType == "" {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "organ type is required")
	}
	if !group.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "invalid blood group")
	}
	if urgency < MinUrgency || urgency > MaxUrgency {
		return nil, dErrors.New(dErrors.CodeInvalidArgument,
			fmt.Sprintf("urgency score must be between %d and %d", MinUrgency, MaxUrgency))
	}
	notes = strings.TrimSpace(notes)
	if len(notes) > maxNotes {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "notes too long")
	}
	return &Request{
		ID:           requestID,
		OrganType:    organType,
		BloodGroup:   group,
		UrgencyScore: urgency,
		ClinicianID:  clinician.ID,
		HospitalID:   *clinician.HospitalID,
		Notes:        notes,
		Status:       RequestWaiting,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (r *Request) CanReserve() error {
	if r.Status != RequestWaiting {
		return dErrors.New(dErrors.CodeInvalidState, "request is not waiting for an organ")
	}
	return nil
}

func (r *Request) ApplyPending(allocationID id.AllocationID, now time.Time) {
	r.Status = RequestPendingConfirmation
	r.AllocationID = &allocationID
	r.UpdatedAt = now
}

func (r *Request) ApplyMatched(now time.Time) {
	r.Status = RequestMatched
	r.UpdatedAt = now
}

// ApplyReopen puts the request back on the waiting list.
func (r *Request) ApplyReopen(now time.Time) {
	r.Status = RequestWaiting
	r.AllocationID = nil
	r.UpdatedAt = now
}

func (r *Request) ApplyTransplanted(now time.Time) {
	r.Status = RequestTransplanted
	r.AllocationID = nil
	r.UpdatedAt = now
}

// CheckCoupling enforces the allocation pointer invariant.
func (r *Request) CheckCoupling() error {
	hasPointer := r.AllocationID != nil && !r.AllocationID.IsNil()
	if hasPointer != r.Status.HoldsAllocation() {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("request %s: status %s with allocation pointer=%t", r.ID, r.Status, hasPointer))
	}
	return nil
}

func (r *Request) BoundTo(a id.AllocationID) bool {
	return r.AllocationID != nil && *r.AllocationID == a
}

func (r *Request) Clone() *Request {
	c := *r
	if r.AllocationID != nil {
		a := *r.AllocationID
		c.AllocationID = &a
	}
	return &c
}
