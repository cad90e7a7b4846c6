package models

import (
	"time"

	id "organlink/pkg/domain"
)

// OrganFilter selects organs. Zero-valued fields do not filter.
type OrganFilter struct {
	Statuses   []OrganStatus
	OrganType  id.OrganType
	BloodGroup id.BloodGroup
	DonorID    *id.UserID
}

type RequestFilter struct {
	Statuses   []RequestStatus
	OrganType  id.OrganType
	BloodGroup id.BloodGroup
	HospitalID *id.HospitalID
}

type AllocationFilter struct {
	Statuses   []AllocationStatus
	HospitalID *id.HospitalID
}

// CandidateCriteria narrows a candidate listing.
type CandidateCriteria struct {
	OrganType    id.OrganType
	BloodGroup   id.BloodGroup
	UrgencyScore int
}

// Candidate is an available organ scored for a requester.
type Candidate struct {
	Organ          *Organ         `json:"organ"`
	DistanceKm     *float64       `json:"distance_km"`
	Duration       *time.Duration `json:"duration,omitempty"`
	MatchScore     float64        `json:"match_score"`
	RiskLevel      string         `json:"risk_level"`
	Recommendation string         `json:"recommendation"`
}

// Dashboard summarizes a hospital's requests and allocations. MyRequests is
// the subset of HospitalRequests submitted by the viewing user.
type Dashboard struct {
	TotalRequests        int        `json:"total_requests"`
	ActiveAllocations    int        `json:"active_allocations"`
	CompletedAllocations int        `json:"completed_allocations"`
	FailedAllocations    int        `json:"failed_allocations"`
	MyRequests           []*Request `json:"my_requests"`
	HospitalRequests     []*Request `json:"hospital_requests"`
}

// Notification is the payload handed to the notifier.
type Notification struct {
	UserID       id.UserID       `json:"user_id"`
	Message      string          `json:"message"`
	AllocationID id.AllocationID `json:"allocation_id"`
	Kind         string          `json:"kind"`
	CreatedAt    time.Time       `json:"created_at"`
}

// FindingKind classifies a consistency problem.
type FindingKind string

const (
	FindingEmptyHistory    FindingKind = "EMPTY_HISTORY"
	FindingTampered        FindingKind = "CHAIN_TAMPERED"
	FindingHeadMismatch    FindingKind = "HEAD_HASH_MISMATCH"
	FindingStatusMismatch  FindingKind = "STATUS_NOT_AUDITED"
	FindingOrganPointer    FindingKind = "ORGAN_POINTER"
	FindingRequestPointer  FindingKind = "REQUEST_POINTER"
	FindingRequestCoupling FindingKind = "REQUEST_COUPLING"
	FindingIllegalHistory  FindingKind = "ILLEGAL_HISTORY"
)

// Finding is one detected inconsistency. Repair is out of band.
type Finding struct {
	AllocationID id.AllocationID `json:"allocation_id"`
	Kind         FindingKind     `json:"kind"`
	Detail       string          `json:"detail"`
}

// VerifyReport is the chain verification result for one allocation.
type VerifyReport struct {
	AllocationID      id.AllocationID `json:"allocation_id"`
	Valid             bool            `json:"valid"`
	FirstInvalidIndex int             `json:"first_invalid_index"`
	Entries           int             `json:"entries"`
}
