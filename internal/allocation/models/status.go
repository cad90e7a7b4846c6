package models

// OrganStatus tracks an organ from registration to transplant.
type OrganStatus string

const (
	OrganPendingConsent OrganStatus = "PENDING_CONSENT"
	OrganAvailable      OrganStatus = "AVAILABLE"
	OrganReserved       OrganStatus = "RESERVED"
	OrganAllocated      OrganStatus = "ALLOCATED"
	OrganTransplanted   OrganStatus = "TRANSPLANTED"
)

// RequestStatus tracks a clinical request.
type RequestStatus string

const (
	RequestWaiting             RequestStatus = "WAITING"
	RequestPendingConfirmation RequestStatus = "PENDING_CONFIRMATION"
	RequestMatched             RequestStatus = "MATCHED"
	RequestTransplanted        RequestStatus = "TRANSPLANTED"
)

// HoldsAllocation reports whether a request in this status must point at an
// allocation.
func (s RequestStatus) HoldsAllocation() bool {
	return s == RequestPendingConfirmation || s == RequestMatched
}

// AllocationStatus is the status of the organ/request binding. Legal moves
// between these values live in the statemachine package.
type AllocationStatus string

const (
	AllocationPendingConfirmation AllocationStatus = "PENDING_CONFIRMATION"
	AllocationMatched             AllocationStatus = "MATCHED"
	AllocationCompleted           AllocationStatus = "COMPLETED"
	AllocationFailed              AllocationStatus = "FAILED"
	AllocationRejected            AllocationStatus = "REJECTED"
)

// AllAllocationStatuses lists every status in declaration order.
var AllAllocationStatuses = []AllocationStatus{
	AllocationPendingConfirmation,
	AllocationMatched,
	AllocationCompleted,
	AllocationFailed,
	AllocationRejected,
}

// ActiveAllocationStatuses are the non-terminal statuses.
var ActiveAllocationStatuses = []AllocationStatus{
	AllocationPendingConfirmation,
	AllocationMatched,
}

func (s AllocationStatus) IsValid() bool {
	for _, st := range AllAllocationStatuses {
		if s == st {
			return true
		}
	}
	return false
}

type ConsentType string

const (
	ConsentLiving    ConsentType = "LIVING"
	ConsentPostDeath ConsentType = "POST_DEATH"
)

func (t ConsentType) IsValid() bool {
	return t == ConsentLiving || t == ConsentPostDeath
}

type ConsentStatus string

const (
	ConsentVerified ConsentStatus = "VERIFIED"
	ConsentRevoked  ConsentStatus = "REVOKED"
)

type Role string

const (
	RoleDonor     Role = "DONOR"
	RoleClinician Role = "CLINICIAN"
	RoleAdmin     Role = "ADMIN"
)
