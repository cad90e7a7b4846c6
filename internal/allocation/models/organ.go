package models

import (
	"time"

	id "organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

// Organ is a donor's offered organ.
//
// Invariants:
//   - Status is AVAILABLE only while ConsentID references a VERIFIED consent
//   - AllocationID is set while RESERVED or ALLOCATED, nil while AVAILABLE
//   - TRANSPLANTED is terminal; organs are never deleted
//
// Status and AllocationID are mutated only by the allocation service.
type Organ struct {
	ID           id.OrganID       `json:"id"`
	OrganType    id.OrganType     `json:"organ_type"`
	BloodGroup   id.BloodGroup    `json:"blood_group"`
	DonorID      id.UserID        `json:"donor_id"`
	HospitalID   *id.HospitalID   `json:"hospital_id,omitempty"`
	Location     *Location        `json:"location,omitempty"`
	Address      string           `json:"address,omitempty"`
	Status       OrganStatus      `json:"status"`
	AllocationID *id.AllocationID `json:"allocation_id,omitempty"`
	ConsentID    *id.ConsentID    `json:"consent_id,omitempty"`
	Revision     int64            `json:"revision"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// NewOrgan registers an organ awaiting consent.
func NewOrgan(organID id.OrganID, donor *User, organType id.OrganType, group id.BloodGroup, hospital *id.HospitalID, now time.Time) (*Organ, error) {
	if donor == nil || donor.Role != RoleDonor {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only donors can register organs")
	}
	if organType == "" {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "organ type is required")
	}
	if !group.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "invalid blood group")
	}
	return &Organ{
		ID:         organID,
		OrganType:  organType,
		BloodGroup: group,
		DonorID:    donor.ID,
		HospitalID: hospital,
		Location:   cloneLocation(donor.Location),
		Address:    donor.Address,
		Status:     OrganPendingConsent,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// CanAttachConsent checks that donor owns the organ and it still awaits consent.
func (o *Organ) CanAttachConsent(donor id.UserID) error {
	if o.DonorID != donor {
		return dErrors.New(dErrors.CodeUnauthorized, "organ belongs to another donor")
	}
	if o.Status != OrganPendingConsent {
		return dErrors.New(dErrors.CodeInvalidState, "organ is not awaiting consent")
	}
	return nil
}

// ApplyConsent makes the organ available under a verified consent.
// Call CanAttachConsent first.
func (o *Organ) ApplyConsent(consentID id.ConsentID, now time.Time) {
	o.ConsentID = &consentID
	o.Status = OrganAvailable
	o.UpdatedAt = now
}

// CanReserve checks the organ can be bound to a new allocation. The consent
// itself is verified by the caller, which has to load it.
func (o *Organ) CanReserve() error {
	if o.Status != OrganAvailable {
		return dErrors.New(dErrors.CodeInvalidState, "organ is not available for allocation")
	}
	if o.ConsentID == nil {
		return dErrors.New(dErrors.CodeInvalidState, "organ consent not verified")
	}
	return nil
}

func (o *Organ) ApplyReserve(allocationID id.AllocationID, now time.Time) {
	o.Status = OrganReserved
	o.AllocationID = &allocationID
	o.UpdatedAt = now
}

func (o *Organ) ApplyAllocate(now time.Time) {
	o.Status = OrganAllocated
	o.UpdatedAt = now
}

// ApplyRelease returns the organ to the pool.
func (o *Organ) ApplyRelease(now time.Time) {
	o.Status = OrganAvailable
	o.AllocationID = nil
	o.UpdatedAt = now
}

// ApplyTransplant marks the terminal state. AllocationID is kept as the
// pointer to the completed allocation.
func (o *Organ) ApplyTransplant(now time.Time) {
	o.Status = OrganTransplanted
	o.UpdatedAt = now
}

// BoundTo reports whether the organ currently points at allocation a.
func (o *Organ) BoundTo(a id.AllocationID) bool {
	return o.AllocationID != nil && *o.AllocationID == a
}

func (o *Organ) Clone() *Organ {
	c := *o
	if o.HospitalID != nil {
		h := *o.HospitalID
		c.HospitalID = &h
	}
	if o.AllocationID != nil {
		a := *o.AllocationID
		c.AllocationID = &a
	}
	if o.ConsentID != nil {
		cid := *o.ConsentID
		c.ConsentID = &cid
	}
	c.Location = cloneLocation(o.Location)
	return &c
}

// Consent records a donor's verified agreement to donate. Never mutated by
// the allocation core once created.
type Consent struct {
	ID        id.ConsentID  `json:"id"`
	DonorID   id.UserID     `json:"donor_id"`
	Type      ConsentType   `json:"consent_type"`
	Status    ConsentStatus `json:"status"`
	Revision  int64         `json:"revision"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewVerifiedConsent creates the consent a donor gives when confirming a donation.
func NewVerifiedConsent(consentID id.ConsentID, donor id.UserID, consentType ConsentType, now time.Time) (*Consent, error) {
	if !consentType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "consent type must be LIVING or POST_DEATH")
	}
	return &Consent{
		ID:        consentID,
		DonorID:   donor,
		Type:      consentType,
		Status:    ConsentVerified,
		CreatedAt: now,
	}, nil
}

func (c *Consent) IsVerified() bool {
	return c.Status == ConsentVerified
}

func (c *Consent) Clone() *Consent {
	cp := *c
	return &cp
}
