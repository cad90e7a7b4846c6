// Package domain holds identifier and value primitives shared across the
// allocation modules. Parse functions are the trust boundary: they reject
// malformed and nil UUIDs so services never see them.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "organlink/pkg/domain-errors"
)

type (
	UserID       uuid.UUID
	HospitalID   uuid.UUID
	OrganID      uuid.UUID
	RequestID    uuid.UUID
	AllocationID uuid.UUID
	ConsentID    uuid.UUID
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidArgument, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidArgument, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidArgument, kind+" cannot be nil")
	}
	return u, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user id", s)
	return UserID(u), err
}

func ParseHospitalID(s string) (HospitalID, error) {
	u, err := parseUUID("hospital id", s)
	return HospitalID(u), err
}

func ParseOrganID(s string) (OrganID, error) {
	u, err := parseUUID("organ id", s)
	return OrganID(u), err
}

func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID("request id", s)
	return RequestID(u), err
}

func ParseAllocationID(s string) (AllocationID, error) {
	u, err := parseUUID("allocation id", s)
	return AllocationID(u), err
}

func ParseConsentID(s string) (ConsentID, error) {
	u, err := parseUUID("consent id", s)
	return ConsentID(u), err
}

func NewOrganID() OrganID           { return OrganID(uuid.New()) }
func NewRequestID() RequestID       { return RequestID(uuid.New()) }
func NewAllocationID() AllocationID { return AllocationID(uuid.New()) }
func NewConsentID() ConsentID       { return ConsentID(uuid.New()) }

func (id UserID) String() string       { return uuid.UUID(id).String() }
func (id HospitalID) String() string   { return uuid.UUID(id).String() }
func (id OrganID) String() string      { return uuid.UUID(id).String() }
func (id RequestID) String() string    { return uuid.UUID(id).String() }
func (id AllocationID) String() string { return uuid.UUID(id).String() }
func (id ConsentID) String() string    { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id HospitalID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id OrganID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AllocationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// Text marshalling keeps the canonical UUID form in JSON payloads and columns.

func (id UserID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id HospitalID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id OrganID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id RequestID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id AllocationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id ConsentID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }

func (id *UserID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *HospitalID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *OrganID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *RequestID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *AllocationID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ConsentID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
