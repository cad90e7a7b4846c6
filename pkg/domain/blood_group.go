package domain

import (
	"strings"

	dErrors "organlink/pkg/domain-errors"
)

// BloodGroup is an ABO/Rh group such as "O-" or "AB+".
// Invariant: the value is one of the eight supported groups.
//
// Construct via ParseBloodGroup at trust boundaries; direct casting bypasses
// validation.
type BloodGroup string

const (
	BloodGroupAPos  BloodGroup = "A+"
	BloodGroupANeg  BloodGroup = "A-"
	BloodGroupBPos  BloodGroup = "B+"
	BloodGroupBNeg  BloodGroup = "B-"
	BloodGroupABPos BloodGroup = "AB+"
	BloodGroupABNeg BloodGroup = "AB-"
	BloodGroupOPos  BloodGroup = "O+"
	BloodGroupONeg  BloodGroup = "O-"
)

var validBloodGroups = map[BloodGroup]bool{
	BloodGroupAPos:  true,
	BloodGroupANeg:  true,
	BloodGroupBPos:  true,
	BloodGroupBNeg:  true,
	BloodGroupABPos: true,
	BloodGroupABNeg: true,
	BloodGroupOPos:  true,
	BloodGroupONeg:  true,
}

// ParseBloodGroup normalizes case and surrounding whitespace, then checks the
// allowlist. Returns CodeInvalidArgument for empty or unsupported values.
func ParseBloodGroup(s string) (BloodGroup, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidArgument, "blood group is required")
	}
	g := BloodGroup(s)
	if !g.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidArgument, "invalid blood group")
	}
	return g, nil
}

func (g BloodGroup) IsValid() bool {
	return validBloodGroups[g]
}

func (g BloodGroup) String() string {
	return string(g)
}

// OrganType names the donated organ. The set is open; parsing only normalizes.
type OrganType string

const (
	OrganKidney   OrganType = "KIDNEY"
	OrganLiver    OrganType = "LIVER"
	OrganHeart    OrganType = "HEART"
	OrganLung     OrganType = "LUNG"
	OrganPancreas OrganType = "PANCREAS"
	OrganCornea   OrganType = "CORNEA"
)

// ParseOrganType upper-cases and trims s. Empty input is rejected.
func ParseOrganType(s string) (OrganType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidArgument, "organ type is required")
	}
	if len(s) > 64 {
		return "", dErrors.New(dErrors.CodeInvalidArgument, "organ type too long")
	}
	return OrganType(s), nil
}

func (t OrganType) String() string {
	return string(t)
}
