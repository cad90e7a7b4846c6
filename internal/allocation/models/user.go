package models

import (
	"time"

	id "organlink/pkg/domain"
)

// User is the directory view of an account: enough to check roles and
// hospital affiliation and to locate donors and clinicians.
type User struct {
	ID         id.UserID      `json:"id"`
	Name       string         `json:"name"`
	Role       Role           `json:"role"`
	HospitalID *id.HospitalID `json:"hospital_id,omitempty"`
	Location   *Location      `json:"location,omitempty"`
	Address    string         `json:"address,omitempty"`
	Revision   int64          `json:"revision"`
	CreatedAt  time.Time      `json:"created_at"`
}

// IsAffiliated reports whether the user belongs to a hospital.
func (u *User) IsAffiliated() bool {
	return u.HospitalID != nil && !u.HospitalID.IsNil()
}

// WorksAt reports whether the user is a clinician at hospital h.
func (u *User) WorksAt(h id.HospitalID) bool {
	return u.Role == RoleClinician && u.IsAffiliated() && *u.HospitalID == h
}

func (u *User) Clone() *User {
	c := *u
	if u.HospitalID != nil {
		h := *u.HospitalID
		c.HospitalID = &h
	}
	c.Location = cloneLocation(u.Location)
	return &c
}
