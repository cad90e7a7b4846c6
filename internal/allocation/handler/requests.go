package handler

import (
	"net/url"
	"strconv"
	"strings"

	"organlink/internal/allocation/models"
	id "organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

type RegisterDonationRequest struct {
	OrganType  string  `json:"organ_type"`
	BloodGroup string  `json:"blood_group"`
	HospitalID *string `json:"hospital_id,omitempty"`
}

type registerDonationParams struct {
	organType  id.OrganType
	bloodGroup id.BloodGroup
	hospitalID *id.HospitalID
}

func (r *RegisterDonationRequest) Parse() (registerDonationParams, error) {
	var p registerDonationParams
	var err error
	if p.organType, err = id.ParseOrganType(r.OrganType); err != nil {
		return p, err
	}
	if p.bloodGroup, err = id.ParseBloodGroup(r.BloodGroup); err != nil {
		return p, err
	}
	if r.HospitalID != nil && strings.TrimSpace(*r.HospitalID) != "" {
		h, err := id.ParseHospitalID(*r.HospitalID)
		if err != nil {
			return p, err
		}
		p.hospitalID = &h
	}
	return p, nil
}

// ConsentRequest is the body of both donation confirmation and request
// acceptance.
type ConsentRequest struct {
	ConsentType string `json:"consent_type"`
}

func (r *ConsentRequest) Parse() (models.ConsentType, error) {
	t := models.ConsentType(strings.ToUpper(strings.TrimSpace(r.ConsentType)))
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidArgument, "consent_type must be LIVING or POST_DEATH")
	}
	return t, nil
}

type SubmitRequestRequest struct {
	OrganType    string `json:"organ_type"`
	BloodGroup   string `json:"blood_group"`
	UrgencyScore int    `json:"urgency_score"`
	Notes        string `json:"notes,omitempty"`
}

type submitRequestParams struct {
	organType  id.OrganType
	bloodGroup id.BloodGroup
	urgency    int
	notes      string
}

func (r *SubmitRequestRequest) Parse() (submitRequestParams, error) {
	var p submitRequestParams
	var err error
	if p.organType, err = id.ParseOrganType(r.OrganType); err != nil {
		return p, err
	}
	if p.bloodGroup, err = id.ParseBloodGroup(r.BloodGroup); err != nil {
		return p, err
	}
	p.urgency = r.UrgencyScore
	p.notes = r.Notes
	return p, nil
}

type OfferOrganRequest struct {
	OrganID   string  `json:"organ_id"`
	RequestID *string `json:"request_id,omitempty"`
}

func (r *OfferOrganRequest) Parse() (id.OrganID, *id.RequestID, error) {
	organID, err := id.ParseOrganID(r.OrganID)
	if err != nil {
		return id.OrganID{}, nil, err
	}
	if r.RequestID == nil || strings.TrimSpace(*r.RequestID) == "" {
		return organID, nil, nil
	}
	requestID, err := id.ParseRequestID(*r.RequestID)
	if err != nil {
		return id.OrganID{}, nil, err
	}
	return organID, &requestID, nil
}

type FailAllocationRequest struct {
	Reason string `json:"reason"`
}

// optional query parameters shared by listing endpoints

func organTypeParam(q url.Values) (id.OrganType, error) {
	v := q.Get("organ_type")
	if v == "" {
		return "", nil
	}
	return id.ParseOrganType(v)
}

func bloodGroupParam(q url.Values) (id.BloodGroup, error) {
	v := q.Get("blood_group")
	if v == "" {
		return "", nil
	}
	return id.ParseBloodGroup(v)
}

func requestFilter(q url.Values) (models.RequestFilter, error) {
	var f models.RequestFilter
	var err error
	if f.OrganType, err = organTypeParam(q); err != nil {
		return f, err
	}
	if f.BloodGroup, err = bloodGroupParam(q); err != nil {
		return f, err
	}
	return f, nil
}

func candidateCriteria(q url.Values) (models.CandidateCriteria, error) {
	var c models.CandidateCriteria
	var err error
	if c.OrganType, err = organTypeParam(q); err != nil {
		return c, err
	}
	if c.BloodGroup, err = bloodGroupParam(q); err != nil {
		return c, err
	}
	if v := q.Get("urgency"); v != "" {
		u, err := strconv.Atoi(v)
		if err != nil || u < 1 || u > 10 {
			return c, dErrors.New(dErrors.CodeInvalidArgument, "urgency must be an integer between 1 and 10")
		}
		c.UrgencyScore = u
	}
	return c, nil
}
