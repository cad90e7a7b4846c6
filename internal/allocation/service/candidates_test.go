package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/mock/gomock"

	"organlink/internal/allocation/models"
	"organlink/internal/allocation/ports"
	"organlink/internal/allocation/scoring"
	id "organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

func (s *ServiceSuite) donorAt(loc *models.Location) *models.User {
	u := &models.User{ID: id.UserID(uuid.New()), Name: "donor", Role: models.RoleDonor, Location: loc}
	s.Require().NoError(s.store.SaveUser(s.ctx, u))
	return u
}

func (s *ServiceSuite) routeByDestination(routes map[models.Location]float64) {
	s.distance.EXPECT().Distance(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _, to models.Location) (ports.Route, error) {
			km, ok := routes[to]
			if !ok {
				return ports.Route{}, errors.New("no route")
			}
			return ports.Route{DistanceKm: km, Duration: time.Duration(km) * time.Minute}, nil
		},
	).AnyTimes()
}

// =============================================================================
// Candidate listing
// =============================================================================

func (s *ServiceSuite) TestListCandidates() {
	near := models.Location{Lat: 51.51, Lng: -0.11}
	far := models.Location{Lat: 55.95, Lng: -3.19}
	origin := *s.clinician.Location
	criteria := models.CandidateCriteria{OrganType: id.OrganKidney, BloodGroup: id.BloodGroupOPos, UrgencyScore: 8}

	farOrgan := s.availableOrgan(s.donorAt(&far))
	nearOrgan := s.availableOrgan(s.donorAt(&near))
	s.routeByDestination(map[models.Location]float64{near: 5, far: 500})

	s.Run("closer organ ranks first with a strictly higher score", func() {
		got, err := s.service.ListCandidates(s.ctx, criteria, &origin)
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.Equal(nearOrgan.ID, got[0].Organ.ID)
		s.Equal(farOrgan.ID, got[1].Organ.ID)
		s.Greater(got[0].MatchScore, got[1].MatchScore)
		s.Equal(94.0, got[0].MatchScore)
		s.Equal(58.0, got[1].MatchScore)
		s.Equal(string(scoring.RiskLow), got[0].RiskLevel)
		s.Equal(string(scoring.RiskMedium), got[1].RiskLevel)
	})

	s.Run("missing urgency scores as the default", func() {
		unset := criteria
		unset.UrgencyScore = 0
		got, err := s.service.ListCandidates(s.ctx, unset, &origin)
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.Equal(nearOrgan.ID, got[0].Organ.ID)
		s.Equal(85.0, got[0].MatchScore)
	})

	s.Run("requester location is the origin", func() {
		got, err := s.service.ListCandidatesFor(s.ctx, s.clinician.ID, criteria)
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.Equal(nearOrgan.ID, got[0].Organ.ID)
	})

	s.Run("requester without location is rejected", func() {
		_, err := s.service.ListCandidatesFor(s.ctx, s.outsider.ID, criteria)
		s.requireCode(err, dErrors.CodeInvalidArgument)
	})

	s.Run("no origin degrades every candidate", func() {
		got, err := s.service.ListCandidates(s.ctx, criteria, nil)
		s.Require().NoError(err)
		for _, c := range got {
			s.Nil(c.DistanceKm)
			s.Equal(string(scoring.RecommendInsufficientData), c.Recommendation)
		}
	})

	s.Run("reserved organs are not candidates", func() {
		_, err := s.service.OfferOrgan(s.ctx, farOrgan.ID, nil, s.clinician.ID)
		s.Require().NoError(err)
		got, err := s.service.ListCandidates(s.ctx, criteria, &origin)
		s.Require().NoError(err)
		s.Require().Len(got, 1)
		s.Equal(nearOrgan.ID, got[0].Organ.ID)
	})
}

func (s *ServiceSuite) TestListCandidatesDegradesFailedLookups() {
	reachable := models.Location{Lat: 51.51, Lng: -0.11}
	unreachable := models.Location{Lat: 48.85, Lng: 2.35}
	origin := *s.clinician.Location
	criteria := models.CandidateCriteria{OrganType: id.OrganKidney, UrgencyScore: 5}

	bad := s.availableOrgan(s.donorAt(&unreachable))
	good := s.availableOrgan(s.donorAt(&reachable))
	unknown := s.availableOrgan(s.otherDonor)
	s.routeByDestination(map[models.Location]float64{reachable: 20})

	got, err := s.service.ListCandidates(s.ctx, criteria, &origin)
	s.Require().NoError(err)
	s.Require().Len(got, 3)

	s.Equal(good.ID, got[0].Organ.ID)
	s.Require().NotNil(got[0].DistanceKm)
	s.Equal(85.0, got[0].MatchScore)

	degraded := map[id.OrganID]bool{got[1].Organ.ID: true, got[2].Organ.ID: true}
	s.True(degraded[bad.ID])
	s.True(degraded[unknown.ID])
	for _, c := range got[1:] {
		s.Nil(c.DistanceKm)
		s.Equal(0.0, c.MatchScore)
		s.Equal(string(scoring.RiskUnknown), c.RiskLevel)
		s.Equal(string(scoring.RecommendInsufficientData), c.Recommendation)
	}
	s.True(got[1].Organ.ID.String() < got[2].Organ.ID.String(), "ties break on organ id")
}

func (s *ServiceSuite) TestListCandidatesTimesOutSlowLookups() {
	svc := s.newService(s.store, WithDistanceTimeout(20*time.Millisecond))
	loc := models.Location{Lat: 51.51, Lng: -0.11}
	s.availableOrgan(s.donorAt(&loc))
	s.distance.EXPECT().Distance(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _, _ models.Location) (ports.Route, error) {
			<-ctx.Done()
			return ports.Route{}, ctx.Err()
		},
	)

	origin := *s.clinician.Location
	got, err := svc.ListCandidates(s.ctx, models.CandidateCriteria{OrganType: id.OrganKidney, UrgencyScore: 5}, &origin)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(string(scoring.RecommendInsufficientData), got[0].Recommendation)
}
