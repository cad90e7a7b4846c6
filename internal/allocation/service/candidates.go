package service

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"organlink/internal/allocation/models"
	"organlink/internal/allocation/scoring"
	id "organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

// ListCandidates scores every AVAILABLE organ matching criteria by its
// distance from origin. Distance lookups run in parallel, each under its own
// timeout; a failed lookup degrades only that candidate. Nothing is written.
// A zero urgency scores as models.DefaultUrgency.
func (s *Service) ListCandidates(ctx context.Context, criteria models.CandidateCriteria, origin *models.Location) ([]models.Candidate, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "allocation.list_candidates")
	defer span.End()

	if criteria.UrgencyScore == 0 {
		criteria.UrgencyScore = models.DefaultUrgency
	}

	if origin != nil {
		if err := origin.Validate(); err != nil {
			return nil, err
		}
	}
	organs, err := s.store.ListOrgans(ctx, models.OrganFilter{
		Statuses:   []models.OrganStatus{models.OrganAvailable},
		OrganType:  criteria.OrganType,
		BloodGroup: criteria.BloodGroup,
	})
	if err != nil {
		return nil, wrapStoreErr(err, "organs")
	}

	candidates := make([]models.Candidate, len(organs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.candidateConcurrency)
	for i, organ := range organs {
		g.Go(func() error {
			candidates[i] = s.scoreCandidate(gctx, criteria, organ, origin)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "candidate listing cancelled")
	}

	sortCandidates(candidates)
	span.SetAttributes(attribute.Int("candidates.count", len(candidates)))
	s.metrics.ObserveCandidateList(time.Since(start))
	return candidates, nil
}

// ListCandidatesFor lists candidates from the requesting user's location.
func (s *Service) ListCandidatesFor(ctx context.Context, requesterID id.UserID, criteria models.CandidateCriteria) ([]models.Candidate, error) {
	requester, err := s.loadActor(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if requester.Role != models.RoleClinician && requester.Role != models.RoleAdmin {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only clinicians and admins can list candidates")
	}
	if requester.Location == nil {
		return nil, dErrors.New(dErrors.CodeInvalidArgument, "requester location is not set")
	}
	return s.ListCandidates(ctx, criteria, requester.Location)
}

func (s *Service) scoreCandidate(ctx context.Context, criteria models.CandidateCriteria, organ *models.Organ, origin *models.Location) models.Candidate {
	c := models.Candidate{Organ: organ}
	if origin != nil && organ.Location != nil && s.distance != nil {
		callCtx, cancel := context.WithTimeout(ctx, s.distanceTimeout)
		route, err := s.distance.Distance(callCtx, *origin, *organ.Location)
		cancel()
		if err != nil {
			s.metrics.IncrementDistanceLookups("error")
			s.logger.DebugContext(ctx, "distance lookup failed; candidate degraded",
				"organ_id", organ.ID.String(),
				"error", err,
			)
		} else {
			s.metrics.IncrementDistanceLookups("ok")
			km, dur := route.DistanceKm, route.Duration
			c.DistanceKm = &km
			c.Duration = &dur
		}
	}
	result := scoring.Score(organ.OrganType, criteria.UrgencyScore, c.DistanceKm)
	c.MatchScore = result.MatchScore
	c.RiskLevel = string(result.RiskLevel)
	c.Recommendation = string(result.Recommendation)
	return c
}

// sortCandidates orders by score descending, then distance ascending with
// unknown distances last, then organ id.
func sortCandidates(cs []models.Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.MatchScore != b.MatchScore {
			return a.MatchScore > b.MatchScore
		}
		switch {
		case a.DistanceKm != nil && b.DistanceKm == nil:
			return true
		case a.DistanceKm == nil && b.DistanceKm != nil:
			return false
		case a.DistanceKm != nil && *a.DistanceKm != *b.DistanceKm:
			return *a.DistanceKm < *b.DistanceKm
		}
		return a.Organ.ID.String() < b.Organ.ID.String()
	})
}
