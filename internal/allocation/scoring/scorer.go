// Package scoring ranks candidate organs for a request. Everything here is a
// pure function of its inputs.
package scoring

import (
	"math"
	"strings"

	id "organlink/pkg/domain"
)

const (
	MaxScore = 100.0
	MinScore = 0.0

	baseScore         = 70.0
	urgencyWeight     = 3.0
	freeDistanceKm    = 50.0
	distancePenaltyKm = 0.1
	lowRiskMaxKm      = 100.0
	mediumRiskMaxKm   = 500.0
	proceedScoreFloor = 40.0
	minUrgency        = 1
	maxUrgency        = 10
)

type RiskLevel string

const (
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
	RiskUnknown RiskLevel = "UNKNOWN"
)

type Recommendation string

const (
	RecommendProceed          Recommendation = "PROCEED"
	RecommendCaution          Recommendation = "CAUTION"
	RecommendInsufficientData Recommendation = "INSUFFICIENT_DATA"
)

// Organs with shorter cold-ischemia windows lose more per kilometre.
var typeFactors = map[id.OrganType]float64{
	id.OrganHeart:    1.5,
	id.OrganLung:     1.4,
	id.OrganLiver:    1.2,
	id.OrganPancreas: 1.1,
	id.OrganKidney:   0.8,
	id.OrganCornea:   0.5,
}

type Result struct {
	MatchScore     float64
	RiskLevel      RiskLevel
	Recommendation Recommendation
}

// Score rates an organ of organType for a request of the given urgency at
// distanceKm. A nil or negative distance yields the minimum score and
// INSUFFICIENT_DATA.
func Score(organType id.OrganType, urgency int, distanceKm *float64) Result {
	if distanceKm == nil || *distanceKm < 0 || math.IsNaN(*distanceKm) {
		return Result{MatchScore: MinScore, RiskLevel: RiskUnknown, Recommendation: RecommendInsufficientData}
	}
	d := *distanceKm
	urgency = min(max(urgency, minUrgency), maxUrgency)

	penalty := math.Max(0, d-freeDistanceKm) * distancePenaltyKm * TypeFactor(organType)
	score := baseScore + urgencyWeight*float64(urgency) - penalty
	score = math.Round(math.Min(MaxScore, math.Max(MinScore, score))*10) / 10

	risk := riskFor(d)
	rec := RecommendProceed
	if risk == RiskHigh || score < proceedScoreFloor {
		rec = RecommendCaution
	}
	return Result{MatchScore: score, RiskLevel: risk, Recommendation: rec}
}

// TypeFactor returns the distance penalty multiplier for an organ type.
func TypeFactor(organType id.OrganType) float64 {
	if f, ok := typeFactors[id.OrganType(strings.ToUpper(string(organType)))]; ok {
		return f
	}
	return 1.0
}

func riskFor(km float64) RiskLevel {
	switch {
	case km <= lowRiskMaxKm:
		return RiskLow
	case km <= mediumRiskMaxKm:
		return RiskMedium
	default:
		return RiskHigh
	}
}
