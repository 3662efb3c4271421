// Package risk derives a numeric risk score and a recommended calibration
// interval from criticality, OOT history, and usage signals.
//
// This is pure domain logic - no I/O, no side effects. The calculator
// proposes intervals; whether a proposal is applied is the orchestrator's
// decision, driven by configuration.
package risk

import (
	eqmodels "caltrack/internal/equipment/models"
)

const (
	// ootPointsPerEvent is added per OOT event in the trailing 12 months.
	ootPointsPerEvent = 5
	// ootPointsCap bounds the OOT history contribution.
	ootPointsCap = 30
	// cleanHistoryCredit is subtracted when no OOT occurred in the
	// trailing 24 months and criticality is at or below high.
	cleanHistoryCredit = 10
	// heavyUsePoints is added when usage exceeds heavyUseHoursPerWeek.
	heavyUsePoints       = 5
	heavyUseHoursPerWeek = 40

	// tighteningThreshold is the score above which the recommended
	// interval shrinks below the criticality base.
	tighteningThreshold = 70
	// MinIntervalDays is the floor for any recommendation.
	MinIntervalDays = 15
)

// Input gathers everything the calculator needs. Counts are over the
// trailing windows ending at evaluation time; the caller derives them
// from task history.
type Input struct {
	Criticality         eqmodels.Criticality
	CurrentIntervalDays int
	OOTCount12Months    int
	OOTCount24Months    int
	UsageHoursPerWeek   int

	// AllowRelaxation overrides the monotonic-tightening rule, letting a
	// recommendation lengthen the current interval. Requires an explicit
	// review decision upstream.
	AllowRelaxation bool
}

// Profile is the derived risk posture. Never stored independently; it is
// recomputed from inputs on demand.
type Profile struct {
	Score                   int `json:"score"`
	RecommendedIntervalDays int `json:"recommended_interval_days"`
}

func baseScore(c eqmodels.Criticality) int {
	switch c {
	case eqmodels.CriticalityCritical:
		return 90
	case eqmodels.CriticalityHigh:
		return 70
	case eqmodels.CriticalityMedium:
		return 45
	default:
		return 20
	}
}

// Compute derives the risk profile.
//
// Score: criticality base, plus capped OOT history points, minus the
// clean-history credit, plus the heavy-use signal, clamped to [0,100].
//
// Interval: the criticality base cadence, scaled down linearly once the
// score exceeds the tightening threshold, floored at MinIntervalDays.
// Recommendations never lengthen a currently shorter interval unless
// AllowRelaxation is set - a spuriously lowered score must not relax
// oversight by accident.
func Compute(in Input) Profile {
	score := baseScore(in.Criticality)

	ootPoints := in.OOTCount12Months * ootPointsPerEvent
	if ootPoints > ootPointsCap {
		ootPoints = ootPointsCap
	}
	score += ootPoints

	if in.OOTCount24Months == 0 && in.Criticality.Rank() <= eqmodels.CriticalityHigh.Rank() {
		score -= cleanHistoryCredit
	}

	if in.UsageHoursPerWeek >= heavyUseHoursPerWeek {
		score += heavyUsePoints
	}

	score = clamp(score, 0, 100)

	return Profile{
		Score:                   score,
		RecommendedIntervalDays: recommendInterval(in, score),
	}
}

func recommendInterval(in Input, score int) int {
	base := in.Criticality.BaseIntervalDays()

	recommended := base
	if score > tighteningThreshold {
		// linear interpolation from base at the threshold down to the
		// floor at score 100
		span := base - MinIntervalDays
		recommended = base - span*(score-tighteningThreshold)/(100-tighteningThreshold)
		if recommended < MinIntervalDays {
			recommended = MinIntervalDays
		}
	}

	if !in.AllowRelaxation && in.CurrentIntervalDays > 0 && recommended > in.CurrentIntervalDays {
		recommended = in.CurrentIntervalDays
	}
	return recommended
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
