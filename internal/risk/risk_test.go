package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	eqmodels "caltrack/internal/equipment/models"
)

func TestCompute_Score(t *testing.T) {
	t.Run("criticality base scores", func(t *testing.T) {
		cases := map[eqmodels.Criticality]int{
			eqmodels.CriticalityCritical: 90,
			eqmodels.CriticalityHigh:     70,
			eqmodels.CriticalityMedium:   45,
			eqmodels.CriticalityLow:      20,
		}
		for crit, want := range cases {
			// one recent OOT defeats the clean-history credit without
			// shifting the base comparison
			p := Compute(Input{Criticality: crit, OOTCount12Months: 1, OOTCount24Months: 1})
			assert.Equal(t, want+ootPointsPerEvent, p.Score, crit)
		}
	})

	t.Run("oot points are capped", func(t *testing.T) {
		p := Compute(Input{Criticality: eqmodels.CriticalityMedium, OOTCount12Months: 10, OOTCount24Months: 10})
		assert.Equal(t, 45+ootPointsCap, p.Score)
	})

	t.Run("clean history credit applies at or below high only", func(t *testing.T) {
		high := Compute(Input{Criticality: eqmodels.CriticalityHigh})
		assert.Equal(t, 70-cleanHistoryCredit, high.Score)

		critical := Compute(Input{Criticality: eqmodels.CriticalityCritical})
		assert.Equal(t, 90, critical.Score)
	})

	t.Run("heavy use adds points", func(t *testing.T) {
		p := Compute(Input{Criticality: eqmodels.CriticalityMedium, OOTCount24Months: 1, UsageHoursPerWeek: heavyUseHoursPerWeek})
		assert.Equal(t, 45+heavyUsePoints, p.Score)
	})

	t.Run("score clamps to 100", func(t *testing.T) {
		p := Compute(Input{Criticality: eqmodels.CriticalityCritical, OOTCount12Months: 6, OOTCount24Months: 6, UsageHoursPerWeek: 80})
		assert.Equal(t, 100, p.Score)
	})
}

func TestCompute_Interval(t *testing.T) {
	t.Run("score at the threshold keeps the base cadence", func(t *testing.T) {
		p := Compute(Input{Criticality: eqmodels.CriticalityHigh, OOTCount24Months: 1})
		assert.Equal(t, 70, p.Score)
		assert.Equal(t, 60, p.RecommendedIntervalDays)
	})

	t.Run("critical with repeated oot tightens strictly below base", func(t *testing.T) {
		p := Compute(Input{Criticality: eqmodels.CriticalityCritical, CurrentIntervalDays: 30, OOTCount12Months: 3, OOTCount24Months: 3})
		assert.Less(t, p.RecommendedIntervalDays, 30)
		assert.GreaterOrEqual(t, p.RecommendedIntervalDays, MinIntervalDays)
	})

	t.Run("maximum score lands on the floor", func(t *testing.T) {
		p := Compute(Input{Criticality: eqmodels.CriticalityCritical, OOTCount12Months: 6, OOTCount24Months: 6, UsageHoursPerWeek: 80})
		assert.Equal(t, MinIntervalDays, p.RecommendedIntervalDays)
	})

	t.Run("monotonic tightening never lengthens the current interval", func(t *testing.T) {
		// medium at score 45: the raw recommendation would be the 90 day
		// base, but the equipment already runs a tighter 30 day cadence
		p := Compute(Input{Criticality: eqmodels.CriticalityMedium, CurrentIntervalDays: 30, OOTCount24Months: 1})
		assert.Equal(t, 30, p.RecommendedIntervalDays)
	})

	t.Run("explicit override allows relaxation", func(t *testing.T) {
		p := Compute(Input{Criticality: eqmodels.CriticalityMedium, CurrentIntervalDays: 30, OOTCount24Months: 1, AllowRelaxation: true})
		assert.Equal(t, 90, p.RecommendedIntervalDays)
	})
}
