// Package evaluator judges completed calibration measurements against a
// tolerance specification. The rules are centralized here and kept pure:
// no I/O, no side effects, so every (measurement, band) combination is
// unit-testable.
package evaluator

import (
	"sort"
	"strings"

	"caltrack/internal/calibration/models"
	dErrors "caltrack/pkg/domain-errors"
)

// Detail records how one measurement compared to its band. Kept per
// parameter so the investigation has the raw comparison on file.
type Detail struct {
	Parameter   string  `json:"parameter"`
	Value       float64 `json:"value"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	InTolerance bool    `json:"in_tolerance"`
}

// Outcome is the verdict plus its supporting comparisons.
type Outcome struct {
	Verdict models.TaskResult `json:"verdict"`
	Details []Detail          `json:"details"`
}

// OOTParameters lists the parameters that failed, ordered by name.
func (o *Outcome) OOTParameters() []string {
	var out []string
	for _, d := range o.Details {
		if !d.InTolerance {
			out = append(out, d.Parameter)
		}
	}
	sort.Strings(out)
	return out
}

// Evaluate judges the submitted measurements. The verdict is pass iff
// every measurement lies inside its inclusive band.
//
// Fails with a validation error when measurements are empty, when a
// submitted parameter has no tolerance band, when a declared band
// received no measurement, or when the task is not in progress.
func Evaluate(task *models.CalibrationTask, measurements []models.Measurement, spec models.ToleranceSpec) (*Outcome, error) {
	if err := task.CanEvaluate(); err != nil {
		return nil, err
	}
	if len(measurements) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "no measurements submitted")
	}
	if len(spec.Bands) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "tolerance spec declares no bands")
	}

	covered := make(map[string]bool, len(measurements))
	outcome := &Outcome{Verdict: models.ResultPass}
	for _, m := range measurements {
		band, ok := spec.BandFor(m.Parameter)
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeValidation, "no tolerance band for parameter %q", m.Parameter)
		}
		covered[m.Parameter] = true

		inBand := band.Contains(m.Value)
		if !inBand {
			outcome.Verdict = models.ResultOOT
		}
		outcome.Details = append(outcome.Details, Detail{
			Parameter:   m.Parameter,
			Value:       m.Value,
			Min:         band.Min,
			Max:         band.Max,
			InTolerance: inBand,
		})
	}

	if missing := uncoveredBands(spec, covered); len(missing) > 0 {
		return nil, dErrors.Newf(dErrors.CodeValidation, "missing measurement for declared parameter(s): %s", strings.Join(missing, ", "))
	}

	return outcome, nil
}

func uncoveredBands(spec models.ToleranceSpec, covered map[string]bool) []string {
	var missing []string
	for parameter := range spec.Bands {
		if !covered[parameter] {
			missing = append(missing, parameter)
		}
	}
	sort.Strings(missing)
	return missing
}
