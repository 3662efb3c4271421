// Package scheduler plans calibration and PM task occurrences. It runs on
// demand from the orchestration tick, never from an internal timer, and
// is idempotent: planning twice over unchanged state produces nothing the
// second time.
package scheduler

import (
	"time"

	eqmodels "caltrack/internal/equipment/models"
	"caltrack/pkg/domain"
)

// CalibrationSpec describes a scheduled calibration task to create.
type CalibrationSpec struct {
	EquipmentID domain.EquipmentID
	DueAt       time.Time
}

// PMSpec describes a preventive maintenance task to create.
type PMSpec struct {
	EquipmentID domain.EquipmentID
	DueAt       time.Time
}

// Input is a snapshot of the fleet plus which equipment already has open
// work. The planner is pure; the orchestrator gathers the snapshot and
// persists the plan.
type Input struct {
	Equipment []*eqmodels.Equipment

	// OpenCalibration marks equipment with a pending or in-progress
	// scheduled calibration task.
	OpenCalibration map[domain.EquipmentID]bool
	// OpenPM marks equipment with an open PM task.
	OpenPM map[domain.EquipmentID]bool

	DueWindowDays int
}

// Plan is the set of tasks to create.
type Plan struct {
	Calibrations []CalibrationSpec
	PM           []PMSpec
}

func (p Plan) Empty() bool {
	return len(p.Calibrations) == 0 && len(p.PM) == 0
}

// Build plans one scheduling pass.
//
// Calibration: every active, due, or overdue equipment without an open
// scheduled task gets one, due at its calibration due date. Draft,
// restricted, and retired equipment is skipped - restricted equipment
// returns to the schedule on the tick after its restriction clears.
//
// PM follows the same idempotence rule keyed on the PM due date.
func Build(in Input, now time.Time) Plan {
	var plan Plan
	for _, eq := range in.Equipment {
		if !schedulable(eq, now, in.DueWindowDays) {
			continue
		}

		if eq.CalibrationDueAt != nil && !in.OpenCalibration[eq.ID] {
			plan.Calibrations = append(plan.Calibrations, CalibrationSpec{
				EquipmentID: eq.ID,
				DueAt:       *eq.CalibrationDueAt,
			})
		}

		if eq.PMDueAt != nil && !in.OpenPM[eq.ID] {
			plan.PM = append(plan.PM, PMSpec{
				EquipmentID: eq.ID,
				DueAt:       *eq.PMDueAt,
			})
		}
	}
	return plan
}

func schedulable(eq *eqmodels.Equipment, now time.Time, dueWindowDays int) bool {
	switch eqmodels.ResolveStatus(eq, now, dueWindowDays) {
	case eqmodels.StatusActive, eqmodels.StatusDue, eqmodels.StatusOverdue:
		return true
	}
	return false
}
