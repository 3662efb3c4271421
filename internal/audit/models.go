package audit

import (
	"time"

	"caltrack/pkg/domain"
)

// Action names what happened. Values are stable strings so downstream
// consumers can filter without importing this package.
type Action string

const (
	ActionEquipmentCreated   Action = "equipment_created"
	ActionEquipmentUpdated   Action = "equipment_updated"
	ActionEquipmentQualified Action = "equipment_qualified"
	ActionEquipmentRetired   Action = "equipment_retired"

	ActionEquipmentRestricted Action = "equipment_restricted"
	ActionEquipmentReleased   Action = "equipment_released"
	ActionManualHoldApplied   Action = "manual_hold_applied"
	ActionManualHoldReleased  Action = "manual_hold_released"

	ActionCalibrationScheduled Action = "calibration_scheduled"
	ActionCalibrationStarted   Action = "calibration_started"
	ActionCalibrationPassed    Action = "calibration_passed"
	ActionCalibrationOOT       Action = "calibration_oot"
	ActionPMScheduled          Action = "pm_scheduled"
	ActionPMCompleted          Action = "pm_completed"

	ActionInvestigationOpened   Action = "investigation_opened"
	ActionInvestigationAdvanced Action = "investigation_advanced"
	ActionInvestigationClosed   Action = "investigation_closed"

	ActionIntervalTightened Action = "interval_tightened"
	ActionIntervalProposed  Action = "interval_proposed"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp   time.Time
	ActorID     string
	EquipmentID domain.EquipmentID
	Action      Action
	Detail      string
}
