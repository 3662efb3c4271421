package models

import (
	"strings"
	"time"

	"caltrack/pkg/domain"
	dErrors "caltrack/pkg/domain-errors"
)

// Criticality classifies how much a process depends on the equipment.
// It drives the base risk score and the base calibration interval.
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityMedium   Criticality = "medium"
	CriticalityLow      Criticality = "low"
)

func (c Criticality) Valid() bool {
	switch c {
	case CriticalityCritical, CriticalityHigh, CriticalityMedium, CriticalityLow:
		return true
	}
	return false
}

// Rank orders criticalities with critical highest. Used by the risk
// calculator for "criticality at or below high" style rules.
func (c Criticality) Rank() int {
	switch c {
	case CriticalityCritical:
		return 4
	case CriticalityHigh:
		return 3
	case CriticalityMedium:
		return 2
	case CriticalityLow:
		return 1
	}
	return 0
}

// BaseIntervalDays is the default calibration cadence for the criticality.
func (c Criticality) BaseIntervalDays() int {
	switch c {
	case CriticalityCritical:
		return 30
	case CriticalityHigh:
		return 60
	case CriticalityMedium:
		return 90
	default:
		return 180
	}
}

// QualificationStatus is the IQ/OQ/PQ completion state gating whether
// equipment may leave draft.
type QualificationStatus string

const (
	QualificationPending    QualificationStatus = "pending"
	QualificationInProgress QualificationStatus = "in_progress"
	QualificationQualified  QualificationStatus = "qualified"
)

func (q QualificationStatus) Valid() bool {
	switch q {
	case QualificationPending, QualificationInProgress, QualificationQualified:
		return true
	}
	return false
}

// Equipment is the aggregate root for a regulated asset.
//
// Invariants:
//   - AssetTag is non-empty and unique across the fleet
//   - Criticality is one of the four defined levels
//   - CalibrationIntervalDays is positive
//   - Status is derived: always recomputable from Qualification, Restricted,
//     CalibrationDueAt and RetiredAt plus wall-clock time. The Status field
//     here is a display cache only, refreshed by the orchestrator; it is
//     never accepted from callers.
//   - RetiredAt set is terminal: no further transitions are permitted
type Equipment struct {
	ID            domain.EquipmentID  `json:"id"`
	AssetTag      string              `json:"asset_tag"`
	Name          string              `json:"name"`
	Criticality   Criticality         `json:"criticality"`
	Qualification QualificationStatus `json:"qualification_status"`

	// Status is the last resolved display status. Cache, not truth.
	Status Status `json:"status"`

	// Restricted is held true while any non-closed OOT investigation
	// references this equipment, or while a manual hold is in place.
	Restricted bool `json:"restricted"`
	// ManualHold records a quality-manager lock independent of
	// investigations. Restriction clears only when both sources are gone.
	ManualHold bool `json:"manual_hold"`

	CalibrationIntervalDays int        `json:"calibration_interval_days"`
	LastCalibrationAt       *time.Time `json:"last_calibration_at,omitempty"`
	CalibrationDueAt        *time.Time `json:"calibration_due_at,omitempty"`

	PMIntervalDays int        `json:"pm_interval_days"`
	PMDueAt        *time.Time `json:"pm_due_at,omitempty"`

	// UsageHoursPerWeek is an optional usage signal feeding the risk score.
	UsageHoursPerWeek int `json:"usage_hours_per_week,omitempty"`

	RetiredAt *time.Time `json:"retired_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewEquipment constructs a draft equipment record and validates invariants.
// The calibration interval defaults to the criticality's base cadence when
// zero.
func NewEquipment(id domain.EquipmentID, assetTag, name string, criticality Criticality, intervalDays, pmIntervalDays int, now time.Time) (*Equipment, error) {
	assetTag = strings.TrimSpace(assetTag)
	if assetTag == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "asset tag is required")
	}
	if !criticality.Valid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown criticality")
	}
	if intervalDays < 0 || pmIntervalDays < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "intervals must not be negative")
	}
	if intervalDays == 0 {
		intervalDays = criticality.BaseIntervalDays()
	}
	return &Equipment{
		ID:                      id,
		AssetTag:                assetTag,
		Name:                    strings.TrimSpace(name),
		Criticality:             criticality,
		Qualification:           QualificationPending,
		Status:                  StatusDraft,
		CalibrationIntervalDays: intervalDays,
		PMIntervalDays:          pmIntervalDays,
		CreatedAt:               now,
		UpdatedAt:               now,
	}, nil
}

func (e *Equipment) Retired() bool   { return e.RetiredAt != nil }
func (e *Equipment) Qualified() bool { return e.Qualification == QualificationQualified }

// CanMutate rejects any mutation of a retired record. Retirement is the
// terminal lifecycle state.
func (e *Equipment) CanMutate() error {
	if e.Retired() {
		return dErrors.New(dErrors.CodeInvalidTransition, "equipment is retired")
	}
	return nil
}

// CanQualify checks the qualification gate.
func (e *Equipment) CanQualify() error {
	if err := e.CanMutate(); err != nil {
		return err
	}
	if e.Qualified() {
		return dErrors.New(dErrors.CodeInvalidTransition, "equipment is already qualified")
	}
	return nil
}

// ApplyQualification completes IQ/OQ/PQ and starts the calibration clock.
// Call CanQualify first.
func (e *Equipment) ApplyQualification(now time.Time) {
	e.Qualification = QualificationQualified
	if e.CalibrationDueAt == nil {
		due := now.AddDate(0, 0, e.CalibrationIntervalDays)
		e.CalibrationDueAt = &due
	}
	if e.PMDueAt == nil && e.PMIntervalDays > 0 {
		pmDue := now.AddDate(0, 0, e.PMIntervalDays)
		e.PMDueAt = &pmDue
	}
	e.UpdatedAt = now
}

// CanRetire checks the terminal transition.
func (e *Equipment) CanRetire() error {
	if e.Retired() {
		return dErrors.New(dErrors.CodeInvalidTransition, "equipment is already retired")
	}
	return nil
}

// ApplyRetirement marks the record terminal. Historical tasks are retained;
// the scheduler simply stops considering the equipment.
func (e *Equipment) ApplyRetirement(now time.Time) {
	e.RetiredAt = &now
	e.UpdatedAt = now
}

// ApplyRestriction locks the equipment out of use.
func (e *Equipment) ApplyRestriction(now time.Time) {
	e.Restricted = true
	e.UpdatedAt = now
}

// ApplyManualHold places a manual quality lock.
func (e *Equipment) ApplyManualHold(now time.Time) {
	e.ManualHold = true
	e.Restricted = true
	e.UpdatedAt = now
}

// ReleaseManualHold lifts the manual lock. The restriction itself clears
// only when openInvestigations is zero; an OOT investigation keeps the
// equipment locked regardless of the manual flag.
func (e *Equipment) ReleaseManualHold(openInvestigations int, now time.Time) {
	e.ManualHold = false
	if openInvestigations == 0 {
		e.Restricted = false
	}
	e.UpdatedAt = now
}

// ReleaseRestriction clears the investigation-driven restriction. It is a
// no-op while a manual hold or another open investigation remains.
func (e *Equipment) ReleaseRestriction(openInvestigations int, now time.Time) {
	if openInvestigations == 0 && !e.ManualHold {
		e.Restricted = false
	}
	e.UpdatedAt = now
}

// ApplyCalibrationPass records a passing calibration: the last-calibration
// date moves to the completion date and the due date advances one interval
// from completion.
func (e *Equipment) ApplyCalibrationPass(completedAt time.Time) {
	completed := completedAt
	e.LastCalibrationAt = &completed
	due := completedAt.AddDate(0, 0, e.CalibrationIntervalDays)
	e.CalibrationDueAt = &due
	e.UpdatedAt = completedAt
}

// ApplyPMCompletion advances the PM clock from the completion date.
func (e *Equipment) ApplyPMCompletion(completedAt time.Time) {
	if e.PMIntervalDays > 0 {
		due := completedAt.AddDate(0, 0, e.PMIntervalDays)
		e.PMDueAt = &due
	}
	e.UpdatedAt = completedAt
}

// ApplyInterval sets a new calibration interval. The next due date is not
// rewritten retroactively; the new cadence takes effect from the next
// passing calibration.
func (e *Equipment) ApplyInterval(days int, now time.Time) {
	if days <= 0 {
		return
	}
	e.CalibrationIntervalDays = days
	e.UpdatedAt = now
}
