package models

import (
	"time"

	"caltrack/pkg/domain"
	dErrors "caltrack/pkg/domain-errors"
)

// PMStatus is the stored state of a preventive maintenance task. Overdue
// is intentionally absent: it is a display-time derivation, never stored.
type PMStatus string

const (
	PMPending    PMStatus = "pending"
	PMInProgress PMStatus = "in_progress"
	PMCompleted  PMStatus = "completed"

	// PMOverdue only ever appears from DisplayStatus.
	PMOverdue PMStatus = "overdue"
)

// PMTask is structurally parallel to CalibrationTask but carries no OOT
// semantics: preventive maintenance has no tolerance verdict.
type PMTask struct {
	ID          domain.PMTaskID    `json:"id"`
	EquipmentID domain.EquipmentID `json:"equipment_id"`
	DueAt       time.Time          `json:"due_at"`
	Status      PMStatus           `json:"status"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func NewPMTask(id domain.PMTaskID, equipmentID domain.EquipmentID, dueAt, now time.Time) (*PMTask, error) {
	if equipmentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "pm task requires an equipment id")
	}
	return &PMTask{
		ID:          id,
		EquipmentID: equipmentID,
		DueAt:       dueAt,
		Status:      PMPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (t *PMTask) Open() bool {
	return t.Status == PMPending || t.Status == PMInProgress
}

// DisplayStatus derives overdue at read time for pending work past its due
// date.
func (t *PMTask) DisplayStatus(now time.Time) PMStatus {
	if t.Open() && t.DueAt.Before(now) {
		return PMOverdue
	}
	return t.Status
}

func (t *PMTask) CanStart() error {
	if t.Status != PMPending {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot start a %s pm task", t.Status)
	}
	return nil
}

func (t *PMTask) ApplyStart(now time.Time) {
	t.Status = PMInProgress
	t.StartedAt = &now
	t.UpdatedAt = now
}

func (t *PMTask) CanComplete() error {
	if t.Status != PMInProgress {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot complete a %s pm task", t.Status)
	}
	return nil
}

func (t *PMTask) ApplyComplete(now time.Time) {
	t.Status = PMCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
}
