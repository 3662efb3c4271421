package models

import (
	"time"

	"caltrack/pkg/domain"
	dErrors "caltrack/pkg/domain-errors"
)

// TaskType distinguishes why a calibration exists.
type TaskType string

const (
	// TaskScheduled is created by the scheduler on cadence.
	TaskScheduled TaskType = "scheduled"
	// TaskUnscheduled is raised manually, e.g. after a repair.
	TaskUnscheduled TaskType = "unscheduled"
	// TaskVerification is an intermediate check that does not reset the
	// calibration clock on its own.
	TaskVerification TaskType = "verification"
)

func (t TaskType) Valid() bool {
	switch t {
	case TaskScheduled, TaskUnscheduled, TaskVerification:
		return true
	}
	return false
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskOOT        TaskStatus = "oot"
	TaskCancelled  TaskStatus = "cancelled"
)

// TaskResult is the verdict of an evaluated calibration.
type TaskResult string

const (
	ResultPass TaskResult = "pass"
	ResultOOT  TaskResult = "oot"
)

// CalibrationTask belongs to exactly one equipment record. Historical
// tasks are retained after the equipment retires.
//
// Invariants:
//   - Result is set if and only if Status is completed or oot
//   - Status oot implies exactly one associated investigation exists
//   - completed, oot and cancelled are terminal
type CalibrationTask struct {
	ID          domain.CalibrationTaskID `json:"id"`
	EquipmentID domain.EquipmentID       `json:"equipment_id"`
	Type        TaskType                 `json:"task_type"`
	DueAt       time.Time                `json:"due_at"`
	Status      TaskStatus               `json:"status"`
	Result      *TaskResult              `json:"result,omitempty"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// NewTask constructs a pending calibration task.
func NewTask(id domain.CalibrationTaskID, equipmentID domain.EquipmentID, taskType TaskType, dueAt, now time.Time) (*CalibrationTask, error) {
	if equipmentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "task requires an equipment id")
	}
	if !taskType.Valid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown task type")
	}
	return &CalibrationTask{
		ID:          id,
		EquipmentID: equipmentID,
		Type:        taskType,
		DueAt:       dueAt,
		Status:      TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Open reports whether the task still blocks new scheduling for its
// equipment and type.
func (t *CalibrationTask) Open() bool {
	return t.Status == TaskPending || t.Status == TaskInProgress
}

func (t *CalibrationTask) Terminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskOOT || t.Status == TaskCancelled
}

func (t *CalibrationTask) CanStart() error {
	if t.Status != TaskPending {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot start a %s task", t.Status)
	}
	return nil
}

func (t *CalibrationTask) ApplyStart(now time.Time) {
	t.Status = TaskInProgress
	t.StartedAt = &now
	t.UpdatedAt = now
}

// CanEvaluate gates the evaluator: only in-progress tasks accept
// measurements.
func (t *CalibrationTask) CanEvaluate() error {
	if t.Status != TaskInProgress {
		return dErrors.Newf(dErrors.CodeValidation, "task is %s, not in_progress", t.Status)
	}
	return nil
}

// ApplyPass closes the task with a passing result.
func (t *CalibrationTask) ApplyPass(now time.Time) {
	result := ResultPass
	t.Status = TaskCompleted
	t.Result = &result
	t.CompletedAt = &now
	t.UpdatedAt = now
}

// ApplyOOT closes the task out-of-tolerance. The caller must create the
// associated investigation in the same operation.
func (t *CalibrationTask) ApplyOOT(now time.Time) {
	result := ResultOOT
	t.Status = TaskOOT
	t.Result = &result
	t.CompletedAt = &now
	t.UpdatedAt = now
}

func (t *CalibrationTask) CanCancel() error {
	if t.Status != TaskPending {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot cancel a %s task", t.Status)
	}
	return nil
}

func (t *CalibrationTask) ApplyCancel(now time.Time) {
	t.Status = TaskCancelled
	t.UpdatedAt = now
}

// Measurement is one recorded value for a named parameter.
type Measurement struct {
	Parameter string  `json:"parameter"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit,omitempty"`
}

// ToleranceBand is the inclusive [Min, Max] acceptance range for a
// parameter.
type ToleranceBand struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Unit string  `json:"unit,omitempty"`
}

// Contains reports whether the value is within the band, boundaries
// included.
func (b ToleranceBand) Contains(value float64) bool {
	return value >= b.Min && value <= b.Max
}

// ToleranceSpec maps parameter names to their acceptance bands.
type ToleranceSpec struct {
	Bands map[string]ToleranceBand `json:"bands"`
}

func (s ToleranceSpec) BandFor(parameter string) (ToleranceBand, bool) {
	band, ok := s.Bands[parameter]
	return band, ok
}
