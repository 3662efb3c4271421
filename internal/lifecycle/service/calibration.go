package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"caltrack/internal/audit"
	"caltrack/internal/calibration/evaluator"
	calmodels "caltrack/internal/calibration/models"
	eqmodels "caltrack/internal/equipment/models"
	invmodels "caltrack/internal/investigation/models"
	"caltrack/internal/notification"
	"caltrack/pkg/domain"
	dErrors "caltrack/pkg/domain-errors"
	"caltrack/pkg/platform/sentinel"
	"caltrack/pkg/requestcontext"
)

// CreateCalibrationTask raises an unscheduled or verification task by
// hand. Scheduled tasks come only from the planner.
func (s *Service) CreateCalibrationTask(ctx context.Context, equipmentID domain.EquipmentID, taskType calmodels.TaskType, dueAt time.Time) (*calmodels.CalibrationTask, error) {
	if taskType == calmodels.TaskScheduled {
		return nil, dErrors.New(dErrors.CodeValidation, "scheduled tasks are created by the scheduler")
	}
	now := requestcontext.Now(ctx)

	eq, err := s.equipment.FindByID(ctx, equipmentID)
	if err != nil {
		return nil, s.translateEquipmentErr(err)
	}
	if err := eq.CanMutate(); err != nil {
		return nil, err
	}
	if !eq.Qualified() {
		return nil, dErrors.New(dErrors.CodeValidation, "equipment is not qualified")
	}

	task, err := calmodels.NewTask(domain.NewCalibrationTaskID(), equipmentID, taskType, dueAt, now)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Newf(dErrors.CodeConflict, "an open %s task already exists", taskType)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create calibration task")
	}

	s.logAudit(ctx, audit.ActionCalibrationScheduled, equipmentID, string(taskType), "task_id", task.ID)
	return task, nil
}

// StartCalibration moves a pending task to in progress.
func (s *Service) StartCalibration(ctx context.Context, taskID domain.CalibrationTaskID) (*calmodels.CalibrationTask, error) {
	now := requestcontext.Now(ctx)
	task, err := s.tasks.Execute(ctx, taskID,
		func(t *calmodels.CalibrationTask) error { return t.CanStart() },
		func(t *calmodels.CalibrationTask) { t.ApplyStart(now) },
	)
	if err != nil {
		return nil, s.translateTaskErr(err)
	}
	s.logAudit(ctx, audit.ActionCalibrationStarted, task.EquipmentID, "", "task_id", task.ID)
	return task, nil
}

// CancelCalibrationTask withdraws a pending task. The scheduler recreates
// a scheduled occurrence on the next pass if the due date still stands.
func (s *Service) CancelCalibrationTask(ctx context.Context, taskID domain.CalibrationTaskID) (*calmodels.CalibrationTask, error) {
	now := requestcontext.Now(ctx)
	task, err := s.tasks.Execute(ctx, taskID,
		func(t *calmodels.CalibrationTask) error { return t.CanCancel() },
		func(t *calmodels.CalibrationTask) { t.ApplyCancel(now) },
	)
	if err != nil {
		return nil, s.translateTaskErr(err)
	}
	return task, nil
}

// ListCalibrationTasks returns the task history for one equipment.
func (s *Service) ListCalibrationTasks(ctx context.Context, equipmentID domain.EquipmentID) ([]*calmodels.CalibrationTask, error) {
	tasks, err := s.tasks.ListByEquipment(ctx, equipmentID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list calibration tasks")
	}
	return tasks, nil
}

// CalibrationResult is what a submission produced. Investigation is set
// only on an out-of-tolerance verdict.
type CalibrationResult struct {
	Task          *calmodels.CalibrationTask `json:"task"`
	Outcome       *evaluator.Outcome         `json:"outcome"`
	Investigation *invmodels.Investigation   `json:"investigation,omitempty"`
}

// SubmitCalibration judges the measurements and finalizes the task in a
// single operation. A passing verdict advances the equipment's
// calibration clock; an out-of-tolerance verdict opens the investigation
// and restricts the equipment before returning. Nothing is written when
// validation fails.
func (s *Service) SubmitCalibration(ctx context.Context, taskID domain.CalibrationTaskID, measurements []calmodels.Measurement, spec calmodels.ToleranceSpec) (*CalibrationResult, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.SubmitCalibration")
	defer span.End()

	now := requestcontext.Now(ctx)

	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, s.translateTaskErr(err)
	}

	unlock := s.lockEquipment(task.EquipmentID)
	defer unlock()

	// Re-read under the lock; a concurrent submission may have finalized
	// the task between the lookup and the lock.
	task, err = s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, s.translateTaskErr(err)
	}

	outcome, err := evaluator.Evaluate(task, measurements, spec)
	if err != nil {
		return nil, err
	}

	if outcome.Verdict == calmodels.ResultPass {
		return s.finalizePass(ctx, task, outcome, now)
	}
	return s.finalizeOOT(ctx, task, outcome, now)
}

func (s *Service) finalizePass(ctx context.Context, task *calmodels.CalibrationTask, outcome *evaluator.Outcome, now time.Time) (*CalibrationResult, error) {
	task, err := s.tasks.Execute(ctx, task.ID,
		func(t *calmodels.CalibrationTask) error { return t.CanEvaluate() },
		func(t *calmodels.CalibrationTask) { t.ApplyPass(now) },
	)
	if err != nil {
		return nil, s.translateTaskErr(err)
	}

	// Verification checks confirm state without resetting the cadence.
	if task.Type != calmodels.TaskVerification {
		if _, err := s.equipment.Execute(ctx, task.EquipmentID,
			func(e *eqmodels.Equipment) error { return e.CanMutate() },
			func(e *eqmodels.Equipment) { e.ApplyCalibrationPass(now) },
		); err != nil {
			return nil, s.translateEquipmentErr(err)
		}
	}

	s.logAudit(ctx, audit.ActionCalibrationPassed, task.EquipmentID, "", "task_id", task.ID)
	s.metrics.IncrementCalibrationResult(string(calmodels.ResultPass))
	return &CalibrationResult{Task: task, Outcome: outcome}, nil
}

func (s *Service) finalizeOOT(ctx context.Context, task *calmodels.CalibrationTask, outcome *evaluator.Outcome, now time.Time) (*CalibrationResult, error) {
	task, err := s.tasks.Execute(ctx, task.ID,
		func(t *calmodels.CalibrationTask) error { return t.CanEvaluate() },
		func(t *calmodels.CalibrationTask) { t.ApplyOOT(now) },
	)
	if err != nil {
		return nil, s.translateTaskErr(err)
	}

	inv, err := invmodels.NewInvestigation(domain.NewInvestigationID(), task.ID, task.EquipmentID, outcome.OOTParameters(), now)
	if err != nil {
		return nil, err
	}
	if err := s.investigations.Create(ctx, inv); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to open investigation")
	}

	eq, err := s.equipment.Execute(ctx, task.EquipmentID,
		func(e *eqmodels.Equipment) error { return nil },
		func(e *eqmodels.Equipment) { e.ApplyRestriction(now) },
	)
	if err != nil {
		return nil, s.translateEquipmentErr(err)
	}

	s.logAudit(ctx, audit.ActionCalibrationOOT, task.EquipmentID,
		strings.Join(inv.FailedParameters, ","), "task_id", task.ID)
	s.logAudit(ctx, audit.ActionInvestigationOpened, task.EquipmentID, "", "investigation_id", inv.ID)
	s.metrics.IncrementCalibrationResult(string(calmodels.ResultOOT))

	s.notifyStatusChange(ctx, notification.StatusChange{
		EquipmentID: eq.ID,
		AssetTag:    eq.AssetTag,
		Previous:    string(eq.Status),
		Current:     string(eqmodels.StatusRestricted),
		Reason:      "calibration out of tolerance",
		At:          now,
	})
	s.notifyInvestigation(ctx, notification.InvestigationEvent{
		InvestigationID: inv.ID,
		EquipmentID:     eq.ID,
		AssetTag:        eq.AssetTag,
		Status:          string(inv.Status),
		At:              now,
	})

	eq.Status = eqmodels.StatusRestricted

	return &CalibrationResult{Task: task, Outcome: outcome, Investigation: inv}, nil
}

// StartPM moves a preventive maintenance task to in progress.
func (s *Service) StartPM(ctx context.Context, taskID domain.PMTaskID) (*calmodels.PMTask, error) {
	now := requestcontext.Now(ctx)
	task, err := s.pm.Execute(ctx, taskID,
		func(t *calmodels.PMTask) error { return t.CanStart() },
		func(t *calmodels.PMTask) { t.ApplyStart(now) },
	)
	if err != nil {
		return nil, s.translateTaskErr(err)
	}
	return task, nil
}

// CompletePM closes a PM task and advances the equipment's PM clock.
func (s *Service) CompletePM(ctx context.Context, taskID domain.PMTaskID) (*calmodels.PMTask, error) {
	now := requestcontext.Now(ctx)

	task, err := s.pm.FindByID(ctx, taskID)
	if err != nil {
		return nil, s.translateTaskErr(err)
	}

	unlock := s.lockEquipment(task.EquipmentID)
	defer unlock()

	task, err = s.pm.Execute(ctx, taskID,
		func(t *calmodels.PMTask) error { return t.CanComplete() },
		func(t *calmodels.PMTask) { t.ApplyComplete(now) },
	)
	if err != nil {
		return nil, s.translateTaskErr(err)
	}

	if _, err := s.equipment.Execute(ctx, task.EquipmentID,
		func(e *eqmodels.Equipment) error { return e.CanMutate() },
		func(e *eqmodels.Equipment) { e.ApplyPMCompletion(now) },
	); err != nil {
		return nil, s.translateEquipmentErr(err)
	}

	s.logAudit(ctx, audit.ActionPMCompleted, task.EquipmentID, "", "task_id", task.ID)
	return task, nil
}

// ListPMTasks returns the PM history for one equipment.
func (s *Service) ListPMTasks(ctx context.Context, equipmentID domain.EquipmentID) ([]*calmodels.PMTask, error) {
	tasks, err := s.pm.ListByEquipment(ctx, equipmentID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pm tasks")
	}
	return tasks, nil
}

func (s *Service) translateTaskErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "task not found")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "task update failed")
}
