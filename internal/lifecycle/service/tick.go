package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"caltrack/internal/audit"
	calmodels "caltrack/internal/calibration/models"
	eqmodels "caltrack/internal/equipment/models"
	"caltrack/internal/notification"
	"caltrack/internal/platform/config"
	"caltrack/internal/scheduler"
	"caltrack/pkg/domain"
	dErrors "caltrack/pkg/domain-errors"
	"caltrack/pkg/platform/sentinel"
	"caltrack/pkg/requestcontext"
)

// tickConcurrency bounds the per-equipment recompute fan-out.
const tickConcurrency = 8

// IntervalChange records one risk-driven interval recommendation from a
// tick, whether applied or only proposed.
type IntervalChange struct {
	EquipmentID     domain.EquipmentID `json:"equipment_id"`
	AssetTag        string             `json:"asset_tag"`
	Score           int                `json:"score"`
	CurrentDays     int                `json:"current_days"`
	RecommendedDays int                `json:"recommended_days"`
	Applied         bool               `json:"applied"`
}

// TickReport is the change set one pass produced.
type TickReport struct {
	CalibrationTasksCreated int                           `json:"calibration_tasks_created"`
	PMTasksCreated          int                           `json:"pm_tasks_created"`
	StatusChanges           []notification.StatusChange   `json:"status_changes,omitempty"`
	IntervalChanges         []IntervalChange              `json:"interval_changes,omitempty"`
}

// Tick runs one scheduling and recompute pass: plan missing tasks,
// recompute every risk profile, refresh cached statuses, and report what
// changed. Safe to call repeatedly; a pass over unchanged state is a
// no-op.
func (s *Service) Tick(ctx context.Context) (*TickReport, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.Tick")
	defer span.End()

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	started := time.Now()
	defer func() { s.metrics.ObserveTickLatency(time.Since(started)) }()

	now := requestcontext.Now(ctx)
	report := &TickReport{}

	fleet, err := s.equipment.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list equipment")
	}

	if err := s.planTasks(ctx, fleet, now, report); err != nil {
		return nil, err
	}

	changes, intervals, err := s.recomputeFleet(ctx, fleet, now)
	if err != nil {
		return nil, err
	}
	report.StatusChanges = changes
	report.IntervalChanges = intervals

	if len(changes) > 0 {
		if err := s.sink.PublishStatusChanges(ctx, changes); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "status change notifications failed", "error", err)
		}
		for _, change := range changes {
			s.metrics.IncrementStatusChange(change.Current)
		}
	}
	return report, nil
}

func (s *Service) planTasks(ctx context.Context, fleet []*eqmodels.Equipment, now time.Time, report *TickReport) error {
	openCal := make(map[domain.EquipmentID]bool, len(fleet))
	openPM := make(map[domain.EquipmentID]bool, len(fleet))
	for _, eq := range fleet {
		if _, err := s.tasks.FindOpenByType(ctx, eq.ID, calmodels.TaskScheduled); err == nil {
			openCal[eq.ID] = true
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check open tasks")
		}
		hasPM, err := s.pm.HasOpen(ctx, eq.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check open pm tasks")
		}
		openPM[eq.ID] = hasPM
	}

	plan := scheduler.Build(scheduler.Input{
		Equipment:       fleet,
		OpenCalibration: openCal,
		OpenPM:          openPM,
		DueWindowDays:   s.dueWindowDays,
	}, now)

	for _, spec := range plan.Calibrations {
		task, err := calmodels.NewTask(domain.NewCalibrationTaskID(), spec.EquipmentID, calmodels.TaskScheduled, spec.DueAt, now)
		if err != nil {
			return err
		}
		if err := s.tasks.Create(ctx, task); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				continue
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create scheduled task")
		}
		report.CalibrationTasksCreated++
		s.metrics.IncrementTaskScheduled("calibration")
		s.logAudit(ctx, audit.ActionCalibrationScheduled, spec.EquipmentID, "", "task_id", task.ID)
	}

	for _, spec := range plan.PM {
		task, err := calmodels.NewPMTask(domain.NewPMTaskID(), spec.EquipmentID, spec.DueAt, now)
		if err != nil {
			return err
		}
		if err := s.pm.Create(ctx, task); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				continue
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create pm task")
		}
		report.PMTasksCreated++
		s.metrics.IncrementTaskScheduled("pm")
		s.logAudit(ctx, audit.ActionPMScheduled, spec.EquipmentID, "", "task_id", task.ID)
	}
	return nil
}

func (s *Service) recomputeFleet(ctx context.Context, fleet []*eqmodels.Equipment, now time.Time) ([]notification.StatusChange, []IntervalChange, error) {
	var (
		mu        sync.Mutex
		changes   []notification.StatusChange
		intervals []IntervalChange
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tickConcurrency)
	for _, eq := range fleet {
		if eq.Retired() && eq.Status == eqmodels.StatusRetired {
			continue
		}
		g.Go(func() error {
			change, interval, err := s.recomputeOne(gctx, eq, now)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if change != nil {
				changes = append(changes, *change)
			}
			if interval != nil {
				intervals = append(intervals, *interval)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return changes, intervals, nil
}

func (s *Service) recomputeOne(ctx context.Context, eq *eqmodels.Equipment, now time.Time) (*notification.StatusChange, *IntervalChange, error) {
	unlock := s.lockEquipment(eq.ID)
	defer unlock()

	var interval *IntervalChange
	if !eq.Retired() {
		profile, err := s.computeRisk(ctx, eq, now)
		if err != nil {
			return nil, nil, err
		}
		if profile.RecommendedIntervalDays < eq.CalibrationIntervalDays {
			interval = &IntervalChange{
				EquipmentID:     eq.ID,
				AssetTag:        eq.AssetTag,
				Score:           profile.Score,
				CurrentDays:     eq.CalibrationIntervalDays,
				RecommendedDays: profile.RecommendedIntervalDays,
				Applied:         s.intervalPolicy == config.IntervalPolicyAuto,
			}
			if interval.Applied {
				if _, err := s.equipment.Execute(ctx, eq.ID,
					func(e *eqmodels.Equipment) error { return e.CanMutate() },
					func(e *eqmodels.Equipment) { e.ApplyInterval(profile.RecommendedIntervalDays, now) },
				); err != nil {
					return nil, nil, s.translateEquipmentErr(err)
				}
				s.logAudit(ctx, audit.ActionIntervalTightened, eq.ID, eq.AssetTag,
					"interval_days", profile.RecommendedIntervalDays, "score", profile.Score)
			} else {
				s.logAudit(ctx, audit.ActionIntervalProposed, eq.ID, eq.AssetTag,
					"interval_days", profile.RecommendedIntervalDays, "score", profile.Score)
			}
		}
	}

	var previous, current eqmodels.Status
	updated, err := s.equipment.Execute(ctx, eq.ID,
		func(e *eqmodels.Equipment) error { return nil },
		func(e *eqmodels.Equipment) {
			previous = e.Status
			current = eqmodels.ResolveStatus(e, now, s.dueWindowDays)
			e.Status = current
		},
	)
	if err != nil {
		return nil, nil, s.translateEquipmentErr(err)
	}
	if previous == current {
		return nil, interval, nil
	}
	return &notification.StatusChange{
		EquipmentID: updated.ID,
		AssetTag:    updated.AssetTag,
		Previous:    string(previous),
		Current:     string(current),
		Reason:      "status recompute",
		At:          now,
	}, interval, nil
}
