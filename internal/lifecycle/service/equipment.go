package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"caltrack/internal/audit"
	eqmodels "caltrack/internal/equipment/models"
	"caltrack/internal/notification"
	"caltrack/internal/risk"
	"caltrack/pkg/domain"
	dErrors "caltrack/pkg/domain-errors"
	"caltrack/pkg/platform/sentinel"
	"caltrack/pkg/requestcontext"
)

// CreateEquipmentRequest carries the writable fields of a new record.
type CreateEquipmentRequest struct {
	AssetTag                string              `json:"asset_tag"`
	Name                    string              `json:"name"`
	Criticality             eqmodels.Criticality `json:"criticality"`
	CalibrationIntervalDays int                 `json:"calibration_interval_days"`
	PMIntervalDays          int                 `json:"pm_interval_days"`
}

// CreateEquipment registers a draft equipment record. The record enters
// the schedule only after qualification.
func (s *Service) CreateEquipment(ctx context.Context, req CreateEquipmentRequest) (*eqmodels.Equipment, error) {
	now := requestcontext.Now(ctx)
	eq, err := eqmodels.NewEquipment(
		domain.NewEquipmentID(),
		strings.TrimSpace(req.AssetTag),
		strings.TrimSpace(req.Name),
		req.Criticality,
		req.CalibrationIntervalDays,
		req.PMIntervalDays,
		now,
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	if err := s.equipment.Create(ctx, eq); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "asset tag must be unique")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create equipment")
	}

	s.logAudit(ctx, audit.ActionEquipmentCreated, eq.ID, eq.AssetTag, "asset_tag", eq.AssetTag)
	return eq, nil
}

// GetEquipment loads one record with its status resolved at call time.
func (s *Service) GetEquipment(ctx context.Context, id domain.EquipmentID) (*eqmodels.Equipment, error) {
	eq, err := s.equipment.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "equipment not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load equipment")
	}
	eq.Status = eqmodels.ResolveStatus(eq, requestcontext.Now(ctx), s.dueWindowDays)
	return eq, nil
}

// ListEquipment returns the fleet with statuses resolved at call time.
func (s *Service) ListEquipment(ctx context.Context) ([]*eqmodels.Equipment, error) {
	fleet, err := s.equipment.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list equipment")
	}
	now := requestcontext.Now(ctx)
	for _, eq := range fleet {
		eq.Status = eqmodels.ResolveStatus(eq, now, s.dueWindowDays)
	}
	return fleet, nil
}

// UpdateEquipment applies a partial update from raw JSON. Unknown and
// derived fields are rejected before anything is loaded.
func (s *Service) UpdateEquipment(ctx context.Context, id domain.EquipmentID, raw []byte) (*eqmodels.Equipment, error) {
	patch, err := eqmodels.ParsePatch(raw)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	unlock := s.lockEquipment(id)
	defer unlock()

	eq, err := s.equipment.Execute(ctx, id,
		func(e *eqmodels.Equipment) error {
			if err := e.CanMutate(); err != nil {
				return err
			}
			return patch.Validate()
		},
		func(e *eqmodels.Equipment) {
			patch.Apply(e, now)
		},
	)
	if err != nil {
		return nil, s.translateEquipmentErr(err)
	}

	s.logAudit(ctx, audit.ActionEquipmentUpdated, eq.ID, eq.AssetTag)
	eq.Status = eqmodels.ResolveStatus(eq, now, s.dueWindowDays)
	return eq, nil
}

// QualifyEquipment completes qualification and starts both clocks.
func (s *Service) QualifyEquipment(ctx context.Context, id domain.EquipmentID) (*eqmodels.Equipment, error) {
	now := requestcontext.Now(ctx)

	unlock := s.lockEquipment(id)
	defer unlock()

	eq, err := s.equipment.Execute(ctx, id,
		func(e *eqmodels.Equipment) error { return e.CanQualify() },
		func(e *eqmodels.Equipment) { e.ApplyQualification(now) },
	)
	if err != nil {
		return nil, s.translateEquipmentErr(err)
	}

	s.logAudit(ctx, audit.ActionEquipmentQualified, eq.ID, eq.AssetTag)
	eq.Status = eqmodels.ResolveStatus(eq, now, s.dueWindowDays)
	return eq, nil
}

// RetireEquipment makes the record terminal. Open tasks are left to the
// next tick, which cancels nothing retroactively but plans no new work.
func (s *Service) RetireEquipment(ctx context.Context, id domain.EquipmentID) (*eqmodels.Equipment, error) {
	now := requestcontext.Now(ctx)

	unlock := s.lockEquipment(id)
	defer unlock()

	eq, err := s.equipment.Execute(ctx, id,
		func(e *eqmodels.Equipment) error { return e.CanRetire() },
		func(e *eqmodels.Equipment) { e.ApplyRetirement(now) },
	)
	if err != nil {
		return nil, s.translateEquipmentErr(err)
	}

	s.logAudit(ctx, audit.ActionEquipmentRetired, eq.ID, eq.AssetTag)
	s.notifyStatusChange(ctx, notification.StatusChange{
		EquipmentID: eq.ID,
		AssetTag:    eq.AssetTag,
		Previous:    string(eq.Status),
		Current:     string(eqmodels.StatusRetired),
		Reason:      "retired",
		At:          now,
	})
	eq.Status = eqmodels.StatusRetired
	return eq, nil
}

// ApplyHold places a manual quality lock on the equipment.
func (s *Service) ApplyHold(ctx context.Context, id domain.EquipmentID) (*eqmodels.Equipment, error) {
	now := requestcontext.Now(ctx)

	unlock := s.lockEquipment(id)
	defer unlock()

	eq, err := s.equipment.Execute(ctx, id,
		func(e *eqmodels.Equipment) error { return e.CanMutate() },
		func(e *eqmodels.Equipment) { e.ApplyManualHold(now) },
	)
	if err != nil {
		return nil, s.translateEquipmentErr(err)
	}

	s.logAudit(ctx, audit.ActionManualHoldApplied, eq.ID, eq.AssetTag)
	s.notifyStatusChange(ctx, notification.StatusChange{
		EquipmentID: eq.ID,
		AssetTag:    eq.AssetTag,
		Previous:    string(eq.Status),
		Current:     string(eqmodels.StatusRestricted),
		Reason:      "manual hold",
		At:          now,
	})
	eq.Status = eqmodels.ResolveStatus(eq, now, s.dueWindowDays)
	return eq, nil
}

// ReleaseHold lifts the manual lock. The restriction stays while any OOT
// investigation remains open.
func (s *Service) ReleaseHold(ctx context.Context, id domain.EquipmentID) (*eqmodels.Equipment, error) {
	now := requestcontext.Now(ctx)

	unlock := s.lockEquipment(id)
	defer unlock()

	open, err := s.investigations.CountOpenByEquipment(ctx, id)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count open investigations")
	}

	eq, err := s.equipment.Execute(ctx, id,
		func(e *eqmodels.Equipment) error { return e.CanMutate() },
		func(e *eqmodels.Equipment) { e.ReleaseManualHold(open, now) },
	)
	if err != nil {
		return nil, s.translateEquipmentErr(err)
	}

	s.logAudit(ctx, audit.ActionManualHoldReleased, eq.ID, eq.AssetTag, "open_investigations", open)
	eq.Status = eqmodels.ResolveStatus(eq, now, s.dueWindowDays)
	return eq, nil
}

// OverrideInterval sets the calibration interval by explicit decision,
// the only path that may lengthen it past the risk recommendation.
func (s *Service) OverrideInterval(ctx context.Context, id domain.EquipmentID, days int) (*eqmodels.Equipment, error) {
	if days < risk.MinIntervalDays {
		return nil, dErrors.Newf(dErrors.CodeValidation, "interval must be at least %d days", risk.MinIntervalDays)
	}
	now := requestcontext.Now(ctx)

	unlock := s.lockEquipment(id)
	defer unlock()

	eq, err := s.equipment.Execute(ctx, id,
		func(e *eqmodels.Equipment) error { return e.CanMutate() },
		func(e *eqmodels.Equipment) { e.ApplyInterval(days, now) },
	)
	if err != nil {
		return nil, s.translateEquipmentErr(err)
	}

	s.logAudit(ctx, audit.ActionIntervalTightened, eq.ID, eq.AssetTag, "interval_days", days)
	return eq, nil
}

// RiskProfile recomputes the risk posture from the current record and
// its task history. Derived on demand, never stored.
func (s *Service) RiskProfile(ctx context.Context, id domain.EquipmentID) (*risk.Profile, error) {
	eq, err := s.equipment.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "equipment not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load equipment")
	}
	now := requestcontext.Now(ctx)
	profile, err := s.computeRisk(ctx, eq, now)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Service) computeRisk(ctx context.Context, eq *eqmodels.Equipment, now time.Time) (risk.Profile, error) {
	oot12, err := s.tasks.CountOOTSince(ctx, eq.ID, now.AddDate(-1, 0, 0))
	if err != nil {
		return risk.Profile{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count recent OOT events")
	}
	oot24, err := s.tasks.CountOOTSince(ctx, eq.ID, now.AddDate(-2, 0, 0))
	if err != nil {
		return risk.Profile{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count OOT history")
	}
	profile := risk.Compute(risk.Input{
		Criticality:         eq.Criticality,
		CurrentIntervalDays: eq.CalibrationIntervalDays,
		OOTCount12Months:    oot12,
		OOTCount24Months:    oot24,
		UsageHoursPerWeek:   eq.UsageHoursPerWeek,
	})
	s.metrics.ObserveRiskScore(profile.Score)
	return profile, nil
}

func (s *Service) translateEquipmentErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "equipment not found")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "equipment update failed")
}
