package service

import (
	"context"
	"errors"
	"time"

	"caltrack/internal/audit"
	eqmodels "caltrack/internal/equipment/models"
	invmodels "caltrack/internal/investigation/models"
	"caltrack/internal/notification"
	"caltrack/pkg/domain"
	dErrors "caltrack/pkg/domain-errors"
	"caltrack/pkg/platform/sentinel"
	"caltrack/pkg/requestcontext"
)

// AdvanceInvestigation applies one workflow event. Closing the last open
// investigation for an equipment lifts its restriction in the same
// operation, unless a manual hold keeps it locked.
func (s *Service) AdvanceInvestigation(ctx context.Context, id domain.InvestigationID, eventName string, payload invmodels.Payload) (*invmodels.Investigation, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.AdvanceInvestigation")
	defer span.End()

	event, err := invmodels.ParseEvent(eventName)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	inv, err := s.investigations.FindByID(ctx, id)
	if err != nil {
		return nil, s.translateInvestigationErr(err)
	}

	unlock := s.lockEquipment(inv.EquipmentID)
	defer unlock()

	inv, err = s.investigations.Execute(ctx, id,
		func(i *invmodels.Investigation) error { return i.CanApply(event, payload) },
		func(i *invmodels.Investigation) { i.Apply(event, payload, now) },
	)
	if err != nil {
		return nil, s.translateInvestigationErr(err)
	}

	s.logAudit(ctx, audit.ActionInvestigationAdvanced, inv.EquipmentID, string(event),
		"investigation_id", inv.ID, "status", inv.Status)
	s.metrics.IncrementInvestigationEvent(string(event))

	if inv.Closed() {
		if err := s.releaseAfterClosure(ctx, inv, now); err != nil {
			return nil, err
		}
	}

	s.notifyInvestigation(ctx, notification.InvestigationEvent{
		InvestigationID: inv.ID,
		EquipmentID:     inv.EquipmentID,
		Status:          string(inv.Status),
		At:              now,
	})
	return inv, nil
}

func (s *Service) releaseAfterClosure(ctx context.Context, inv *invmodels.Investigation, now time.Time) error {
	open, err := s.investigations.CountOpenByEquipment(ctx, inv.EquipmentID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count open investigations")
	}

	eq, err := s.equipment.Execute(ctx, inv.EquipmentID,
		func(e *eqmodels.Equipment) error { return nil },
		func(e *eqmodels.Equipment) { e.ReleaseRestriction(open, now) },
	)
	if err != nil {
		return s.translateEquipmentErr(err)
	}

	s.logAudit(ctx, audit.ActionInvestigationClosed, inv.EquipmentID, "",
		"investigation_id", inv.ID, "open_remaining", open)

	if !eq.Restricted {
		status := eqmodels.ResolveStatus(eq, now, s.dueWindowDays)
		s.logAudit(ctx, audit.ActionEquipmentReleased, eq.ID, eq.AssetTag)
		s.notifyStatusChange(ctx, notification.StatusChange{
			EquipmentID: eq.ID,
			AssetTag:    eq.AssetTag,
			Previous:    string(eqmodels.StatusRestricted),
			Current:     string(status),
			Reason:      "investigation closed",
			At:          now,
		})
	}
	return nil
}

// GetInvestigation loads one investigation.
func (s *Service) GetInvestigation(ctx context.Context, id domain.InvestigationID) (*invmodels.Investigation, error) {
	inv, err := s.investigations.FindByID(ctx, id)
	if err != nil {
		return nil, s.translateInvestigationErr(err)
	}
	return inv, nil
}

// GetInvestigationByTask loads the investigation opened for an OOT task.
func (s *Service) GetInvestigationByTask(ctx context.Context, taskID domain.CalibrationTaskID) (*invmodels.Investigation, error) {
	inv, err := s.investigations.FindByTask(ctx, taskID)
	if err != nil {
		return nil, s.translateInvestigationErr(err)
	}
	return inv, nil
}

// ListInvestigations returns the investigation history for one equipment.
func (s *Service) ListInvestigations(ctx context.Context, equipmentID domain.EquipmentID) ([]*invmodels.Investigation, error) {
	invs, err := s.investigations.ListByEquipment(ctx, equipmentID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list investigations")
	}
	return invs, nil
}

func (s *Service) translateInvestigationErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "investigation not found")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "investigation update failed")
}
