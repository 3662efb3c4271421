package models

import (
	"strings"
	"time"

	"caltrack/pkg/domain"
	dErrors "caltrack/pkg/domain-errors"
)

// InvestigationStatus is the workflow state of an OOT investigation.
type InvestigationStatus string

const (
	StatusOpen          InvestigationStatus = "open"
	StatusInvestigation InvestigationStatus = "investigation"
	StatusPendingReview InvestigationStatus = "pending_review"
	StatusClosed        InvestigationStatus = "closed"
)

// Event is a transition trigger on the investigation workflow.
type Event string

const (
	EventBeginInvestigation Event = "beginInvestigation"
	EventSubmitForReview    Event = "submitForReview"
	EventRequestRevision    Event = "requestRevision"
	EventApproveClosure     Event = "approveClosure"
)

func ParseEvent(s string) (Event, error) {
	switch Event(s) {
	case EventBeginInvestigation, EventSubmitForReview, EventRequestRevision, EventApproveClosure:
		return Event(s), nil
	}
	return "", dErrors.Newf(dErrors.CodeBadRequest, "unknown investigation event %q", s)
}

// transitions is the explicit state table. Anything absent here is an
// invalid transition; guards are checked separately in CanApply.
var transitions = map[InvestigationStatus]map[Event]InvestigationStatus{
	StatusOpen: {
		EventBeginInvestigation: StatusInvestigation,
	},
	StatusInvestigation: {
		EventSubmitForReview: StatusPendingReview,
	},
	StatusPendingReview: {
		EventRequestRevision: StatusInvestigation,
		EventApproveClosure:  StatusClosed,
	},
}

// Investigation is the 1:1 record created when a calibration task
// evaluates out of tolerance. The owning equipment stays restricted while
// the investigation is anything but closed.
//
// Invariants:
//   - exactly one investigation per OOT task
//   - closed requires RootCause and ImpactAssessment to be non-empty
//   - closed is terminal
type Investigation struct {
	ID          domain.InvestigationID   `json:"id"`
	TaskID      domain.CalibrationTaskID `json:"task_id"`
	EquipmentID domain.EquipmentID       `json:"equipment_id"`

	Status InvestigationStatus `json:"status"`

	RootCause        string `json:"root_cause,omitempty"`
	ImpactAssessment string `json:"impact_assessment,omitempty"`
	CorrectiveAction string `json:"corrective_action,omitempty"`
	PreventiveAction string `json:"preventive_action,omitempty"`

	// FailedParameters records which measurements were out of band, copied
	// from the evaluator outcome at creation time.
	FailedParameters []string `json:"failed_parameters,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// NewInvestigation opens an investigation for an OOT task.
func NewInvestigation(id domain.InvestigationID, taskID domain.CalibrationTaskID, equipmentID domain.EquipmentID, failedParameters []string, now time.Time) (*Investigation, error) {
	if taskID.IsNil() || equipmentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "investigation requires task and equipment ids")
	}
	return &Investigation{
		ID:               id,
		TaskID:           taskID,
		EquipmentID:      equipmentID,
		Status:           StatusOpen,
		FailedParameters: failedParameters,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (i *Investigation) Closed() bool { return i.Status == StatusClosed }

// Payload carries the analyst-entered fields accompanying a transition.
// Empty strings leave the stored value unchanged so a reviewer's
// requestRevision does not wipe prior analysis.
type Payload struct {
	RootCause        string `json:"root_cause,omitempty"`
	ImpactAssessment string `json:"impact_assessment,omitempty"`
	CorrectiveAction string `json:"corrective_action,omitempty"`
	PreventiveAction string `json:"preventive_action,omitempty"`
}

// CanApply checks the transition table and the mandatory-field guards
// without mutating the record. The payload is considered as if already
// merged, so a submitForReview carrying the root cause passes the guard.
func (i *Investigation) CanApply(event Event, payload Payload) error {
	next, ok := transitions[i.Status][event]
	if !ok {
		return dErrors.Newf(dErrors.CodeInvalidTransition, "cannot %s an investigation in %s", event, i.Status)
	}

	// Mandatory-field guard on the path to review and closure. Checked at
	// approveClosure again: a revision may have blanked nothing, but the
	// rule is cheap to re-verify and regulator-visible.
	if next == StatusPendingReview || next == StatusClosed {
		rootCause := merged(i.RootCause, payload.RootCause)
		impact := merged(i.ImpactAssessment, payload.ImpactAssessment)
		if rootCause == "" || impact == "" {
			return dErrors.New(dErrors.CodeIncompleteInvestigation, "root cause and impact assessment are required")
		}
	}
	return nil
}

// Apply merges the payload and performs the transition. Call CanApply
// first; Apply assumes the transition is legal.
func (i *Investigation) Apply(event Event, payload Payload, now time.Time) {
	if payload.RootCause != "" {
		i.RootCause = strings.TrimSpace(payload.RootCause)
	}
	if payload.ImpactAssessment != "" {
		i.ImpactAssessment = strings.TrimSpace(payload.ImpactAssessment)
	}
	if payload.CorrectiveAction != "" {
		i.CorrectiveAction = strings.TrimSpace(payload.CorrectiveAction)
	}
	if payload.PreventiveAction != "" {
		i.PreventiveAction = strings.TrimSpace(payload.PreventiveAction)
	}

	i.Status = transitions[i.Status][event]
	if i.Status == StatusClosed {
		i.ClosedAt = &now
	}
	i.UpdatedAt = now
}

func merged(current, incoming string) string {
	if v := strings.TrimSpace(incoming); v != "" {
		return v
	}
	return strings.TrimSpace(current)
}
