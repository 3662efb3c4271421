package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caltrack/pkg/domain"
	dErrors "caltrack/pkg/domain-errors"
)

func newOpenInvestigation(t *testing.T) *Investigation {
	t.Helper()
	inv, err := NewInvestigation(domain.NewInvestigationID(), domain.NewCalibrationTaskID(), domain.NewEquipmentID(), []string{"temperature"}, time.Now())
	require.NoError(t, err)
	return inv
}

func atStatus(t *testing.T, status InvestigationStatus) *Investigation {
	t.Helper()
	inv := newOpenInvestigation(t)
	now := time.Now()
	filled := Payload{RootCause: "sensor drift", ImpactAssessment: "batch 42 re-checked"}
	switch status {
	case StatusOpen:
	case StatusInvestigation:
		inv.Apply(EventBeginInvestigation, Payload{}, now)
	case StatusPendingReview:
		inv.Apply(EventBeginInvestigation, Payload{}, now)
		inv.Apply(EventSubmitForReview, filled, now)
	case StatusClosed:
		inv.Apply(EventBeginInvestigation, Payload{}, now)
		inv.Apply(EventSubmitForReview, filled, now)
		inv.Apply(EventApproveClosure, Payload{}, now)
	}
	require.Equal(t, status, inv.Status)
	return inv
}

// TestTransitionTable enumerates every (state, event) pair, including the
// invalid combinations that must fail.
func TestTransitionTable(t *testing.T) {
	filled := Payload{RootCause: "drift", ImpactAssessment: "assessed"}

	cases := []struct {
		from    InvestigationStatus
		event   Event
		payload Payload
		wantErr dErrors.Code // empty means transition is legal
		wantTo  InvestigationStatus
	}{
		{StatusOpen, EventBeginInvestigation, Payload{}, "", StatusInvestigation},
		{StatusOpen, EventSubmitForReview, filled, dErrors.CodeInvalidTransition, ""},
		{StatusOpen, EventRequestRevision, Payload{}, dErrors.CodeInvalidTransition, ""},
		{StatusOpen, EventApproveClosure, filled, dErrors.CodeInvalidTransition, ""},

		{StatusInvestigation, EventBeginInvestigation, Payload{}, dErrors.CodeInvalidTransition, ""},
		{StatusInvestigation, EventSubmitForReview, filled, "", StatusPendingReview},
		{StatusInvestigation, EventRequestRevision, Payload{}, dErrors.CodeInvalidTransition, ""},
		{StatusInvestigation, EventApproveClosure, filled, dErrors.CodeInvalidTransition, ""},

		{StatusPendingReview, EventBeginInvestigation, Payload{}, dErrors.CodeInvalidTransition, ""},
		{StatusPendingReview, EventSubmitForReview, filled, dErrors.CodeInvalidTransition, ""},
		{StatusPendingReview, EventRequestRevision, Payload{}, "", StatusInvestigation},
		{StatusPendingReview, EventApproveClosure, Payload{}, "", StatusClosed},

		{StatusClosed, EventBeginInvestigation, Payload{}, dErrors.CodeInvalidTransition, ""},
		{StatusClosed, EventSubmitForReview, filled, dErrors.CodeInvalidTransition, ""},
		{StatusClosed, EventRequestRevision, Payload{}, dErrors.CodeInvalidTransition, ""},
		{StatusClosed, EventApproveClosure, filled, dErrors.CodeInvalidTransition, ""},
	}

	for _, tc := range cases {
		name := string(tc.from) + "/" + string(tc.event)
		t.Run(name, func(t *testing.T) {
			inv := atStatus(t, tc.from)
			err := inv.CanApply(tc.event, tc.payload)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, tc.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			inv.Apply(tc.event, tc.payload, time.Now())
			assert.Equal(t, tc.wantTo, inv.Status)
		})
	}
}

func TestMandatoryFieldGuard(t *testing.T) {
	t.Run("submitForReview without root cause fails and leaves status unchanged", func(t *testing.T) {
		inv := atStatus(t, StatusInvestigation)
		err := inv.CanApply(EventSubmitForReview, Payload{ImpactAssessment: "only impact"})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeIncompleteInvestigation))
		assert.Equal(t, StatusInvestigation, inv.Status)
	})

	t.Run("approveClosure re-checks the guard", func(t *testing.T) {
		inv := atStatus(t, StatusInvestigation)
		inv.Apply(EventSubmitForReview, Payload{RootCause: "drift", ImpactAssessment: "assessed"}, time.Now())
		// simulate a record whose mandatory field was blanked out of band
		inv.ImpactAssessment = ""

		err := inv.CanApply(EventApproveClosure, Payload{})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeIncompleteInvestigation))
		assert.Equal(t, StatusPendingReview, inv.Status)
	})

	t.Run("payload fields satisfy the guard in the same call", func(t *testing.T) {
		inv := atStatus(t, StatusInvestigation)
		err := inv.CanApply(EventSubmitForReview, Payload{RootCause: "drift", ImpactAssessment: "assessed"})
		require.NoError(t, err)
	})
}

func TestRevisionRoundTrip(t *testing.T) {
	inv := atStatus(t, StatusPendingReview)
	now := time.Now()

	require.NoError(t, inv.CanApply(EventRequestRevision, Payload{}))
	inv.Apply(EventRequestRevision, Payload{}, now)
	assert.Equal(t, StatusInvestigation, inv.Status)

	// prior analysis survives the revision round trip
	assert.Equal(t, "sensor drift", inv.RootCause)
	assert.Equal(t, "batch 42 re-checked", inv.ImpactAssessment)

	require.NoError(t, inv.CanApply(EventSubmitForReview, Payload{}))
	inv.Apply(EventSubmitForReview, Payload{CorrectiveAction: "recalibrated"}, now)
	require.NoError(t, inv.CanApply(EventApproveClosure, Payload{}))
	inv.Apply(EventApproveClosure, Payload{}, now)

	assert.True(t, inv.Closed())
	assert.NotNil(t, inv.ClosedAt)
	assert.Equal(t, "recalibrated", inv.CorrectiveAction)
}
