package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/suite"

	"caltrack/internal/audit"
	calmodels "caltrack/internal/calibration/models"
	calstore "caltrack/internal/calibration/store"
	eqmodels "caltrack/internal/equipment/models"
	eqstore "caltrack/internal/equipment/store"
	invmodels "caltrack/internal/investigation/models"
	invstore "caltrack/internal/investigation/store"
	"caltrack/internal/lifecycle/service"
	"caltrack/internal/notification"
	"caltrack/internal/platform/config"
	"caltrack/internal/risk"
	domainerr "caltrack/pkg/domain-errors"
	"caltrack/pkg/testutil"
)

type ServiceSuite struct {
	suite.Suite

	equipment      *eqstore.InMemory
	tasks          *calstore.InMemoryTaskStore
	pm             *calstore.InMemoryPMStore
	investigations *invstore.InMemory
	sink           *notification.InMemorySink
	trail          *audit.InMemoryStore

	svc *service.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.equipment = eqstore.NewInMemory()
	s.tasks = calstore.NewInMemoryTaskStore()
	s.pm = calstore.NewInMemoryPMStore()
	s.investigations = invstore.NewInMemory()
	s.sink = notification.NewInMemorySink()
	s.trail = audit.NewInMemoryStore()
	s.svc = s.build()
}

func (s *ServiceSuite) build(opts ...service.Option) *service.Service {
	base := []service.Option{
		service.WithAuditPublisher(audit.NewPublisher(s.trail)),
		service.WithNotificationSink(s.sink),
	}
	return service.New(s.equipment, s.tasks, s.pm, s.investigations, append(base, opts...)...)
}

func (s *ServiceSuite) createQualified(ctx context.Context, tag string, criticality eqmodels.Criticality) *eqmodels.Equipment {
	eq, err := s.svc.CreateEquipment(ctx, service.CreateEquipmentRequest{
		AssetTag:    tag,
		Name:        "balance " + tag,
		Criticality: criticality,
	})
	s.Require().NoError(err)
	eq, err = s.svc.QualifyEquipment(ctx, eq.ID)
	s.Require().NoError(err)
	return eq
}

func (s *ServiceSuite) scheduledTask(ctx context.Context, eq *eqmodels.Equipment) *calmodels.CalibrationTask {
	report, err := s.svc.Tick(ctx)
	s.Require().NoError(err)
	s.Require().GreaterOrEqual(report.CalibrationTasksCreated, 1)
	tasks, err := s.svc.ListCalibrationTasks(ctx, eq.ID)
	s.Require().NoError(err)
	for _, task := range tasks {
		if task.Type == calmodels.TaskScheduled && task.Open() {
			return task
		}
	}
	s.Require().FailNow("no open scheduled task")
	return nil
}

func weightBands() calmodels.ToleranceSpec {
	return calmodels.ToleranceSpec{Bands: map[string]calmodels.ToleranceBand{
		"weight": {Min: 99.5, Max: 100.5, Unit: "g"},
	}}
}

func inBand() []calmodels.Measurement {
	return []calmodels.Measurement{{Parameter: "weight", Value: 100.1, Unit: "g"}}
}

func outOfBand() []calmodels.Measurement {
	return []calmodels.Measurement{{Parameter: "weight", Value: 101.2, Unit: "g"}}
}

func (s *ServiceSuite) TestPassingCalibrationAdvancesTheClock() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-001", eqmodels.CriticalityCritical)
	task := s.scheduledTask(ctx, eq)

	later := testutil.ContextAfter(28 * testutil.Day)
	_, err := s.svc.StartCalibration(later, task.ID)
	s.Require().NoError(err)

	result, err := s.svc.SubmitCalibration(later, task.ID, inBand(), weightBands())
	s.Require().NoError(err)
	s.Equal(calmodels.TaskCompleted, result.Task.Status)
	s.Nil(result.Investigation)

	eq, err = s.svc.GetEquipment(later, eq.ID)
	s.Require().NoError(err)
	completed := testutil.FixedTime.Add(28 * testutil.Day)
	s.Require().NotNil(eq.LastCalibrationAt)
	s.Equal(completed, *eq.LastCalibrationAt)
	s.Equal(completed.AddDate(0, 0, eq.CalibrationIntervalDays), *eq.CalibrationDueAt)
	s.Equal(eqmodels.StatusActive, eq.Status)
	s.False(eq.Restricted)
}

func (s *ServiceSuite) TestOOTOpensInvestigationAndRestricts() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-002", eqmodels.CriticalityHigh)
	task := s.scheduledTask(ctx, eq)

	_, err := s.svc.StartCalibration(ctx, task.ID)
	s.Require().NoError(err)

	result, err := s.svc.SubmitCalibration(ctx, task.ID, outOfBand(), weightBands())
	s.Require().NoError(err)
	s.Equal(calmodels.TaskOOT, result.Task.Status)
	s.Require().NotNil(result.Investigation)
	s.Equal(invmodels.StatusOpen, result.Investigation.Status)
	s.Equal([]string{"weight"}, result.Investigation.FailedParameters)

	inv, err := s.svc.GetInvestigationByTask(ctx, task.ID)
	s.Require().NoError(err)
	s.Equal(result.Investigation.ID, inv.ID)

	eq, err = s.svc.GetEquipment(ctx, eq.ID)
	s.Require().NoError(err)
	s.True(eq.Restricted)
	s.Equal(eqmodels.StatusRestricted, eq.Status)

	events := s.sink.InvestigationEvents()
	s.Require().Len(events, 1)
	s.Equal(inv.ID, events[0].InvestigationID)
}

func (s *ServiceSuite) TestClosureReleasesRestriction() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-003", eqmodels.CriticalityMedium)
	task := s.scheduledTask(ctx, eq)
	_, err := s.svc.StartCalibration(ctx, task.ID)
	s.Require().NoError(err)
	result, err := s.svc.SubmitCalibration(ctx, task.ID, outOfBand(), weightBands())
	s.Require().NoError(err)
	invID := result.Investigation.ID

	_, err = s.svc.AdvanceInvestigation(ctx, invID, "beginInvestigation", invmodels.Payload{})
	s.Require().NoError(err)
	_, err = s.svc.AdvanceInvestigation(ctx, invID, "submitForReview", invmodels.Payload{
		RootCause:        "load cell drift",
		ImpactAssessment: "no released batches affected",
	})
	s.Require().NoError(err)
	inv, err := s.svc.AdvanceInvestigation(ctx, invID, "approveClosure", invmodels.Payload{})
	s.Require().NoError(err)
	s.Equal(invmodels.StatusClosed, inv.Status)
	s.Require().NotNil(inv.ClosedAt)

	eq, err = s.svc.GetEquipment(ctx, eq.ID)
	s.Require().NoError(err)
	s.False(eq.Restricted)
	s.NotEqual(eqmodels.StatusRestricted, eq.Status)
}

func (s *ServiceSuite) TestClosureWithoutMandatoryFieldsFails() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-004", eqmodels.CriticalityMedium)
	task := s.scheduledTask(ctx, eq)
	_, err := s.svc.StartCalibration(ctx, task.ID)
	s.Require().NoError(err)
	result, err := s.svc.SubmitCalibration(ctx, task.ID, outOfBand(), weightBands())
	s.Require().NoError(err)
	invID := result.Investigation.ID

	_, err = s.svc.AdvanceInvestigation(ctx, invID, "beginInvestigation", invmodels.Payload{})
	s.Require().NoError(err)
	_, err = s.svc.AdvanceInvestigation(ctx, invID, "submitForReview", invmodels.Payload{})
	s.Require().Error(err)
	s.True(domainerr.HasCode(err, domainerr.CodeIncompleteInvestigation))

	// Equipment stays locked while the investigation is stuck.
	eq, err = s.svc.GetEquipment(ctx, eq.ID)
	s.Require().NoError(err)
	s.True(eq.Restricted)
}

func (s *ServiceSuite) TestHoldKeepsRestrictionAfterClosure() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-005", eqmodels.CriticalityLow)
	task := s.scheduledTask(ctx, eq)
	_, err := s.svc.StartCalibration(ctx, task.ID)
	s.Require().NoError(err)
	result, err := s.svc.SubmitCalibration(ctx, task.ID, outOfBand(), weightBands())
	s.Require().NoError(err)

	_, err = s.svc.ApplyHold(ctx, eq.ID)
	s.Require().NoError(err)

	invID := result.Investigation.ID
	_, err = s.svc.AdvanceInvestigation(ctx, invID, "beginInvestigation", invmodels.Payload{})
	s.Require().NoError(err)
	_, err = s.svc.AdvanceInvestigation(ctx, invID, "submitForReview", invmodels.Payload{
		RootCause:        "operator error",
		ImpactAssessment: "contained",
	})
	s.Require().NoError(err)
	_, err = s.svc.AdvanceInvestigation(ctx, invID, "approveClosure", invmodels.Payload{})
	s.Require().NoError(err)

	eq, err = s.svc.GetEquipment(ctx, eq.ID)
	s.Require().NoError(err)
	s.True(eq.Restricted)

	eq, err = s.svc.ReleaseHold(ctx, eq.ID)
	s.Require().NoError(err)
	s.False(eq.Restricted)
}

func (s *ServiceSuite) TestClosingOneOfTwoInvestigationsKeepsRestriction() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-006", eqmodels.CriticalityHigh)

	submitOOT := func(task *calmodels.CalibrationTask) *invmodels.Investigation {
		_, err := s.svc.StartCalibration(ctx, task.ID)
		s.Require().NoError(err)
		result, err := s.svc.SubmitCalibration(ctx, task.ID, outOfBand(), weightBands())
		s.Require().NoError(err)
		s.Require().NotNil(result.Investigation)
		return result.Investigation
	}
	closeOut := func(inv *invmodels.Investigation) {
		_, err := s.svc.AdvanceInvestigation(ctx, inv.ID, "beginInvestigation", invmodels.Payload{})
		s.Require().NoError(err)
		_, err = s.svc.AdvanceInvestigation(ctx, inv.ID, "submitForReview", invmodels.Payload{
			RootCause:        "load cell drift",
			ImpactAssessment: "no released batches affected",
		})
		s.Require().NoError(err)
		_, err = s.svc.AdvanceInvestigation(ctx, inv.ID, "approveClosure", invmodels.Payload{})
		s.Require().NoError(err)
	}

	first := submitOOT(s.scheduledTask(ctx, eq))

	verification, err := s.svc.CreateCalibrationTask(ctx, eq.ID, calmodels.TaskVerification, testutil.FixedTime)
	s.Require().NoError(err)
	second := submitOOT(verification)

	closeOut(first)
	eq, err = s.svc.GetEquipment(ctx, eq.ID)
	s.Require().NoError(err)
	s.True(eq.Restricted)
	s.Equal(eqmodels.StatusRestricted, eq.Status)

	closeOut(second)
	eq, err = s.svc.GetEquipment(ctx, eq.ID)
	s.Require().NoError(err)
	s.False(eq.Restricted)
	s.NotEqual(eqmodels.StatusRestricted, eq.Status)
}

func (s *ServiceSuite) TestTickIsIdempotent() {
	ctx := testutil.Context()
	s.createQualified(ctx, "BAL-006", eqmodels.CriticalityHigh)

	first, err := s.svc.Tick(ctx)
	s.Require().NoError(err)
	s.Equal(1, first.CalibrationTasksCreated)

	second, err := s.svc.Tick(ctx)
	s.Require().NoError(err)
	s.Zero(second.CalibrationTasksCreated)
	s.Zero(second.PMTasksCreated)
}

func (s *ServiceSuite) TestCancelledTaskIsRecreatedNextTick() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-007", eqmodels.CriticalityHigh)
	task := s.scheduledTask(ctx, eq)

	_, err := s.svc.CancelCalibrationTask(ctx, task.ID)
	s.Require().NoError(err)

	report, err := s.svc.Tick(ctx)
	s.Require().NoError(err)
	s.Equal(1, report.CalibrationTasksCreated)
}

func (s *ServiceSuite) TestTickProposesTighterIntervalAfterOOTHistory() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-008", eqmodels.CriticalityCritical)

	for i := 0; i < 3; i++ {
		task, err := s.svc.CreateCalibrationTask(ctx, eq.ID, calmodels.TaskUnscheduled, testutil.FixedTime)
		s.Require().NoError(err)
		_, err = s.svc.StartCalibration(ctx, task.ID)
		s.Require().NoError(err)
		_, err = s.svc.SubmitCalibration(ctx, task.ID, outOfBand(), weightBands())
		s.Require().NoError(err)
		// Close the investigation so the next unscheduled task can cycle.
		inv, err := s.svc.GetInvestigationByTask(ctx, task.ID)
		s.Require().NoError(err)
		_, err = s.svc.AdvanceInvestigation(ctx, inv.ID, "beginInvestigation", invmodels.Payload{})
		s.Require().NoError(err)
		_, err = s.svc.AdvanceInvestigation(ctx, inv.ID, "submitForReview", invmodels.Payload{
			RootCause:        "drift",
			ImpactAssessment: "assessed",
		})
		s.Require().NoError(err)
		_, err = s.svc.AdvanceInvestigation(ctx, inv.ID, "approveClosure", invmodels.Payload{})
		s.Require().NoError(err)
	}

	profile, err := s.svc.RiskProfile(ctx, eq.ID)
	s.Require().NoError(err)
	s.Equal(100, profile.Score)
	s.Equal(risk.MinIntervalDays, profile.RecommendedIntervalDays)

	report, err := s.svc.Tick(ctx)
	s.Require().NoError(err)
	s.Require().Len(report.IntervalChanges, 1)
	s.False(report.IntervalChanges[0].Applied)
	s.Equal(risk.MinIntervalDays, report.IntervalChanges[0].RecommendedDays)

	// Default policy proposes without touching the record.
	eq, err = s.svc.GetEquipment(ctx, eq.ID)
	s.Require().NoError(err)
	s.Equal(eqmodels.CriticalityCritical.BaseIntervalDays(), eq.CalibrationIntervalDays)
}

func (s *ServiceSuite) TestAutoPolicyAppliesTighterInterval() {
	svc := s.build(service.WithIntervalPolicy(config.IntervalPolicyAuto))
	ctx := testutil.Context()

	eq, err := svc.CreateEquipment(ctx, service.CreateEquipmentRequest{
		AssetTag: "BAL-009", Name: "auto balance", Criticality: eqmodels.CriticalityCritical,
	})
	s.Require().NoError(err)
	_, err = svc.QualifyEquipment(ctx, eq.ID)
	s.Require().NoError(err)

	task, err := svc.CreateCalibrationTask(ctx, eq.ID, calmodels.TaskUnscheduled, testutil.FixedTime)
	s.Require().NoError(err)
	_, err = svc.StartCalibration(ctx, task.ID)
	s.Require().NoError(err)
	_, err = svc.SubmitCalibration(ctx, task.ID, outOfBand(), weightBands())
	s.Require().NoError(err)

	report, err := svc.Tick(ctx)
	s.Require().NoError(err)
	s.Require().Len(report.IntervalChanges, 1)
	s.True(report.IntervalChanges[0].Applied)

	eq, err = svc.GetEquipment(ctx, eq.ID)
	s.Require().NoError(err)
	s.Equal(report.IntervalChanges[0].RecommendedDays, eq.CalibrationIntervalDays)
	s.Less(eq.CalibrationIntervalDays, eqmodels.CriticalityCritical.BaseIntervalDays())
}

func (s *ServiceSuite) TestTickReportsStatusChanges() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-010", eqmodels.CriticalityCritical)

	_, err := s.svc.Tick(ctx)
	s.Require().NoError(err)

	// Five days before the due date the equipment enters the due window.
	later := testutil.ContextAfter(25 * testutil.Day)
	report, err := s.svc.Tick(later)
	s.Require().NoError(err)

	var found bool
	for _, change := range report.StatusChanges {
		if change.EquipmentID == eq.ID {
			found = true
			s.Equal(string(eqmodels.StatusActive), change.Previous)
			s.Equal(string(eqmodels.StatusDue), change.Current)
		}
	}
	s.True(found)
	s.NotEmpty(s.sink.StatusChanges())
}

func (s *ServiceSuite) TestUpdateRejectsDerivedFields() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-011", eqmodels.CriticalityLow)

	_, err := s.svc.UpdateEquipment(ctx, eq.ID, []byte(`{"status":"active"}`))
	s.Require().Error(err)
	s.True(domainerr.HasCode(err, domainerr.CodeInvalidField))

	body, err := json.Marshal(map[string]any{"name": "renamed balance"})
	s.Require().NoError(err)
	updated, err := s.svc.UpdateEquipment(ctx, eq.ID, body)
	s.Require().NoError(err)
	s.Equal("renamed balance", updated.Name)
}

func (s *ServiceSuite) TestRetiredEquipmentRejectsWork() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-012", eqmodels.CriticalityLow)

	_, err := s.svc.RetireEquipment(ctx, eq.ID)
	s.Require().NoError(err)

	_, err = s.svc.UpdateEquipment(ctx, eq.ID, []byte(`{"name":"zombie"}`))
	s.True(domainerr.HasCode(err, domainerr.CodeInvalidTransition))

	_, err = s.svc.CreateCalibrationTask(ctx, eq.ID, calmodels.TaskUnscheduled, testutil.FixedTime)
	s.True(domainerr.HasCode(err, domainerr.CodeInvalidTransition))

	report, err := s.svc.Tick(ctx)
	s.Require().NoError(err)
	s.Zero(report.CalibrationTasksCreated)
}

func (s *ServiceSuite) TestSubmitOnPendingTaskFailsValidation() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-013", eqmodels.CriticalityMedium)
	task := s.scheduledTask(ctx, eq)

	_, err := s.svc.SubmitCalibration(ctx, task.ID, inBand(), weightBands())
	s.Require().Error(err)
	s.True(domainerr.HasCode(err, domainerr.CodeValidation))

	// Nothing was written.
	got, err := s.svc.ListCalibrationTasks(ctx, eq.ID)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(calmodels.TaskPending, got[0].Status)
	invs, err := s.svc.ListInvestigations(ctx, eq.ID)
	s.Require().NoError(err)
	s.Empty(invs)
}

func (s *ServiceSuite) TestVerificationPassDoesNotResetClock() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-014", eqmodels.CriticalityHigh)
	dueBefore := *eq.CalibrationDueAt

	task, err := s.svc.CreateCalibrationTask(ctx, eq.ID, calmodels.TaskVerification, testutil.FixedTime)
	s.Require().NoError(err)
	_, err = s.svc.StartCalibration(ctx, task.ID)
	s.Require().NoError(err)
	_, err = s.svc.SubmitCalibration(ctx, task.ID, inBand(), weightBands())
	s.Require().NoError(err)

	eq, err = s.svc.GetEquipment(ctx, eq.ID)
	s.Require().NoError(err)
	s.Equal(dueBefore, *eq.CalibrationDueAt)
	s.Nil(eq.LastCalibrationAt)
}

func (s *ServiceSuite) TestPMCompletionAdvancesPMClock() {
	ctx := testutil.Context()
	eq, err := s.svc.CreateEquipment(ctx, service.CreateEquipmentRequest{
		AssetTag:       "BAL-015",
		Name:           "oven",
		Criticality:    eqmodels.CriticalityMedium,
		PMIntervalDays: 180,
	})
	s.Require().NoError(err)
	_, err = s.svc.QualifyEquipment(ctx, eq.ID)
	s.Require().NoError(err)

	report, err := s.svc.Tick(ctx)
	s.Require().NoError(err)
	s.Equal(1, report.PMTasksCreated)

	pmTasks, err := s.svc.ListPMTasks(ctx, eq.ID)
	s.Require().NoError(err)
	s.Require().Len(pmTasks, 1)

	later := testutil.ContextAfter(30 * testutil.Day)
	_, err = s.svc.StartPM(later, pmTasks[0].ID)
	s.Require().NoError(err)
	_, err = s.svc.CompletePM(later, pmTasks[0].ID)
	s.Require().NoError(err)

	eq, err = s.svc.GetEquipment(later, eq.ID)
	s.Require().NoError(err)
	completed := testutil.FixedTime.Add(30 * testutil.Day)
	s.Equal(completed.AddDate(0, 0, 180), *eq.PMDueAt)
}

func (s *ServiceSuite) TestAuditTrailCoversTheLifecycle() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-016", eqmodels.CriticalityHigh)
	task := s.scheduledTask(ctx, eq)
	_, err := s.svc.StartCalibration(ctx, task.ID)
	s.Require().NoError(err)
	_, err = s.svc.SubmitCalibration(ctx, task.ID, outOfBand(), weightBands())
	s.Require().NoError(err)

	events, err := s.trail.ListByEquipment(ctx, eq.ID)
	s.Require().NoError(err)

	seen := map[audit.Action]bool{}
	for _, e := range events {
		seen[e.Action] = true
	}
	for _, want := range []audit.Action{
		audit.ActionEquipmentCreated,
		audit.ActionEquipmentQualified,
		audit.ActionCalibrationScheduled,
		audit.ActionCalibrationStarted,
		audit.ActionCalibrationOOT,
		audit.ActionInvestigationOpened,
	} {
		s.True(seen[want], string(want))
	}
}

func (s *ServiceSuite) TestConcurrentSubmissionsOnlyOneWins() {
	ctx := testutil.Context()
	eq := s.createQualified(ctx, "BAL-017", eqmodels.CriticalityHigh)
	task := s.scheduledTask(ctx, eq)
	_, err := s.svc.StartCalibration(ctx, task.ID)
	s.Require().NoError(err)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := s.svc.SubmitCalibration(ctx, task.ID, inBand(), weightBands())
			results <- err
		}()
	}
	var failures int
	for i := 0; i < 2; i++ {
		if <-results != nil {
			failures++
		}
	}
	s.Equal(1, failures)

	got, err := s.svc.ListCalibrationTasks(ctx, eq.ID)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(calmodels.TaskCompleted, got[0].Status)
}
