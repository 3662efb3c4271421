//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"caltrack/internal/calibration/models"
	"caltrack/internal/calibration/store"
	eqmodels "caltrack/internal/equipment/models"
	eqstore "caltrack/internal/equipment/store"
	"caltrack/pkg/domain"
	"caltrack/pkg/platform/sentinel"
	"caltrack/pkg/testutil"
	"caltrack/pkg/testutil/containers"
)

type PostgresTaskStoreSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	tasks     *store.PostgresTaskStore
	pm        *store.PostgresPMStore
	equipment *eqstore.Postgres
}

func TestPostgresTaskStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresTaskStoreSuite))
}

func (s *PostgresTaskStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.tasks = store.NewPostgresTaskStore(s.postgres.DB)
	s.pm = store.NewPostgresPMStore(s.postgres.DB)
	s.equipment = eqstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresTaskStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "equipment"))
}

func (s *PostgresTaskStoreSuite) createEquipment() *eqmodels.Equipment {
	eq, err := eqmodels.NewEquipment(domain.NewEquipmentID(), "TASK-PG-01", "balance", eqmodels.CriticalityHigh, 30, 0, testutil.FixedTime)
	s.Require().NoError(err)
	s.Require().NoError(s.equipment.Create(context.Background(), eq))
	return eq
}

func (s *PostgresTaskStoreSuite) newTask(equipmentID domain.EquipmentID, taskType models.TaskType) *models.CalibrationTask {
	task, err := models.NewTask(domain.NewCalibrationTaskID(), equipmentID, taskType, testutil.FixedTime.AddDate(0, 0, 30), testutil.FixedTime)
	s.Require().NoError(err)
	return task
}

func (s *PostgresTaskStoreSuite) TestSecondOpenTaskOfSameTypeConflicts() {
	ctx := context.Background()
	eq := s.createEquipment()

	s.Require().NoError(s.tasks.Create(ctx, s.newTask(eq.ID, models.TaskScheduled)))

	err := s.tasks.Create(ctx, s.newTask(eq.ID, models.TaskScheduled))
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	// A different type is fine.
	s.Require().NoError(s.tasks.Create(ctx, s.newTask(eq.ID, models.TaskVerification)))
}

func (s *PostgresTaskStoreSuite) TestExecuteRoundTripsResult() {
	ctx := context.Background()
	eq := s.createEquipment()
	task := s.newTask(eq.ID, models.TaskScheduled)
	s.Require().NoError(s.tasks.Create(ctx, task))

	_, err := s.tasks.Execute(ctx, task.ID,
		func(t *models.CalibrationTask) error { return t.CanStart() },
		func(t *models.CalibrationTask) { t.ApplyStart(testutil.FixedTime) },
	)
	s.Require().NoError(err)

	completed := testutil.FixedTime.Add(time.Hour)
	updated, err := s.tasks.Execute(ctx, task.ID,
		func(t *models.CalibrationTask) error { return t.CanEvaluate() },
		func(t *models.CalibrationTask) { t.ApplyPass(completed) },
	)
	s.Require().NoError(err)
	s.Equal(models.TaskCompleted, updated.Status)

	found, err := s.tasks.FindByID(ctx, task.ID)
	s.Require().NoError(err)
	s.Require().NotNil(found.Result)
	s.Equal(models.ResultPass, *found.Result)
	s.Require().NotNil(found.CompletedAt)
	s.True(found.CompletedAt.Equal(completed))
}

func (s *PostgresTaskStoreSuite) TestFindOpenByTypeIgnoresTerminalTasks() {
	ctx := context.Background()
	eq := s.createEquipment()
	task := s.newTask(eq.ID, models.TaskScheduled)
	s.Require().NoError(s.tasks.Create(ctx, task))

	open, err := s.tasks.FindOpenByType(ctx, eq.ID, models.TaskScheduled)
	s.Require().NoError(err)
	s.Equal(task.ID, open.ID)

	_, err = s.tasks.Execute(ctx, task.ID,
		func(t *models.CalibrationTask) error { return t.CanCancel() },
		func(t *models.CalibrationTask) { t.ApplyCancel(testutil.FixedTime) },
	)
	s.Require().NoError(err)

	_, err = s.tasks.FindOpenByType(ctx, eq.ID, models.TaskScheduled)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresTaskStoreSuite) TestCountOOTSinceRespectsCutoff() {
	ctx := context.Background()
	eq := s.createEquipment()

	completeOOT := func(at time.Time) {
		task := s.newTask(eq.ID, models.TaskUnscheduled)
		s.Require().NoError(s.tasks.Create(ctx, task))
		_, err := s.tasks.Execute(ctx, task.ID,
			func(t *models.CalibrationTask) error { return t.CanStart() },
			func(t *models.CalibrationTask) { t.ApplyStart(at) },
		)
		s.Require().NoError(err)
		_, err = s.tasks.Execute(ctx, task.ID,
			func(t *models.CalibrationTask) error { return t.CanEvaluate() },
			func(t *models.CalibrationTask) { t.ApplyOOT(at) },
		)
		s.Require().NoError(err)
	}

	completeOOT(testutil.FixedTime.AddDate(-2, 0, 0))
	completeOOT(testutil.FixedTime.AddDate(0, -3, 0))
	completeOOT(testutil.FixedTime.AddDate(0, -1, 0))

	count, err := s.tasks.CountOOTSince(ctx, eq.ID, testutil.FixedTime.AddDate(-1, 0, 0))
	s.Require().NoError(err)
	s.Equal(2, count)
}

func (s *PostgresTaskStoreSuite) TestPMOpenTaskConflictsAndCompletes() {
	ctx := context.Background()
	eq := s.createEquipment()

	task, err := models.NewPMTask(domain.NewPMTaskID(), eq.ID, testutil.FixedTime.AddDate(0, 0, 180), testutil.FixedTime)
	s.Require().NoError(err)
	s.Require().NoError(s.pm.Create(ctx, task))

	second, err := models.NewPMTask(domain.NewPMTaskID(), eq.ID, testutil.FixedTime.AddDate(0, 0, 180), testutil.FixedTime)
	s.Require().NoError(err)
	s.Require().ErrorIs(s.pm.Create(ctx, second), sentinel.ErrConflict)

	open, err := s.pm.HasOpen(ctx, eq.ID)
	s.Require().NoError(err)
	s.True(open)

	_, err = s.pm.Execute(ctx, task.ID,
		func(t *models.PMTask) error { return t.CanStart() },
		func(t *models.PMTask) { t.ApplyStart(testutil.FixedTime) },
	)
	s.Require().NoError(err)
	_, err = s.pm.Execute(ctx, task.ID,
		func(t *models.PMTask) error { return t.CanComplete() },
		func(t *models.PMTask) { t.ApplyComplete(testutil.FixedTime.Add(time.Hour)) },
	)
	s.Require().NoError(err)

	open, err = s.pm.HasOpen(ctx, eq.ID)
	s.Require().NoError(err)
	s.False(open)
}
