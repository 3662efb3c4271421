package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	eqmodels "caltrack/internal/equipment/models"
	"caltrack/pkg/domain"
	"caltrack/pkg/testutil"
)

type SchedulerSuite struct {
	suite.Suite
	now time.Time
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.now = testutil.FixedTime
}

func (s *SchedulerSuite) qualified(tag string, criticality eqmodels.Criticality) *eqmodels.Equipment {
	eq, err := eqmodels.NewEquipment(domain.NewEquipmentID(), tag, "unit "+tag, criticality, 0, 90, s.now.Add(-time.Hour))
	s.Require().NoError(err)
	eq.ApplyQualification(s.now.Add(-time.Hour))
	return eq
}

func (s *SchedulerSuite) TestPlansCalibrationForEquipmentWithoutOpenTask() {
	eq := s.qualified("PUMP-01", eqmodels.CriticalityHigh)

	plan := Build(Input{Equipment: []*eqmodels.Equipment{eq}}, s.now)

	s.Require().Len(plan.Calibrations, 1)
	s.Equal(eq.ID, plan.Calibrations[0].EquipmentID)
	s.Equal(*eq.CalibrationDueAt, plan.Calibrations[0].DueAt)
	s.Require().Len(plan.PM, 1)
	s.Equal(*eq.PMDueAt, plan.PM[0].DueAt)
}

func (s *SchedulerSuite) TestIdempotentOncePlanApplied() {
	eq := s.qualified("PUMP-02", eqmodels.CriticalityLow)

	in := Input{Equipment: []*eqmodels.Equipment{eq}}
	first := Build(in, s.now)
	s.Require().False(first.Empty())

	in.OpenCalibration = map[domain.EquipmentID]bool{eq.ID: true}
	in.OpenPM = map[domain.EquipmentID]bool{eq.ID: true}
	second := Build(in, s.now)

	s.True(second.Empty())
}

func (s *SchedulerSuite) TestSkipsDraftRestrictedAndRetired() {
	draft, err := eqmodels.NewEquipment(domain.NewEquipmentID(), "DR-01", "draft unit", eqmodels.CriticalityMedium, 0, 0, s.now)
	s.Require().NoError(err)

	restricted := s.qualified("RS-01", eqmodels.CriticalityMedium)
	restricted.ApplyRestriction(s.now)

	retired := s.qualified("RT-01", eqmodels.CriticalityMedium)
	s.Require().NoError(retired.CanRetire())
	retired.ApplyRetirement(s.now)

	plan := Build(Input{Equipment: []*eqmodels.Equipment{draft, restricted, retired}}, s.now)

	s.True(plan.Empty())
}

func (s *SchedulerSuite) TestOverdueEquipmentStillPlanned() {
	eq := s.qualified("OV-01", eqmodels.CriticalityCritical)
	past := s.now.Add(-10 * testutil.Day)
	eq.CalibrationDueAt = &past

	plan := Build(Input{Equipment: []*eqmodels.Equipment{eq}}, s.now)

	s.Require().Len(plan.Calibrations, 1)
	s.Equal(past, plan.Calibrations[0].DueAt)
}

func (s *SchedulerSuite) TestPMPlannedIndependentlyOfCalibration() {
	eq := s.qualified("IND-01", eqmodels.CriticalityHigh)

	plan := Build(Input{
		Equipment:       []*eqmodels.Equipment{eq},
		OpenCalibration: map[domain.EquipmentID]bool{eq.ID: true},
	}, s.now)

	s.Empty(plan.Calibrations)
	s.Require().Len(plan.PM, 1)
}

func (s *SchedulerSuite) TestNoPMIntervalMeansNoPMTask() {
	eq, err := eqmodels.NewEquipment(domain.NewEquipmentID(), "NOPM-01", "no pm", eqmodels.CriticalityLow, 0, 0, s.now.Add(-time.Hour))
	s.Require().NoError(err)
	eq.ApplyQualification(s.now.Add(-time.Hour))

	plan := Build(Input{Equipment: []*eqmodels.Equipment{eq}}, s.now)

	s.Require().Len(plan.Calibrations, 1)
	s.Empty(plan.PM)
}
