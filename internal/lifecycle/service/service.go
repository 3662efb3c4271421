// Package service orchestrates the equipment compliance lifecycle: it is
// the single writer for equipment, task and investigation state, and the
// only place where calibration verdicts, restrictions and scheduling are
// combined.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"caltrack/internal/audit"
	calmodels "caltrack/internal/calibration/models"
	eqmodels "caltrack/internal/equipment/models"
	invmodels "caltrack/internal/investigation/models"
	"caltrack/internal/lifecycle/metrics"
	"caltrack/internal/notification"
	"caltrack/internal/platform/config"
	"caltrack/internal/platform/middleware"
	"caltrack/pkg/domain"
)

type EquipmentStore interface {
	Create(ctx context.Context, eq *eqmodels.Equipment) error
	FindByID(ctx context.Context, id domain.EquipmentID) (*eqmodels.Equipment, error)
	FindByAssetTag(ctx context.Context, assetTag string) (*eqmodels.Equipment, error)
	List(ctx context.Context) ([]*eqmodels.Equipment, error)
	Execute(ctx context.Context, id domain.EquipmentID, validate func(*eqmodels.Equipment) error, mutate func(*eqmodels.Equipment)) (*eqmodels.Equipment, error)
}

type TaskStore interface {
	Create(ctx context.Context, task *calmodels.CalibrationTask) error
	FindByID(ctx context.Context, id domain.CalibrationTaskID) (*calmodels.CalibrationTask, error)
	Execute(ctx context.Context, id domain.CalibrationTaskID, validate func(*calmodels.CalibrationTask) error, mutate func(*calmodels.CalibrationTask)) (*calmodels.CalibrationTask, error)
	ListByEquipment(ctx context.Context, equipmentID domain.EquipmentID) ([]*calmodels.CalibrationTask, error)
	FindOpenByType(ctx context.Context, equipmentID domain.EquipmentID, taskType calmodels.TaskType) (*calmodels.CalibrationTask, error)
	CountOOTSince(ctx context.Context, equipmentID domain.EquipmentID, since time.Time) (int, error)
}

type PMStore interface {
	Create(ctx context.Context, task *calmodels.PMTask) error
	FindByID(ctx context.Context, id domain.PMTaskID) (*calmodels.PMTask, error)
	Execute(ctx context.Context, id domain.PMTaskID, validate func(*calmodels.PMTask) error, mutate func(*calmodels.PMTask)) (*calmodels.PMTask, error)
	HasOpen(ctx context.Context, equipmentID domain.EquipmentID) (bool, error)
	ListByEquipment(ctx context.Context, equipmentID domain.EquipmentID) ([]*calmodels.PMTask, error)
}

type InvestigationStore interface {
	Create(ctx context.Context, inv *invmodels.Investigation) error
	FindByID(ctx context.Context, id domain.InvestigationID) (*invmodels.Investigation, error)
	FindByTask(ctx context.Context, taskID domain.CalibrationTaskID) (*invmodels.Investigation, error)
	Execute(ctx context.Context, id domain.InvestigationID, validate func(*invmodels.Investigation) error, mutate func(*invmodels.Investigation)) (*invmodels.Investigation, error)
	CountOpenByEquipment(ctx context.Context, equipmentID domain.EquipmentID) (int, error)
	ListByEquipment(ctx context.Context, equipmentID domain.EquipmentID) ([]*invmodels.Investigation, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, base audit.Event) error
}

// Service is the lifecycle orchestrator. All writes to one equipment
// record and its tasks go through its per-equipment lock, so concurrent
// submissions serialize instead of interleaving.
type Service struct {
	equipment      EquipmentStore
	tasks          TaskStore
	pm             PMStore
	investigations InvestigationStore

	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	sink           notification.Sink
	tracer         trace.Tracer

	dueWindowDays  int
	intervalPolicy config.IntervalPolicy

	mu    sync.Mutex
	locks map[domain.EquipmentID]*sync.Mutex
	// tickMu serializes full recompute passes against each other.
	tickMu sync.Mutex
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithNotificationSink(sink notification.Sink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

func WithDueWindowDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.dueWindowDays = days
		}
	}
}

func WithIntervalPolicy(policy config.IntervalPolicy) Option {
	return func(s *Service) {
		s.intervalPolicy = policy
	}
}

// New constructs a Service.
func New(equipment EquipmentStore, tasks TaskStore, pm PMStore, investigations InvestigationStore, opts ...Option) *Service {
	s := &Service{
		equipment:      equipment,
		tasks:          tasks,
		pm:             pm,
		investigations: investigations,
		sink:           notification.Noop{},
		tracer:         otel.Tracer("caltrack/lifecycle"),
		dueWindowDays:  eqmodels.DefaultDueWindowDays,
		intervalPolicy: config.IntervalPolicyPropose,
		locks:          make(map[domain.EquipmentID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockEquipment serializes writers touching one asset. Returns the unlock.
func (s *Service) lockEquipment(id domain.EquipmentID) func() {
	s.mu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	s.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (s *Service) logAudit(ctx context.Context, action audit.Action, equipmentID domain.EquipmentID, detail string, attributes ...any) {
	if requestID := middleware.GetRequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "equipment_id", equipmentID, "event", string(action), "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(action), args...)
	}
	if s.auditPublisher == nil {
		return
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		EquipmentID: equipmentID,
		Action:      action,
		Detail:      detail,
	})
}

func (s *Service) notifyStatusChange(ctx context.Context, change notification.StatusChange) {
	if err := s.sink.PublishStatusChanges(ctx, []notification.StatusChange{change}); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "status change notification failed", "error", err)
	}
	s.metrics.IncrementStatusChange(change.Current)
}

func (s *Service) notifyInvestigation(ctx context.Context, event notification.InvestigationEvent) {
	if err := s.sink.PublishInvestigationEvent(ctx, event); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "investigation notification failed", "error", err)
	}
}
