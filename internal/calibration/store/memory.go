package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"caltrack/internal/calibration/models"
	"caltrack/pkg/domain"
	"caltrack/pkg/platform/sentinel"
)

// InMemoryTaskStore holds calibration tasks. Favors clarity over
// performance; scans are linear over a per-equipment index.
type InMemoryTaskStore struct {
	mu          sync.RWMutex
	tasks       map[domain.CalibrationTaskID]*models.CalibrationTask
	byEquipment map[domain.EquipmentID][]domain.CalibrationTaskID
}

func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{
		tasks:       make(map[domain.CalibrationTaskID]*models.CalibrationTask),
		byEquipment: make(map[domain.EquipmentID][]domain.CalibrationTaskID),
	}
}

// Create inserts a pending task. A second open task of the same type for
// the same equipment is a conflict; this backs the scheduler's idempotence
// invariant at the storage layer as well.
func (s *InMemoryTaskStore) Create(_ context.Context, task *models.CalibrationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byEquipment[task.EquipmentID] {
		existing := s.tasks[id]
		if existing.Type == task.Type && existing.Open() {
			return sentinel.ErrConflict
		}
	}

	clone := *task
	s.tasks[task.ID] = &clone
	s.byEquipment[task.EquipmentID] = append(s.byEquipment[task.EquipmentID], task.ID)
	return nil
}

func (s *InMemoryTaskStore) FindByID(_ context.Context, id domain.CalibrationTaskID) (*models.CalibrationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *task
	return &clone, nil
}

// Execute runs validate-then-mutate atomically under the store lock.
func (s *InMemoryTaskStore) Execute(_ context.Context, id domain.CalibrationTaskID, validate func(*models.CalibrationTask) error, mutate func(*models.CalibrationTask)) (*models.CalibrationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(task); err != nil {
		return nil, err
	}
	mutate(task)
	clone := *task
	return &clone, nil
}

func (s *InMemoryTaskStore) ListByEquipment(_ context.Context, equipmentID domain.EquipmentID) ([]*models.CalibrationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.CalibrationTask
	for _, id := range s.byEquipment[equipmentID] {
		clone := *s.tasks[id]
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// FindOpenByType returns the open (pending or in progress) task of the
// given type for the equipment, or ErrNotFound.
func (s *InMemoryTaskStore) FindOpenByType(_ context.Context, equipmentID domain.EquipmentID, taskType models.TaskType) (*models.CalibrationTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byEquipment[equipmentID] {
		task := s.tasks[id]
		if task.Type == taskType && task.Open() {
			clone := *task
			return &clone, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// CountOOTSince counts tasks for the equipment that completed
// out-of-tolerance on or after the cutoff. Feeds the risk calculator's
// trailing-window lookbacks.
func (s *InMemoryTaskStore) CountOOTSince(_ context.Context, equipmentID domain.EquipmentID, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, id := range s.byEquipment[equipmentID] {
		task := s.tasks[id]
		if task.Status == models.TaskOOT && task.CompletedAt != nil && !task.CompletedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// InMemoryPMStore holds preventive maintenance tasks.
type InMemoryPMStore struct {
	mu          sync.RWMutex
	tasks       map[domain.PMTaskID]*models.PMTask
	byEquipment map[domain.EquipmentID][]domain.PMTaskID
}

func NewInMemoryPMStore() *InMemoryPMStore {
	return &InMemoryPMStore{
		tasks:       make(map[domain.PMTaskID]*models.PMTask),
		byEquipment: make(map[domain.EquipmentID][]domain.PMTaskID),
	}
}

func (s *InMemoryPMStore) Create(_ context.Context, task *models.PMTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byEquipment[task.EquipmentID] {
		if s.tasks[id].Open() {
			return sentinel.ErrConflict
		}
	}

	clone := *task
	s.tasks[task.ID] = &clone
	s.byEquipment[task.EquipmentID] = append(s.byEquipment[task.EquipmentID], task.ID)
	return nil
}

func (s *InMemoryPMStore) FindByID(_ context.Context, id domain.PMTaskID) (*models.PMTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *task
	return &clone, nil
}

func (s *InMemoryPMStore) Execute(_ context.Context, id domain.PMTaskID, validate func(*models.PMTask) error, mutate func(*models.PMTask)) (*models.PMTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(task); err != nil {
		return nil, err
	}
	mutate(task)
	clone := *task
	return &clone, nil
}

func (s *InMemoryPMStore) HasOpen(_ context.Context, equipmentID domain.EquipmentID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byEquipment[equipmentID] {
		if s.tasks[id].Open() {
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryPMStore) ListByEquipment(_ context.Context, equipmentID domain.EquipmentID) ([]*models.PMTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.PMTask
	for _, id := range s.byEquipment[equipmentID] {
		clone := *s.tasks[id]
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
