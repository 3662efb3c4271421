package store

import (
	"context"
	"sort"
	"sync"

	"caltrack/internal/investigation/models"
	"caltrack/pkg/domain"
	"caltrack/pkg/platform/sentinel"
)

// InMemory holds OOT investigations.
type InMemory struct {
	mu             sync.RWMutex
	investigations map[domain.InvestigationID]*models.Investigation
	byEquipment    map[domain.EquipmentID][]domain.InvestigationID
	byTask         map[domain.CalibrationTaskID]domain.InvestigationID
}

func NewInMemory() *InMemory {
	return &InMemory{
		investigations: make(map[domain.InvestigationID]*models.Investigation),
		byEquipment:    make(map[domain.EquipmentID][]domain.InvestigationID),
		byTask:         make(map[domain.CalibrationTaskID]domain.InvestigationID),
	}
}

// Create inserts an investigation. A task can own at most one; a second
// insert for the same task conflicts.
func (s *InMemory) Create(_ context.Context, inv *models.Investigation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byTask[inv.TaskID]; exists {
		return sentinel.ErrConflict
	}
	clone := *inv
	s.investigations[inv.ID] = &clone
	s.byEquipment[inv.EquipmentID] = append(s.byEquipment[inv.EquipmentID], inv.ID)
	s.byTask[inv.TaskID] = inv.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.InvestigationID) (*models.Investigation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.investigations[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *inv
	return &clone, nil
}

func (s *InMemory) FindByTask(_ context.Context, taskID domain.CalibrationTaskID) (*models.Investigation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTask[taskID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *s.investigations[id]
	return &clone, nil
}

// Execute runs validate-then-mutate atomically under the store lock.
func (s *InMemory) Execute(_ context.Context, id domain.InvestigationID, validate func(*models.Investigation) error, mutate func(*models.Investigation)) (*models.Investigation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.investigations[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(inv); err != nil {
		return nil, err
	}
	mutate(inv)
	clone := *inv
	return &clone, nil
}

// CountOpenByEquipment counts non-closed investigations for the
// equipment. The restriction release decision hangs on this number.
func (s *InMemory) CountOpenByEquipment(_ context.Context, equipmentID domain.EquipmentID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, id := range s.byEquipment[equipmentID] {
		if !s.investigations[id].Closed() {
			count++
		}
	}
	return count, nil
}

func (s *InMemory) ListByEquipment(_ context.Context, equipmentID domain.EquipmentID) ([]*models.Investigation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Investigation
	for _, id := range s.byEquipment[equipmentID] {
		clone := *s.investigations[id]
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
