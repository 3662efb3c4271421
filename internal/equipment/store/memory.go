package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"caltrack/internal/equipment/models"
	"caltrack/pkg/domain"
	"caltrack/pkg/platform/sentinel"
)

// InMemory keeps the default deployment simple and the tests fast. It
// intentionally favors clarity over performance.
type InMemory struct {
	mu        sync.RWMutex
	equipment map[domain.EquipmentID]*models.Equipment
	byTag     map[string]domain.EquipmentID
}

func NewInMemory() *InMemory {
	return &InMemory{
		equipment: make(map[domain.EquipmentID]*models.Equipment),
		byTag:     make(map[string]domain.EquipmentID),
	}
}

// Create inserts a new equipment record, enforcing asset tag uniqueness
// (case-insensitive).
func (s *InMemory) Create(_ context.Context, eq *models.Equipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag := strings.ToLower(eq.AssetTag)
	if _, exists := s.byTag[tag]; exists {
		return sentinel.ErrConflict
	}
	clone := *eq
	s.equipment[eq.ID] = &clone
	s.byTag[tag] = eq.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id domain.EquipmentID) (*models.Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	eq, ok := s.equipment[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *eq
	return &clone, nil
}

func (s *InMemory) FindByAssetTag(_ context.Context, assetTag string) (*models.Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byTag[strings.ToLower(assetTag)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *s.equipment[id]
	return &clone, nil
}

// List returns the whole fleet ordered by asset tag. Used by tick.
func (s *InMemory) List(_ context.Context) ([]*models.Equipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Equipment, 0, len(s.equipment))
	for _, eq := range s.equipment {
		clone := *eq
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetTag < out[j].AssetTag })
	return out, nil
}

// Execute runs validate-then-mutate atomically under the store lock and
// returns a copy of the updated record. The validation error passes
// through untouched so services can translate it.
func (s *InMemory) Execute(_ context.Context, id domain.EquipmentID, validate func(*models.Equipment) error, mutate func(*models.Equipment)) (*models.Equipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eq, ok := s.equipment[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := validate(eq); err != nil {
		return nil, err
	}
	mutate(eq)
	clone := *eq
	return &clone, nil
}
