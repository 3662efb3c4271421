package audit

import (
	"context"
	"sync"

	"caltrack/pkg/domain"
)

// InMemoryStore keeps the audit trail in process memory. Suitable for tests
// and single-node deployments where the trail is exported elsewhere.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByEquipment(_ context.Context, equipmentID domain.EquipmentID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Event
	for _, e := range s.events {
		if e.EquipmentID == equipmentID {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns the full trail in append order.
func (s *InMemoryStore) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
