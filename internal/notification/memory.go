package notification

import (
	"context"
	"sync"
)

// InMemorySink records notifications for inspection. Test double and
// default sink for single-node runs without a broker.
type InMemorySink struct {
	mu             sync.RWMutex
	statusChanges  []StatusChange
	investigations []InvestigationEvent
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{}
}

func (s *InMemorySink) PublishStatusChanges(_ context.Context, changes []StatusChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusChanges = append(s.statusChanges, changes...)
	return nil
}

func (s *InMemorySink) PublishInvestigationEvent(_ context.Context, event InvestigationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.investigations = append(s.investigations, event)
	return nil
}

func (s *InMemorySink) StatusChanges() []StatusChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StatusChange, len(s.statusChanges))
	copy(out, s.statusChanges)
	return out
}

func (s *InMemorySink) InvestigationEvents() []InvestigationEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]InvestigationEvent, len(s.investigations))
	copy(out, s.investigations)
	return out
}
