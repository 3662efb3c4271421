package audit

import (
	"context"

	"caltrack/pkg/domain"
	"caltrack/pkg/requestcontext"
)

// Store is the append-only persistence behind the publisher.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByEquipment(ctx context.Context, equipmentID domain.EquipmentID) ([]Event, error)
}

// Publisher captures structured audit events. It is append-only and uses the
// storage layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, base Event) error {
	if base.Timestamp.IsZero() {
		base.Timestamp = requestcontext.Now(ctx)
	}
	if base.ActorID == "" {
		base.ActorID = requestcontext.ActorID(ctx)
	}
	return p.store.Append(ctx, base)
}

func (p *Publisher) List(ctx context.Context, equipmentID domain.EquipmentID) ([]Event, error) {
	return p.store.ListByEquipment(ctx, equipmentID)
}
