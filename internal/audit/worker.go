package audit

import (
	"context"

	"caltrack/pkg/domain"
)

// Queue is a Store whose writes land on a worker inbox instead of storage,
// keeping persistence off the request path. Reads pass through to the
// backing store so the audit API stays uniform for callers.
type Queue struct {
	inbox chan<- Event
	store Store
}

func NewQueue(inbox chan<- Event, store Store) *Queue {
	return &Queue{inbox: inbox, store: store}
}

func (q *Queue) Append(ctx context.Context, event Event) error {
	select {
	case q.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) ListByEquipment(ctx context.Context, equipmentID domain.EquipmentID) ([]Event, error) {
	return q.store.ListByEquipment(ctx, equipmentID)
}

// Worker drains audit events off a channel and appends them to the store.
// Compliance records must not be lost on shutdown, so cancellation flushes
// whatever is already buffered before returning.
type Worker struct {
	store Store
	inbox <-chan Event
}

func NewWorker(store Store, inbox <-chan Event) *Worker {
	return &Worker{store: store, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return w.flush(ctx.Err())
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				return err
			}
		}
	}
}

// flush appends buffered events with a fresh context since the run context
// is already cancelled.
func (w *Worker) flush(cause error) error {
	for {
		select {
		case event := <-w.inbox:
			if err := w.store.Append(context.Background(), event); err != nil {
				return err
			}
		default:
			return cause
		}
	}
}
