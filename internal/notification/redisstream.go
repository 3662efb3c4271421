package notification

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	dErrors "caltrack/pkg/domain-errors"
)

const (
	defaultStatusStream        = "caltrack:status-changes"
	defaultInvestigationStream = "caltrack:investigations"
)

// StreamSink publishes notifications to Redis streams, one XADD per event
// with the payload JSON under a single "data" field.
type StreamSink struct {
	client              redis.Cmdable
	statusStream        string
	investigationStream string
}

func NewStreamSink(client redis.Cmdable) *StreamSink {
	return &StreamSink{
		client:              client,
		statusStream:        defaultStatusStream,
		investigationStream: defaultInvestigationStream,
	}
}

func (s *StreamSink) PublishStatusChanges(ctx context.Context, changes []StatusChange) error {
	for _, change := range changes {
		if err := s.add(ctx, s.statusStream, change); err != nil {
			return err
		}
	}
	return nil
}

func (s *StreamSink) PublishInvestigationEvent(ctx context.Context, event InvestigationEvent) error {
	return s.add(ctx, s.investigationStream, event)
}

func (s *StreamSink) add(ctx context.Context, stream string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode notification")
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": string(data)},
	}).Err()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "publish to "+stream)
	}
	return nil
}
