package notification

import (
	"context"
	"encoding/json"

	"github.com/twmb/franz-go/pkg/kgo"

	dErrors "caltrack/pkg/domain-errors"
)

// KafkaSink publishes notifications to a single topic, keyed by equipment
// so all events for one asset land on the same partition in order.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink dials the brokers and verifies connectivity.
func NewKafkaSink(ctx context.Context, brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create kafka client")
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "ping kafka brokers")
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

func (s *KafkaSink) PublishStatusChanges(ctx context.Context, changes []StatusChange) error {
	records := make([]*kgo.Record, 0, len(changes))
	for _, change := range changes {
		record, err := s.record("status_change", change.EquipmentID.String(), change)
		if err != nil {
			return err
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "produce status changes")
	}
	return nil
}

func (s *KafkaSink) PublishInvestigationEvent(ctx context.Context, event InvestigationEvent) error {
	record, err := s.record("investigation", event.EquipmentID.String(), event)
	if err != nil {
		return err
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "produce investigation event")
	}
	return nil
}

func (s *KafkaSink) Close() {
	s.client.Close()
}

func (s *KafkaSink) record(kind, key string, payload any) (*kgo.Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode notification")
	}
	return &kgo.Record{
		Key:   []byte(key),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(kind)},
		},
	}, nil
}
