package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"certfsm/internal/certificate/models"
)

// KafkaRecorder publishes transition records to a Kafka topic keyed by
// domain name, so per-domain ordering survives partitioning.
type KafkaRecorder struct {
	client *kgo.Client
	topic  string
}

// NewKafkaRecorder connects to the given brokers and ensures the topic
// exists. Topic creation is idempotent; an already-exists response from the
// broker is not an error.
func NewKafkaRecorder(ctx context.Context, brokers []string, topic string) (*KafkaRecorder, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopic(ctx, 1, 1, nil, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure topic %q: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		client.Close()
		return nil, fmt.Errorf("ensure topic %q: %w", topic, resp.Err)
	}

	return &KafkaRecorder{client: client, topic: topic}, nil
}

func (r *KafkaRecorder) Record(ctx context.Context, rec models.TransitionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal transition record: %w", err)
	}
	record := &kgo.Record{
		Topic: r.topic,
		Key:   []byte(rec.Domain),
		Value: payload,
	}
	if err := r.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce transition record: %w", err)
	}
	return nil
}

func (r *KafkaRecorder) Close() {
	r.client.Close()
}
