// Package sink holds the structured audit channel writers: a Kafka topic pair
// when brokers are configured, else the slog audit channel.
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"medgate/pkg/platform/audit"
)

// Producer is the subset of *kgo.Client the sink uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Kafka writes access records to the audit topic and security events to the
// security topic. Records are keyed by request id so both phases of one
// request land on the same partition.
type Kafka struct {
	producer      Producer
	auditTopic    string
	securityTopic string
}

func NewKafka(producer Producer, auditTopic, securityTopic string) *Kafka {
	return &Kafka{producer: producer, auditTopic: auditTopic, securityTopic: securityTopic}
}

// Append implements audit.Sink. It returns once the broker acknowledged.
func (k *Kafka) Append(ctx context.Context, record audit.AccessRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal access record: %w", err)
	}
	rec := &kgo.Record{
		Topic: k.auditTopic,
		Key:   []byte(record.RequestID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "phase", Value: []byte(record.Phase)},
			{Key: "category", Value: []byte(record.Category())},
		},
	}
	if err := k.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce access record: %w", err)
	}
	return nil
}

// Write implements security.Writer.
func (k *Kafka) Write(ctx context.Context, events []audit.SecurityEvent) error {
	recs := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal security event: %w", err)
		}
		recs = append(recs, &kgo.Record{
			Topic: k.securityTopic,
			Key:   []byte(e.Subject),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "severity", Value: []byte(e.Severity)},
			},
		})
	}
	if err := k.producer.ProduceSync(ctx, recs...).FirstErr(); err != nil {
		return fmt.Errorf("produce security events: %w", err)
	}
	return nil
}
