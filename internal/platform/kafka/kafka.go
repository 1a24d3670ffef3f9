// Package kafka builds the franz-go client used for the structured audit
// channel and makes sure its topics exist.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"medgate/internal/platform/config"
)

// New creates a producer client. Returns nil when no brokers are configured.
// Produces wait for all in-sync replicas so audit records are durable once acknowledged.
func New(cfg config.KafkaConfig) (*kgo.Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.RecordDeliveryTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopics creates the audit and security topics when missing.
func EnsureTopics(ctx context.Context, client *kgo.Client, cfg config.KafkaConfig) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, cfg.Partitions, cfg.Replication, nil, cfg.AuditTopic, cfg.SecurityTopic)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, t := range resp.Sorted() {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

// Ping checks broker connectivity.
func Ping(ctx context.Context, client *kgo.Client) error {
	return client.Ping(ctx)
}
