// Package redpanda provides the broker client wrappers and topic management
// for dose event streaming.
package redpanda

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topic names used by the dose engine.
const (
	// TopicDoseEvents carries routine and dose state changes relayed from
	// the outbox.
	TopicDoseEvents = "dose.events"
	// TopicDoseReminders carries upcoming-dose reminders for delivery.
	TopicDoseReminders = "dose.reminders"
	// TopicDeviceConfirmations carries intake confirmations reported by
	// dispenser devices.
	TopicDeviceConfirmations = "device.confirmations"
	// TopicDeadLetter collects messages that exhausted their retries.
	TopicDeadLetter = "dead.letter"
)

// TopicConfig holds configuration for one topic.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// DefaultTopicConfigs returns the topic set the dose engine depends on.
func DefaultTopicConfigs() []TopicConfig {
	ptr := func(s string) *string { return &s }

	base := map[string]*string{
		"cleanup.policy":   ptr("delete"),
		"compression.type": ptr("lz4"),
	}
	withRetention := func(ms string) map[string]*string {
		m := map[string]*string{"retention.ms": ptr(ms)}
		for k, v := range base {
			m[k] = v
		}
		return m
	}

	return []TopicConfig{
		{
			Name:              TopicDoseEvents,
			Partitions:        6,
			ReplicationFactor: 1, // set to 3 in production
			Configs:           withRetention("604800000"), // 7 days
		},
		{
			Name:              TopicDoseReminders,
			Partitions:        6,
			ReplicationFactor: 1,
			Configs:           withRetention("86400000"), // 1 day; reminders go stale fast
		},
		{
			Name:              TopicDeviceConfirmations,
			Partitions:        6,
			ReplicationFactor: 1,
			Configs:           withRetention("604800000"),
		},
		{
			Name:              TopicDeadLetter,
			Partitions:        3,
			ReplicationFactor: 1,
			Configs:           withRetention("2592000000"), // 30 days
		},
	}
}

// Admin provides administrative operations against the broker.
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates a new admin client.
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kgoClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Admin{
		client: kadm.NewClient(kgoClient),
		logger: logger,
	}, nil
}

// CreateTopics creates the specified topics.
func (a *Admin) CreateTopics(ctx context.Context, configs []TopicConfig) error {
	for _, cfg := range configs {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
		for _, r := range resp {
			if r.Err != nil {
				if r.Err.Error() == "TOPIC_ALREADY_EXISTS" {
					a.logger.Info("topic already exists", zap.String("topic", r.Topic))
					continue
				}
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
			a.logger.Info("topic created",
				zap.String("topic", r.Topic),
				zap.Int32("partitions", cfg.Partitions))
		}
	}
	return nil
}

// EnsureTopics creates every topic the engine needs, skipping existing ones.
func (a *Admin) EnsureTopics(ctx context.Context) error {
	return a.CreateTopics(ctx, DefaultTopicConfigs())
}

// GetConsumerGroupLag returns per-partition lag for a consumer group.
func (a *Admin) GetConsumerGroupLag(ctx context.Context, groupID string) (map[string]map[int32]int64, error) {
	described, err := a.client.Lag(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("get consumer group lag: %w", err)
	}

	result := make(map[string]map[int32]int64)
	described.Each(func(l kadm.DescribedGroupLag) {
		for topic, partitions := range l.Lag {
			if result[topic] == nil {
				result[topic] = make(map[int32]int64)
			}
			for partition, lag := range partitions {
				result[topic][partition] = lag.Lag
			}
		}
	})
	return result, nil
}

// Close closes the admin client.
func (a *Admin) Close() {
	a.client.Close()
}

// HealthCheck verifies broker connectivity.
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}
