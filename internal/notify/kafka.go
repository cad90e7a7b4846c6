package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"organlink/internal/allocation/models"
)

// KafkaConfig configures the notification publisher.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	ClientID          string
	Partitions        int32
	ReplicationFactor int16
	Linger            time.Duration
}

// Kafka publishes notifications as JSON records keyed by recipient, so one
// user's notifications stay ordered on a single partition. Produce is async;
// delivery failures are logged and reported through the failure hook.
type Kafka struct {
	client    *kgo.Client
	topic     string
	logger    *slog.Logger
	onFailure func()
}

type KafkaOption func(*Kafka)

func WithKafkaLogger(logger *slog.Logger) KafkaOption {
	return func(k *Kafka) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithDeliveryFailureHook runs once per record the broker did not accept.
func WithDeliveryFailureHook(fn func()) KafkaOption {
	return func(k *Kafka) {
		k.onFailure = fn
	}
}

func NewKafka(cfg KafkaConfig, opts ...KafkaOption) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("notify: kafka brokers required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("notify: kafka topic required")
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RecordRetries(5),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.Linger > 0 {
		kopts = append(kopts, kgo.ProducerLinger(cfg.Linger))
	}
	client, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	k := &Kafka{client: client, topic: cfg.Topic, logger: slog.Default()}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// EnsureTopic creates the topic if it does not exist.
func (k *Kafka) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	if partitions <= 0 {
		partitions = 1
	}
	if replicationFactor <= 0 {
		replicationFactor = 1
	}
	adm := kadm.NewClient(k.client)
	resp, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, k.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", k.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (k *Kafka) Enqueue(ctx context.Context, n models.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	rec := &kgo.Record{
		Key:   []byte(n.UserID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(n.Kind)},
		},
	}
	// The caller's request may end before the broker acks.
	k.client.Produce(context.WithoutCancel(ctx), rec, func(r *kgo.Record, err error) {
		if err == nil {
			return
		}
		if k.onFailure != nil {
			k.onFailure()
		}
		k.logger.Warn("notification delivery failed",
			"topic", r.Topic,
			"user_id", n.UserID.String(),
			"allocation_id", n.AllocationID.String(),
			"kind", n.Kind,
			"error", err,
		)
	})
	return nil
}

func (k *Kafka) Ping(ctx context.Context) error {
	return k.client.Ping(ctx)
}

// Close flushes buffered records, then closes the client.
func (k *Kafka) Close(ctx context.Context) error {
	err := k.client.Flush(ctx)
	k.client.Close()
	return err
}
