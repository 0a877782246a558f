package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "metadata",
	Subsystem: "profile_sync",
	Name:      "events_total",
	Help:      "Profile-sync events by result.",
}, []string{"result"})

// ConsumerConfig describes the Kafka consumer-group binding.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Applier *Applier
	Logger  *zap.Logger
}

// Consumer runs the profile-sync consumer group. Handler failures are logged
// and the offset is committed anyway: the applier is idempotent and a poison
// message must not wedge the partition.
type Consumer struct {
	group  sarama.ConsumerGroup
	topic  string
	apply  *Applier
	logger *zap.Logger
}

// NewConsumer connects the consumer group.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("ingest: at least one broker is required")
	}
	if cfg.Applier == nil {
		return nil, fmt.Errorf("ingest: applier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	config := sarama.NewConfig()
	config.Version = sarama.V2_1_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("ingest: consumer group: %w", err)
	}

	return &Consumer{
		group:  group,
		topic:  cfg.Topic,
		apply:  cfg.Applier,
		logger: logger,
	}, nil
}

// Run consumes until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("profile-sync consumer group error", zap.Error(err))
		}
	}()

	handler := &groupHandler{apply: c.apply, logger: c.logger}
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("profile-sync consume error", zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close tears down the consumer group.
func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	apply  *Applier
	logger *zap.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("profile-sync consumer group ready")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if err := h.apply.Apply(session.Context(), message.Value); err != nil {
			eventsTotal.WithLabelValues("failed").Inc()
			h.logger.Error("profile-sync event rejected",
				zap.String("topic", message.Topic),
				zap.Int32("partition", message.Partition),
				zap.Int64("offset", message.Offset),
				zap.Error(err))
		} else {
			eventsTotal.WithLabelValues("applied").Inc()
		}
		session.MarkMessage(message, "")
	}
	return nil
}
