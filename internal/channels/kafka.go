package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Publish keys messages by supporter so one supporter's changes stay ordered.
func (k *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		v, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal channel event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.SupporterID),
			Value: v,
			Time:  e.OccurredAt,
		})
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

func (k *KafkaPublisher) Close() error { return k.writer.Close() }

// LogPublisher stands in when no brokers are configured.
type LogPublisher struct {
	Log *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, events ...Event) error {
	for _, e := range events {
		p.Log.Info("channel sync", "action", e.Action, "channel_id", e.ChannelID,
			"creator_id", e.CreatorID, "supporter_id", e.SupporterID)
	}
	return nil
}
