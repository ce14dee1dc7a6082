package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/warp/savings-engine/generic"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes events to one topic keyed by owner, so one owner's events
// stay ordered within a partition.
type Kafka struct {
	w   messageWriter
	now func() time.Time
}

func NewKafka(brokers []string, topic string) *Kafka {
	if topic == "" {
		topic = "savings-events"
	}
	return &Kafka{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		},
		now: time.Now,
	}
}

func (k *Kafka) Notify(ctx context.Context, owner generic.OwnerID, kind generic.EventKind, payload map[string]any) error {
	evt := envelope(owner, kind, payload, k.now())
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", kind, err)
	}
	msg := kafka.Message{
		Key:   []byte(owner),
		Value: body,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
			{Key: "event_id", Value: []byte(evt.ID)},
		},
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", kind, err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.w.Close() }
