package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/radieske/horse-race-platform-poc/pkg/contracts/events"
)

// KafkaPublisher emite os eventos de mudança do motor de corridas
// (publish-on-write; a entrega para clientes é papel do fan-out, não daqui)
type KafkaPublisher struct {
	RaceOpened   *kafka.Writer
	RaceSettled  *kafka.Writer
	BetRecorded  *kafka.Writer
	PayoutResult *kafka.Writer
}

func (p *KafkaPublisher) PublishRaceOpened(ctx context.Context, e events.RaceOpened) error {
	return writeJSON(ctx, p.RaceOpened, e.RaceID, e)
}

func (p *KafkaPublisher) PublishRaceSettled(ctx context.Context, e events.RaceSettled) error {
	return writeJSON(ctx, p.RaceSettled, e.RaceID, e)
}

func (p *KafkaPublisher) PublishBetRecorded(ctx context.Context, e events.BetRecorded) error {
	if e.Ts.IsZero() {
		e.Ts = time.Now()
	}
	return writeJSON(ctx, p.BetRecorded, e.RaceID, e)
}

func (p *KafkaPublisher) PublishPayoutResult(ctx context.Context, e events.PayoutResult) error {
	if e.Ts.IsZero() {
		e.Ts = time.Now()
	}
	return writeJSON(ctx, p.PayoutResult, e.RaceID, e)
}

func writeJSON(ctx context.Context, w *kafka.Writer, key string, v any) error {
	b, _ := json.Marshal(v)
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b, Time: time.Now()})
}
