package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/node/turn"
)

// Publisher writes envelopes to the event stream. It satisfies the turn
// service's publisher interface.
type Publisher struct {
	rdb redis.UniversalClient
	log *zap.Logger
}

// NewPublisher creates a stream publisher.
func NewPublisher(rdb redis.UniversalClient, log *zap.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: log.Named("bus")}
}

// PublishBattleEnded emits the terminal event. The caller guarantees it is
// invoked on the single EndedNow transition.
func (p *Publisher) PublishBattleEnded(ctx context.Context, ev turn.EndedEvent) error {
	return p.publish(ctx, StreamEvents, TypeBattleEnded, ev.EndedAt, BattleEnded{
		BattleID:       ev.BattleID,
		MatchID:        ev.MatchID,
		Reason:         ev.Reason,
		WinnerPlayerID: ev.WinnerPlayerID,
		EndedAt:        ev.EndedAt.UTC().Format(time.RFC3339Nano),
		Version:        ev.Version,
	})
}

// PublishBattleCreated acknowledges an accepted creation command on the
// event stream.
func (p *Publisher) PublishBattleCreated(ctx context.Context, created BattleCreated, occurredAt time.Time) error {
	return p.publish(ctx, StreamEvents, TypeBattleCreated, occurredAt, created)
}

func (p *Publisher) publish(ctx context.Context, stream, msgType string, occurredAt time.Time, payload interface{}) error {
	env, err := newEnvelope(msgType, occurredAt, payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"messageId":  env.MessageID,
			"type":       env.Type,
			"occurredAt": env.OccurredAt,
			"payload":    string(env.Payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s to %s: %w", msgType, stream, err)
	}
	p.log.Debug("published bus message",
		zap.String("stream", stream),
		zap.String("type", msgType),
		zap.String("messageId", env.MessageID),
		zap.String("streamId", id))
	return nil
}
