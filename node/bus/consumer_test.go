package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/core/types"
	"github.com/sorokinArtemV/kombats-sub001/node/turn"
)

var baseTime = time.UnixMilli(1_700_000_000_000).UTC()

type recordingHandler struct {
	mu   sync.Mutex
	envs []Envelope
	err  error
}

func (h *recordingHandler) Handle(_ context.Context, env Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.envs = append(h.envs, env)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.envs)
}

func newBusFixture(t *testing.T, handler Handler) (*Consumer, *Publisher, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	config := DefaultConsumerConfig(StreamEvents, GroupArchive)
	config.Block = 10 * time.Millisecond
	config.ReclaimMinIdle = 0

	consumer := NewConsumer(config, rdb, handler, zap.NewNop())
	require.NoError(t, consumer.rdb.XGroupCreateMkStream(context.Background(),
		config.Stream, config.Group, "0").Err())
	return consumer, NewPublisher(rdb, zap.NewNop()), rdb
}

func endedEvent() turn.EndedEvent {
	winner := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	return turn.EndedEvent{
		BattleID:       uuid.MustParse("33333333-3333-3333-3333-333333333333"),
		MatchID:        uuid.MustParse("44444444-4444-4444-4444-444444444444"),
		Reason:         types.EndReasonNormal,
		WinnerPlayerID: &winner,
		EndedAt:        baseTime,
		Version:        7,
	}
}

func TestPublishAndConsume(t *testing.T) {
	handler := &recordingHandler{}
	consumer, publisher, _ := newBusFixture(t, handler)
	ctx := context.Background()

	require.NoError(t, publisher.PublishBattleEnded(ctx, endedEvent()))
	require.NoError(t, consumer.Tick(ctx))

	require.Equal(t, 1, handler.count())
	env := handler.envs[0]
	require.Equal(t, TypeBattleEnded, env.Type)
	require.NotEmpty(t, env.MessageID)

	occurredAt, err := time.Parse(time.RFC3339Nano, env.OccurredAt)
	require.NoError(t, err)
	require.Equal(t, baseTime, occurredAt)

	var ev BattleEnded
	require.NoError(t, env.Decode(&ev))
	require.Equal(t, types.EndReasonNormal, ev.Reason)
	require.EqualValues(t, 7, ev.Version)
	require.NotNil(t, ev.WinnerPlayerID)
}

func TestConsumerDeduplicatesByMessageID(t *testing.T) {
	handler := &recordingHandler{}
	consumer, _, rdb := newBusFixture(t, handler)
	ctx := context.Background()

	values := map[string]interface{}{
		"messageId":  "dup-message",
		"type":       TypeBattleEnded,
		"occurredAt": baseTime.Format(time.RFC3339Nano),
		"payload":    `{"battleId":"33333333-3333-3333-3333-333333333333"}`,
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{Stream: StreamEvents, Values: values}).Err())
	}

	require.NoError(t, consumer.Tick(ctx))
	require.Equal(t, 1, handler.count())

	pending, err := rdb.XPending(ctx, StreamEvents, GroupArchive).Result()
	require.NoError(t, err)
	require.Zero(t, pending.Count)
}

func TestMalformedMessageAcked(t *testing.T) {
	handler := &recordingHandler{}
	consumer, _, rdb := newBusFixture(t, handler)
	ctx := context.Background()

	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamEvents,
		Values: map[string]interface{}{"junk": "1"},
	}).Err())

	require.NoError(t, consumer.Tick(ctx))
	require.Zero(t, handler.count())

	pending, err := rdb.XPending(ctx, StreamEvents, GroupArchive).Result()
	require.NoError(t, err)
	require.Zero(t, pending.Count)
}

func TestNonRetryableFailureAcked(t *testing.T) {
	handler := &recordingHandler{err: NonRetryable{Err: errors.New("bad payload")}}
	consumer, publisher, rdb := newBusFixture(t, handler)
	ctx := context.Background()

	require.NoError(t, publisher.PublishBattleEnded(ctx, endedEvent()))
	require.NoError(t, consumer.Tick(ctx))

	pending, err := rdb.XPending(ctx, StreamEvents, GroupArchive).Result()
	require.NoError(t, err)
	require.Zero(t, pending.Count)
}

func TestRetryableFailureRedelivered(t *testing.T) {
	handler := &recordingHandler{err: errors.New("downstream down")}
	consumer, publisher, rdb := newBusFixture(t, handler)
	ctx := context.Background()

	require.NoError(t, publisher.PublishBattleEnded(ctx, endedEvent()))
	require.NoError(t, consumer.Tick(ctx))
	require.Zero(t, handler.count())

	pending, err := rdb.XPending(ctx, StreamEvents, GroupArchive).Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, pending.Count)

	// Downstream recovers; the reclaim pass picks the message back up.
	handler.mu.Lock()
	handler.err = nil
	handler.mu.Unlock()

	require.NoError(t, consumer.Tick(ctx))
	require.Equal(t, 1, handler.count())
}
