package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/core/clock"
	"github.com/sorokinArtemV/kombats-sub001/core/types"
	"github.com/sorokinArtemV/kombats-sub001/node/battles"
	"github.com/sorokinArtemV/kombats-sub001/node/lifecycle"
	"github.com/sorokinArtemV/kombats-sub001/node/profile"
	"github.com/sorokinArtemV/kombats-sub001/node/store"
)

var (
	battleID = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	playerA  = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	playerB  = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

type nopNotifier struct{}

func (nopNotifier) BattleReady(_, _, _ uuid.UUID)              {}
func (nopNotifier) TurnOpened(_ uuid.UUID, _ int, _ time.Time) {}

type commandFixture struct {
	handler *CommandHandler
	repo    *battles.MemoryRepo
	store   *store.Store
	rdb     redis.UniversalClient
	clk     *clock.Manual
}

func newCommandFixture(t *testing.T) *commandFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clk := clock.NewManual(baseTime)
	st := store.New(rdb, store.DefaultConfig(), zap.NewNop())
	repo := battles.NewMemoryRepo()
	profiles := profile.NewStaticStore(map[uuid.UUID]types.PlayerStats{
		playerA: {Strength: 5, Stamina: 10},
		playerB: {Strength: 5, Stamina: 10},
	}, nil)
	lc := lifecycle.New(st, profiles, nopNotifier{}, clk, zap.NewNop())

	return &commandFixture{
		handler: NewCommandHandler(repo, lc, NewPublisher(rdb, zap.NewNop()), clk, zap.NewNop()),
		repo:    repo,
		store:   st,
		rdb:     rdb,
		clk:     clk,
	}
}

func createEnvelope(t *testing.T, ruleset types.Ruleset) Envelope {
	t.Helper()
	payload, err := json.Marshal(CreateBattle{
		BattleID:  battleID,
		MatchID:   uuid.MustParse("44444444-4444-4444-4444-444444444444"),
		PlayerAID: playerA,
		PlayerBID: playerB,
		Ruleset:   ruleset,
	})
	require.NoError(t, err)
	return Envelope{
		MessageID:  uuid.NewString(),
		Type:       TypeCreateBattle,
		OccurredAt: baseTime.Format(time.RFC3339Nano),
		Payload:    payload,
	}
}

func validRuleset() types.Ruleset {
	return types.Ruleset{
		Version:       1,
		TurnSeconds:   5,
		NoActionLimit: 3,
		Seed:          42,
		Balance:       types.DefaultBalance(),
	}
}

func TestCreateBattleCommand(t *testing.T) {
	f := newCommandFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handler.Handle(ctx, createEnvelope(t, validRuleset())))

	// Registered in the battle registry.
	rec, err := f.repo.Get(ctx, battleID)
	require.NoError(t, err)
	require.Equal(t, playerA, rec.PlayerAID)
	require.Equal(t, 1, rec.RulesetVersion)

	// Battle state opened at turn 1.
	state, err := f.store.GetState(ctx, battleID)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, types.PhaseTurnOpen, state.Phase)
	require.Equal(t, 1, state.TurnIndex)

	// BattleCreated acknowledged on the event stream.
	msgs, err := f.rdb.XRange(ctx, StreamEvents, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, TypeBattleCreated, msgs[0].Values["type"])
}

func TestCreateBattleCommandIdempotent(t *testing.T) {
	f := newCommandFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handler.Handle(ctx, createEnvelope(t, validRuleset())))
	require.NoError(t, f.handler.Handle(ctx, createEnvelope(t, validRuleset())))

	state, err := f.store.GetState(ctx, battleID)
	require.NoError(t, err)
	require.Equal(t, types.PhaseTurnOpen, state.Phase)
	require.Equal(t, 1, state.TurnIndex)
}

func TestCreateBattleInvalidRulesetPermanent(t *testing.T) {
	f := newCommandFixture(t)

	bad := validRuleset()
	bad.TurnSeconds = 0
	err := f.handler.Handle(context.Background(), createEnvelope(t, bad))

	var permanent NonRetryable
	require.ErrorAs(t, err, &permanent)
}

func TestCreateBattleGarbagePayloadPermanent(t *testing.T) {
	f := newCommandFixture(t)
	env := Envelope{
		MessageID: uuid.NewString(),
		Type:      TypeCreateBattle,
		Payload:   json.RawMessage(`{broken`),
	}
	err := f.handler.Handle(context.Background(), env)

	var permanent NonRetryable
	require.ErrorAs(t, err, &permanent)
}

func TestUnknownCommandIgnored(t *testing.T) {
	f := newCommandFixture(t)
	env := Envelope{
		MessageID: uuid.NewString(),
		Type:      "RebalanceShards",
		Payload:   json.RawMessage(`{}`),
	}
	require.NoError(t, f.handler.Handle(context.Background(), env))
}

func TestArchiveHandlerMarksEnded(t *testing.T) {
	repo := battles.NewMemoryRepo()
	handler := NewArchiveHandler(repo, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, battles.Record{
		BattleID: battleID, PlayerAID: playerA, PlayerBID: playerB, CreatedAt: baseTime,
	}))

	payload, err := json.Marshal(BattleEnded{
		BattleID:       battleID,
		Reason:         types.EndReasonNormal,
		WinnerPlayerID: &playerA,
		EndedAt:        baseTime.Add(time.Minute).Format(time.RFC3339Nano),
		Version:        9,
	})
	require.NoError(t, err)

	env := Envelope{MessageID: uuid.NewString(), Type: TypeBattleEnded, Payload: payload}
	require.NoError(t, handler.Handle(ctx, env))

	rec, err := repo.Get(ctx, battleID)
	require.NoError(t, err)
	require.NotNil(t, rec.EndedAt)
	require.Equal(t, string(types.EndReasonNormal), rec.EndReason)
	require.NotNil(t, rec.WinnerPlayerID)
	require.Equal(t, playerA, *rec.WinnerPlayerID)
}

func TestArchiveHandlerRetriesUnregisteredBattle(t *testing.T) {
	handler := NewArchiveHandler(battles.NewMemoryRepo(), zap.NewNop())

	payload, err := json.Marshal(BattleEnded{
		BattleID: battleID,
		Reason:   types.EndReasonNormal,
		EndedAt:  baseTime.Format(time.RFC3339Nano),
	})
	require.NoError(t, err)

	env := Envelope{MessageID: uuid.NewString(), Type: TypeBattleEnded, Payload: payload}
	err = handler.Handle(context.Background(), env)
	require.Error(t, err)

	var permanent NonRetryable
	require.False(t, errors.As(err, &permanent))
}
