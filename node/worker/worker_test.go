package worker

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

	"github.com/sorokinArtemV/kombats-sub001/core/clock"
	"github.com/sorokinArtemV/kombats-sub001/core/types"
	"github.com/sorokinArtemV/kombats-sub001/node/store"
)

var (
	battleID = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	baseTime = time.UnixMilli(1_700_000_000_000).UTC()
)

type fakeResolver struct {
	mu       sync.Mutex
	resolved []uuid.UUID
	err      error
}

func (r *fakeResolver) ResolveTurn(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	r.resolved = append(r.resolved, id)
	return true, nil
}

func newTestWorker(t *testing.T, resolver Resolver, clk clock.Clock) (*Worker, *store.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st := store.New(rdb, store.DefaultConfig(), zap.NewNop())
	w := New(DefaultConfig(), st, resolver, clk, zap.NewNop())
	return w, st, mr
}

func seedOpenBattle(t *testing.T, st *store.Store, deadline time.Time) {
	t.Helper()
	ctx := context.Background()
	state := &types.BattleState{
		BattleID:  battleID,
		PlayerAID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		PlayerBID: uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Ruleset: types.Ruleset{
			Version: 1, TurnSeconds: 5, NoActionLimit: 3,
			Balance: types.DefaultBalance(),
		},
		Phase:   types.PhaseArenaOpen,
		PlayerA: types.PlayerState{CurrentHP: 100, MaxHP: 100},
		PlayerB: types.PlayerState{CurrentHP: 100, MaxHP: 100},
		Version: 1,
	}
	created, err := st.TryInitializeBattle(ctx, state)
	require.NoError(t, err)
	require.True(t, created)
	opened, err := st.TryOpenTurn(ctx, battleID, 1, deadline)
	require.NoError(t, err)
	require.True(t, opened)
}

func TestTickResolvesDueBattle(t *testing.T) {
	resolver := &fakeResolver{}
	clk := clock.NewManual(baseTime)
	w, st, _ := newTestWorker(t, resolver, clk)

	seedOpenBattle(t, st, baseTime.Add(5*time.Second))

	// Nothing due yet.
	n, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, resolver.resolved)

	clk.Advance(6 * time.Second)
	n, err = w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []uuid.UUID{battleID}, resolver.resolved)
}

func TestTickClaimOncePerLease(t *testing.T) {
	resolver := &fakeResolver{}
	clk := clock.NewManual(baseTime)
	w, st, _ := newTestWorker(t, resolver, clk)

	seedOpenBattle(t, st, baseTime.Add(5*time.Second))
	clk.Advance(6 * time.Second)

	n, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// A second tick inside the lease claims nothing even though the fake
	// resolver left the battle in TurnOpen.
	n, err = w.Tick(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, resolver.resolved, 1)
}

func TestResolverErrorDoesNotStopTick(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("resolver down")}
	clk := clock.NewManual(baseTime)
	w, st, _ := newTestWorker(t, resolver, clk)

	seedOpenBattle(t, st, baseTime.Add(5*time.Second))
	clk.Advance(6 * time.Second)

	n, err := w.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	stats := w.Stats()
	require.EqualValues(t, uint64(1), stats["claimed"])
	require.EqualValues(t, uint64(0), stats["resolved"])
}

func TestStartStop(t *testing.T) {
	resolver := &fakeResolver{}
	clk := clock.NewManual(baseTime)
	w, _, _ := newTestWorker(t, resolver, clk)

	require.NoError(t, w.Start(context.Background()))
	w.Stop()
}
