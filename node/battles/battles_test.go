package battles

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sorokinArtemV/kombats-sub001/core/types"
)

var (
	battleID = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	playerA  = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	baseTime = time.UnixMilli(1_700_000_000_000).UTC()
)

func record() Record {
	return Record{
		BattleID:       battleID,
		MatchID:        uuid.MustParse("44444444-4444-4444-4444-444444444444"),
		PlayerAID:      playerA,
		PlayerBID:      uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		RulesetVersion: 1,
		CreatedAt:      baseTime,
	}
}

func TestMemoryRepoInsertIdempotent(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, record()))

	// A redelivered insert must not clobber the original row.
	altered := record()
	altered.RulesetVersion = 9
	require.NoError(t, repo.Insert(ctx, altered))

	rec, err := repo.Get(ctx, battleID)
	require.NoError(t, err)
	require.Equal(t, 1, rec.RulesetVersion)
}

func TestMemoryRepoMarkEndedOnce(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	require.NoError(t, repo.Insert(ctx, record()))

	first := baseTime.Add(time.Minute)
	require.NoError(t, repo.MarkEnded(ctx, battleID, "Normal", &playerA, first))

	// Finalization is first-write-wins.
	require.NoError(t, repo.MarkEnded(ctx, battleID, "AdminForced", nil, first.Add(time.Hour)))

	rec, err := repo.Get(ctx, battleID)
	require.NoError(t, err)
	require.Equal(t, "Normal", rec.EndReason)
	require.NotNil(t, rec.WinnerPlayerID)
	require.Equal(t, first, *rec.EndedAt)
}

func TestMemoryRepoUnknownBattle(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	_, err := repo.Get(ctx, battleID)
	require.ErrorIs(t, err, types.ErrBattleNotFound)

	err = repo.MarkEnded(ctx, battleID, "Normal", nil, baseTime)
	require.ErrorIs(t, err, types.ErrBattleNotFound)
}
