package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/core/types"
)

var (
	battleID = uuid.MustParse("33333333-3333-3333-3333-333333333333")
	playerA  = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	playerB  = uuid.MustParse("22222222-2222-2222-2222-222222222222")
)

func testClient(playerID uuid.UUID) *Client {
	return &Client{
		playerID: playerID,
		send:     make(chan []byte, sendBufferSize),
		battles:  make(map[uuid.UUID]struct{}),
		log:      zap.NewNop(),
	}
}

func drain(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.send:
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	default:
		t.Fatal("no queued message")
		return nil
	}
}

func TestBroadcastReachesGroupOnly(t *testing.T) {
	hub := NewHub(zap.NewNop())
	inGroup := testClient(playerA)
	alsoIn := testClient(playerB)
	outside := testClient(playerB)

	hub.join(battleID, inGroup)
	hub.join(battleID, alsoIn)
	hub.join(uuid.MustParse("55555555-5555-5555-5555-555555555555"), outside)

	hub.TurnOpened(battleID, 3, time.UnixMilli(1_700_000_000_000))

	for _, c := range []*Client{inGroup, alsoIn} {
		m := drain(t, c)
		require.Equal(t, EventTurnOpened, m["type"])
		require.EqualValues(t, 3, m["turnIndex"])
		require.NotEmpty(t, m["deadlineUtc"])
	}
	require.Empty(t, outside.send)
}

func TestDropRemovesFromAllGroups(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := testClient(playerA)
	other := uuid.MustParse("55555555-5555-5555-5555-555555555555")

	hub.join(battleID, c)
	hub.join(other, c)
	hub.drop(c)

	hub.TurnOpened(battleID, 1, time.Now())
	hub.TurnOpened(other, 1, time.Now())
	require.Empty(t, c.send)
}

func TestSlowClientDropped(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := testClient(playerA)
	hub.join(battleID, c)

	// Fill the buffer plus one; the overflow closes the channel.
	for i := 0; i <= sendBufferSize; i++ {
		hub.TurnResolved(battleID, i, "NoAction", "NoAction")
	}
	require.True(t, c.closed.Load())

	// Further broadcasts to the closed client must not panic.
	hub.TurnResolved(battleID, 99, "NoAction", "NoAction")
}

func TestBattleEndedEventShape(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := testClient(playerA)
	hub.join(battleID, c)

	endedAt := time.UnixMilli(1_700_000_123_000).UTC()
	hub.BattleEnded(battleID, types.EndReasonNormal, &playerA, endedAt)

	m := drain(t, c)
	require.Equal(t, EventBattleEnded, m["type"])
	require.Equal(t, string(types.EndReasonNormal), m["reason"])
	require.Equal(t, playerA.String(), m["winnerPlayerId"])
	require.Equal(t, endedAt.Format(time.RFC3339Nano), m["endedAt"])
}

func TestDrawOmitsWinner(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := testClient(playerA)
	hub.join(battleID, c)

	hub.BattleEnded(battleID, types.EndReasonDoubleForfeit, nil, time.Now())

	m := drain(t, c)
	_, present := m["winnerPlayerId"]
	require.False(t, present)
}

func TestUserMessageMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{types.ErrNotAuthenticated, "User not authenticated"},
		{types.ErrNotParticipant, "User is not a participant in this battle"},
		{fmt.Errorf("battle %s: %w", battleID, types.ErrBattleNotFound),
			fmt.Sprintf("Battle %s not found", battleID)},
		{types.ErrBattleEnded, "Battle has ended"},
		{fmt.Errorf("battle %s: %w: bad json", battleID, types.ErrStateCorrupted),
			fmt.Sprintf("Battle %s state is corrupted", battleID)},
		{errors.New("redis: connection refused"), "Internal error"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, userMessage(battleID, tc.err))
	}
}
