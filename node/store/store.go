// Package store is the sole custodian of persisted battle state. It keeps the
// JSON state records, the active set, the deadline index, the per-turn action
// buffer, and the claim lease locks in Redis; every state mutation is an
// atomic server-side script.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/core/types"
)

// Key layout.
const (
	activeKey    = "battle:active"
	deadlinesKey = "battle:deadlines"
)

func stateKey(battleID uuid.UUID) string {
	return "battle:state:" + battleID.String()
}

func actionKey(battleID uuid.UUID, turnIndex int, playerID uuid.UUID) string {
	return fmt.Sprintf("battle:action:%s:turn:%d:player:%s", battleID, turnIndex, playerID)
}

// EndResult reports the outcome of EndBattleAndMarkResolved.
type EndResult int

const (
	EndNotCommitted EndResult = iota
	EndedNow
	AlreadyEnded
)

// DueBattle identifies one claimed (battle, turn) pair.
type DueBattle struct {
	BattleID  uuid.UUID
	TurnIndex int
}

// Config holds store configuration.
type Config struct {
	ActionTTL       time.Duration // retention of submitted action payloads
	RescheduleDelay time.Duration // deadline push for claims seen mid-transition
	MaxRetries      int           // attempts per operation on transient errors
	RetryDelay      time.Duration
}

// DefaultConfig returns default store config.
func DefaultConfig() *Config {
	return &Config{
		ActionTTL:       12 * time.Hour,
		RescheduleDelay: time.Second,
		MaxRetries:      3,
		RetryDelay:      50 * time.Millisecond,
	}
}

// Store is the Redis-backed battle state store.
type Store struct {
	rdb    redis.UniversalClient
	config *Config
	log    *zap.Logger
}

// New creates a store around the given Redis client.
func New(rdb redis.UniversalClient, config *Config, log *zap.Logger) *Store {
	if config == nil {
		config = DefaultConfig()
	}
	return &Store{rdb: rdb, config: config, log: log.Named("store")}
}

// TryInitializeBattle creates the battle state record once (SETNX keyed by
// battle id) and registers it as active. Returns true when this call created
// the record; callers do not branch on the result.
func (s *Store) TryInitializeBattle(ctx context.Context, state *types.BattleState) (bool, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("encode state: %w", err)
	}
	var created bool
	err = s.retry(ctx, "TryInitializeBattle", func() error {
		n, err := initBattleScript.Run(ctx, s.rdb,
			[]string{stateKey(state.BattleID), activeKey},
			state.BattleID.String(), string(raw)).Int()
		created = n == 1
		return err
	})
	return created, err
}

// GetState loads the battle state snapshot, or nil when the battle does not
// exist. A record that fails to decode is reported as ErrStateCorrupted.
func (s *Store) GetState(ctx context.Context, battleID uuid.UUID) (*types.BattleState, error) {
	var raw string
	err := s.retry(ctx, "GetState", func() error {
		var err error
		raw, err = s.rdb.Get(ctx, stateKey(battleID)).Result()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state types.BattleState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("battle %s: %w: %v", battleID, types.ErrStateCorrupted, err)
	}
	return &state, nil
}

// TryOpenTurn atomically opens the given turn and indexes its deadline.
// Guard: state exists, phase is ArenaOpen, previous turn resolved. Turns past
// the first open through MarkTurnResolvedAndOpenNext.
func (s *Store) TryOpenTurn(ctx context.Context, battleID uuid.UUID, turnIndex int, deadline time.Time) (bool, error) {
	var ok bool
	err := s.retry(ctx, "TryOpenTurn", func() error {
		n, err := openTurnScript.Run(ctx, s.rdb,
			[]string{stateKey(battleID), deadlinesKey},
			battleID.String(), turnIndex, deadline.UnixMilli()).Int()
		ok = n == 1
		return err
	})
	return ok, err
}

// TryMarkTurnResolving performs the TurnOpen -> Resolving CAS for the given
// turn. At most one caller per turn succeeds.
func (s *Store) TryMarkTurnResolving(ctx context.Context, battleID uuid.UUID, turnIndex int) (bool, error) {
	var ok bool
	err := s.retry(ctx, "TryMarkTurnResolving", func() error {
		n, err := markResolvingScript.Run(ctx, s.rdb,
			[]string{stateKey(battleID)}, turnIndex).Int()
		ok = n == 1
		return err
	})
	return ok, err
}

// MarkTurnResolvedAndOpenNext commits the resolved turn's HP and streak and
// opens the next turn with its deadline.
func (s *Store) MarkTurnResolvedAndOpenNext(
	ctx context.Context,
	battleID uuid.UUID,
	curTurn, nextTurn int,
	nextDeadline time.Time,
	noActionStreak, hpA, hpB int,
) (bool, error) {
	var ok bool
	err := s.retry(ctx, "MarkTurnResolvedAndOpenNext", func() error {
		n, err := resolveAndOpenNextScript.Run(ctx, s.rdb,
			[]string{stateKey(battleID), deadlinesKey},
			battleID.String(), curTurn, nextTurn, nextDeadline.UnixMilli(),
			noActionStreak, hpA, hpB).Int()
		ok = n == 1
		return err
	})
	return ok, err
}

// EndBattleAndMarkResolved commits the terminal transition. EndedNow is
// returned exactly once per battle; it is the gate for end-of-battle
// notifications and publication.
func (s *Store) EndBattleAndMarkResolved(
	ctx context.Context,
	battleID uuid.UUID,
	turnIndex, noActionStreak, hpA, hpB int,
	reason types.EndReason,
	winnerID *uuid.UUID,
	endedAt time.Time,
) (EndResult, error) {
	winner := ""
	if winnerID != nil {
		winner = winnerID.String()
	}
	result := EndNotCommitted
	err := s.retry(ctx, "EndBattleAndMarkResolved", func() error {
		n, err := endBattleScript.Run(ctx, s.rdb,
			[]string{stateKey(battleID), activeKey, deadlinesKey},
			battleID.String(), turnIndex, noActionStreak, hpA, hpB,
			string(reason), winner, endedAt.UnixMilli()).Int()
		if err != nil {
			return err
		}
		switch n {
		case 1:
			result = EndedNow
		case 2:
			result = AlreadyEnded
		default:
			result = EndNotCommitted
		}
		return nil
	})
	return result, err
}

// ClaimDueBattles scans the deadline index for battles due at now and
// acquires a lease lock per (battle, turn). Claimed entries get their score
// pushed to now+lease so no other worker re-selects them while resolution is
// in flight; if the holder crashes, the lease and the pushed score expire
// together and another worker re-claims.
func (s *Store) ClaimDueBattles(ctx context.Context, now time.Time, limit int, leaseTTL time.Duration) ([]DueBattle, error) {
	var flat []interface{}
	err := s.retry(ctx, "ClaimDueBattles", func() error {
		res, err := claimDueScript.Run(ctx, s.rdb,
			[]string{deadlinesKey},
			now.UnixMilli(), limit, leaseTTL.Milliseconds(),
			s.config.RescheduleDelay.Milliseconds()).Result()
		if err != nil {
			return err
		}
		var ok bool
		flat, ok = res.([]interface{})
		if !ok {
			return fmt.Errorf("claim script returned %T", res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	claimed := make([]DueBattle, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		id, err := uuid.Parse(fmt.Sprint(flat[i]))
		if err != nil {
			s.log.Warn("claim returned unparseable battle id", zap.Any("member", flat[i]))
			continue
		}
		var turn int
		if _, err := fmt.Sscanf(fmt.Sprint(flat[i+1]), "%d", &turn); err != nil {
			s.log.Warn("claim returned unparseable turn index", zap.Any("value", flat[i+1]))
			continue
		}
		claimed = append(claimed, DueBattle{BattleID: id, TurnIndex: turn})
	}
	return claimed, nil
}

// StoreAction writes an action payload first-write-wins for the
// (battle, turn, player) slot. Returns false when a payload was already
// stored (AlreadySubmitted).
func (s *Store) StoreAction(ctx context.Context, battleID uuid.UUID, turnIndex int, playerID uuid.UUID, payload string) (bool, error) {
	var accepted bool
	err := s.retry(ctx, "StoreAction", func() error {
		var err error
		accepted, err = s.rdb.SetNX(ctx, actionKey(battleID, turnIndex, playerID), payload, s.config.ActionTTL).Result()
		return err
	})
	return accepted, err
}

// GetActions reads both players' stored payloads for the turn. The booleans
// report presence; a stored empty payload is a present NoAction.
func (s *Store) GetActions(ctx context.Context, battleID uuid.UUID, turnIndex int, playerAID, playerBID uuid.UUID) (payloadA, payloadB string, hasA, hasB bool, err error) {
	var vals []interface{}
	err = s.retry(ctx, "GetActions", func() error {
		var err error
		vals, err = s.rdb.MGet(ctx,
			actionKey(battleID, turnIndex, playerAID),
			actionKey(battleID, turnIndex, playerBID)).Result()
		return err
	})
	if err != nil {
		return "", "", false, false, err
	}
	if len(vals) != 2 {
		return "", "", false, false, fmt.Errorf("mget returned %d values", len(vals))
	}
	if v, ok := vals[0].(string); ok {
		payloadA, hasA = v, true
	}
	if v, ok := vals[1].(string); ok {
		payloadB, hasB = v, true
	}
	return payloadA, payloadB, hasA, hasB, nil
}

// ActiveBattleCount returns the size of the active set.
func (s *Store) ActiveBattleCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.retry(ctx, "ActiveBattleCount", func() error {
		var err error
		n, err = s.rdb.SCard(ctx, activeKey).Result()
		return err
	})
	return n, err
}

// retry re-invokes op on transient connection errors. All scripts are
// idempotent under re-invocation with the same arguments.
func (s *Store) retry(ctx context.Context, name string, op func() error) error {
	var err error
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		if err = op(); err == nil || !isTransient(err) {
			return err
		}
		s.log.Warn("transient store error, retrying",
			zap.String("op", name), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.RetryDelay):
		}
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, redis.Nil) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, redis.ErrClosed)
}
