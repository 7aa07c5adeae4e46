// Package turn implements the turn service: action submission with
// normalization, and turn resolution. SubmitAction and ResolveTurn may run
// concurrently from any worker; the store's mark-resolving CAS is the single
// serialization point per turn.
package turn

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/core/clock"
	"github.com/sorokinArtemV/kombats-sub001/core/engine"
	"github.com/sorokinArtemV/kombats-sub001/core/types"
	"github.com/sorokinArtemV/kombats-sub001/node/metrics"
	"github.com/sorokinArtemV/kombats-sub001/node/store"
)

// Notifier pushes realtime events to a battle's subscribers. Delivery is
// best-effort; clients refetch state on reconnect.
type Notifier interface {
	BattleReady(battleID, playerAID, playerBID uuid.UUID)
	TurnOpened(battleID uuid.UUID, turnIndex int, deadline time.Time)
	TurnResolved(battleID uuid.UUID, turnIndex int, actionA, actionB string)
	PlayerDamaged(battleID, playerID uuid.UUID, damage, remainingHP, turnIndex int)
	BattleStateUpdated(snapshot types.Snapshot)
	BattleEnded(battleID uuid.UUID, reason types.EndReason, winnerID *uuid.UUID, endedAt time.Time)
}

// EndedEvent is the terminal lifecycle event handed to the publisher.
type EndedEvent struct {
	BattleID       uuid.UUID
	MatchID        uuid.UUID
	Reason         types.EndReason
	WinnerPlayerID *uuid.UUID
	EndedAt        time.Time
	Version        int64
}

// Publisher emits BattleEnded to the bus. It is invoked only on the single
// EndedNow transition of a battle.
type Publisher interface {
	PublishBattleEnded(ctx context.Context, ev EndedEvent) error
}

// Config holds turn service configuration.
type Config struct {
	// NetworkGrace is the allowance past the turn deadline within which a
	// submission still counts.
	NetworkGrace time.Duration
}

// DefaultConfig returns default turn service config.
func DefaultConfig() *Config {
	return &Config{NetworkGrace: time.Second}
}

// Service orchestrates submissions and resolutions for all battles.
type Service struct {
	config    *Config
	store     *store.Store
	notifier  Notifier
	publisher Publisher
	clock     clock.Clock
	log       *zap.Logger
}

// New creates a turn service.
func New(config *Config, st *store.Store, notifier Notifier, publisher Publisher, clk clock.Clock, log *zap.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		config:    config,
		store:     st,
		notifier:  notifier,
		publisher: publisher,
		clock:     clk,
		log:       log.Named("turn"),
	}
}

// SubmitAction validates and stores a player's action for the battle's
// current turn. Anything that cannot count as a timely, well-formed action is
// stored as NoAction; a duplicate submission is silently ignored
// (first write wins).
func (s *Service) SubmitAction(ctx context.Context, battleID, playerID uuid.UUID, clientTurnIndex int, payload []byte) error {
	state, err := s.store.GetState(ctx, battleID)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("battle %s: %w", battleID, types.ErrBattleNotFound)
	}
	if !state.IsParticipant(playerID) {
		return types.ErrNotParticipant
	}
	if state.Phase == types.PhaseEnded {
		return types.ErrBattleEnded
	}

	action := s.normalizeSubmission(state, clientTurnIndex, payload)

	accepted, err := s.store.StoreAction(ctx, battleID, state.TurnIndex, playerID, action.Encode())
	if err != nil {
		return err
	}
	if accepted {
		metrics.ActionsSubmitted.Inc()
	} else {
		s.log.Debug("action already submitted",
			zap.String("battleId", battleID.String()),
			zap.String("playerId", playerID.String()),
			zap.Int("turn", state.TurnIndex))
	}

	// When both actions are in, resolve early. Best effort: the deadline
	// worker is the safety net, so failures here are logged, never surfaced.
	// This runs on the duplicate path too, so a re-submission retries an
	// early resolve that previously failed.
	_, _, hasA, hasB, err := s.store.GetActions(ctx, battleID, state.TurnIndex, state.PlayerAID, state.PlayerBID)
	if err != nil {
		s.log.Warn("early-resolve action check failed",
			zap.String("battleId", battleID.String()), zap.Error(err))
		return nil
	}
	if hasA && hasB {
		if _, err := s.ResolveTurn(ctx, battleID); err != nil {
			s.log.Warn("early resolve failed",
				zap.String("battleId", battleID.String()), zap.Error(err))
		}
	}
	return nil
}

// normalizeSubmission reduces a submission to the action that gets stored for
// the battle's current turn.
func (s *Service) normalizeSubmission(state *types.BattleState, clientTurnIndex int, payload []byte) types.PlayerAction {
	if state.Phase != types.PhaseTurnOpen {
		return types.NoAction(state.TurnIndex)
	}
	if clientTurnIndex != state.TurnIndex {
		return types.NoAction(state.TurnIndex)
	}
	if s.clock.Now().After(state.Deadline().Add(s.config.NetworkGrace)) {
		return types.NoAction(state.TurnIndex)
	}
	return types.ParseAction(payload, state.TurnIndex)
}

// ResolveTurn resolves the battle's current turn. Returns true only when this
// call performed the resolution; concurrent resolvers lose the CAS and return
// false. Safe to call at any time.
func (s *Service) ResolveTurn(ctx context.Context, battleID uuid.UUID) (bool, error) {
	state, err := s.store.GetState(ctx, battleID)
	if err != nil {
		return false, err
	}
	if state == nil {
		s.log.Warn("resolve requested for unknown battle", zap.String("battleId", battleID.String()))
		return false, nil
	}
	// Idempotency: the turn may already be resolved.
	if state.TurnIndex <= state.LastResolvedTurnIndex {
		return false, nil
	}
	switch state.Phase {
	case types.PhaseTurnOpen:
	case types.PhaseEnded:
		return false, nil
	case types.PhaseResolving:
		// Another resolver is mid-flight on this turn.
		return false, nil
	default:
		s.log.Error("resolve in unexpected phase",
			zap.String("battleId", battleID.String()),
			zap.String("phase", string(state.Phase)))
		return false, nil
	}

	ok, err := s.store.TryMarkTurnResolving(ctx, battleID, state.TurnIndex)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	// Reload: we own the Resolving phase now.
	state, err = s.store.GetState(ctx, battleID)
	if err != nil {
		return false, err
	}
	if state == nil || state.Phase != types.PhaseResolving {
		s.log.Error("state changed unexpectedly after resolving CAS",
			zap.String("battleId", battleID.String()))
		return false, nil
	}

	payloadA, payloadB, _, _, err := s.store.GetActions(ctx, battleID, state.TurnIndex, state.PlayerAID, state.PlayerBID)
	if err != nil {
		return false, err
	}
	actionA := types.ParseAction([]byte(payloadA), state.TurnIndex)
	actionB := types.ParseAction([]byte(payloadB), state.TurnIndex)

	newState, events, err := engine.Resolve(state, actionA, actionB)
	if err != nil {
		// Engine precondition violations are programming errors.
		s.log.Error("engine rejected resolution",
			zap.String("battleId", battleID.String()), zap.Error(err))
		return false, err
	}

	var damages []types.PlayerDamaged
	var resolved *types.TurnResolved
	var ended *types.BattleEnded
	for _, ev := range events {
		switch e := ev.(type) {
		case types.PlayerDamaged:
			damages = append(damages, e)
		case types.TurnResolved:
			resolved = &e
		case types.BattleEnded:
			ended = &e
		}
	}

	if ended != nil {
		return s.commitEnd(ctx, state, newState, damages, ended)
	}
	return s.commitNextTurn(ctx, state, newState, damages, resolved)
}

// commitEnd drives the terminal transition and, on the unique EndedNow
// result, emits realtime notifications and the bus event.
func (s *Service) commitEnd(
	ctx context.Context,
	state, newState *types.BattleState,
	damages []types.PlayerDamaged,
	ended *types.BattleEnded,
) (bool, error) {
	endedAt := s.clock.Now()
	result, err := s.store.EndBattleAndMarkResolved(ctx,
		state.BattleID, state.TurnIndex,
		newState.NoActionStreakBoth,
		newState.PlayerA.CurrentHP, newState.PlayerB.CurrentHP,
		ended.Reason, ended.WinnerPlayerID, endedAt)
	if err != nil {
		return false, err
	}
	if result != store.EndedNow {
		// A prior committer owns the notifications.
		return false, nil
	}

	for _, d := range damages {
		s.notifier.PlayerDamaged(state.BattleID, d.PlayerID, d.Damage, d.RemainingHP, d.TurnIndex)
	}
	s.notifier.BattleEnded(state.BattleID, ended.Reason, ended.WinnerPlayerID, endedAt)

	final, err := s.store.GetState(ctx, state.BattleID)
	version := newState.Version
	if err == nil && final != nil {
		version = final.Version
	}
	if err := s.publisher.PublishBattleEnded(ctx, EndedEvent{
		BattleID:       state.BattleID,
		MatchID:        state.MatchID,
		Reason:         ended.Reason,
		WinnerPlayerID: ended.WinnerPlayerID,
		EndedAt:        endedAt,
		Version:        version,
	}); err != nil {
		s.log.Error("publish BattleEnded failed",
			zap.String("battleId", state.BattleID.String()), zap.Error(err))
	}

	metrics.BattlesEnded.WithLabelValues(string(ended.Reason)).Inc()
	metrics.TurnsResolved.Inc()
	s.log.Info("battle ended",
		zap.String("battleId", state.BattleID.String()),
		zap.String("reason", string(ended.Reason)),
		zap.Int("turn", state.TurnIndex))
	return true, nil
}

// commitNextTurn commits the resolved turn and opens the next one, then
// notifies clients with the deadline read back from the store.
func (s *Service) commitNextTurn(
	ctx context.Context,
	state, newState *types.BattleState,
	damages []types.PlayerDamaged,
	resolved *types.TurnResolved,
) (bool, error) {
	nextTurn := state.TurnIndex + 1
	nextDeadline := s.clock.Now().Add(state.Ruleset.TurnDuration())

	ok, err := s.store.MarkTurnResolvedAndOpenNext(ctx,
		state.BattleID, state.TurnIndex, nextTurn, nextDeadline,
		newState.NoActionStreakBoth,
		newState.PlayerA.CurrentHP, newState.PlayerB.CurrentHP)
	if err != nil {
		return false, err
	}
	if !ok {
		s.log.Error("open-next transition rejected",
			zap.String("battleId", state.BattleID.String()),
			zap.Int("turn", state.TurnIndex))
		return false, nil
	}

	// The deadline pushed to clients is the one the store committed.
	committed, err := s.store.GetState(ctx, state.BattleID)
	if err != nil || committed == nil {
		s.log.Warn("reload after open-next failed",
			zap.String("battleId", state.BattleID.String()), zap.Error(err))
		committed = newState
	}

	for _, d := range damages {
		s.notifier.PlayerDamaged(state.BattleID, d.PlayerID, d.Damage, d.RemainingHP, d.TurnIndex)
	}
	s.notifier.TurnResolved(state.BattleID, resolved.TurnIndex, resolved.ActionA, resolved.ActionB)
	s.notifier.TurnOpened(state.BattleID, committed.TurnIndex, committed.Deadline())
	s.notifier.BattleStateUpdated(committed.Snapshot())

	metrics.TurnsResolved.Inc()
	return true, nil
}

// ForceEnd drives a battle to Ended with the given administrative reason.
// Exactly-once publication holds because the end still goes through the
// resolving CAS and the terminal transition.
func (s *Service) ForceEnd(ctx context.Context, battleID uuid.UUID, reason types.EndReason) (bool, error) {
	state, err := s.store.GetState(ctx, battleID)
	if err != nil {
		return false, err
	}
	if state == nil {
		return false, fmt.Errorf("battle %s: %w", battleID, types.ErrBattleNotFound)
	}
	if state.Phase == types.PhaseEnded {
		return false, nil
	}
	if state.Phase == types.PhaseTurnOpen {
		ok, err := s.store.TryMarkTurnResolving(ctx, battleID, state.TurnIndex)
		if err != nil || !ok {
			return false, err
		}
	}
	ended := &types.BattleEnded{TurnIndex: state.TurnIndex, Reason: reason}
	newState := state.Clone()
	newState.LastResolvedTurnIndex = state.TurnIndex
	return s.commitEnd(ctx, state, newState, nil, ended)
}
