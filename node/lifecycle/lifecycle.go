// Package lifecycle initializes battles. HandleBattleCreated is a blind,
// convergent sequence of idempotent steps: any number of concurrent or
// repeated deliveries drive the battle to the same TurnOpen(1) state.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/core/clock"
	"github.com/sorokinArtemV/kombats-sub001/core/combat"
	"github.com/sorokinArtemV/kombats-sub001/core/types"
	"github.com/sorokinArtemV/kombats-sub001/node/metrics"
	"github.com/sorokinArtemV/kombats-sub001/node/store"
)

// ProfileStore is the read-only player stats lookup.
type ProfileStore interface {
	GetStats(ctx context.Context, playerID uuid.UUID) (*types.PlayerStats, error)
}

// Notifier announces the opened battle to realtime subscribers.
type Notifier interface {
	BattleReady(battleID, playerAID, playerBID uuid.UUID)
	TurnOpened(battleID uuid.UUID, turnIndex int, deadline time.Time)
}

// BattleCreated is the inbound creation message.
type BattleCreated struct {
	BattleID    uuid.UUID
	MatchID     uuid.UUID
	PlayerAID   uuid.UUID
	PlayerBID   uuid.UUID
	Ruleset     types.Ruleset
	RequestedAt time.Time
}

// Service initializes battle state and opens turn 1.
type Service struct {
	store    *store.Store
	profiles ProfileStore
	notifier Notifier
	clock    clock.Clock
	log      *zap.Logger
}

// New creates a lifecycle service.
func New(st *store.Store, profiles ProfileStore, notifier Notifier, clk clock.Clock, log *zap.Logger) *Service {
	return &Service{
		store:    st,
		profiles: profiles,
		notifier: notifier,
		clock:    clk,
		log:      log.Named("lifecycle"),
	}
}

// ValidateRuleset checks the ruleset bounds and normalizes it to the
// balance-injected form: a ruleset arriving without balance constants gets
// the default balance.
func ValidateRuleset(r types.Ruleset) (types.Ruleset, error) {
	if r.Version < 1 {
		return r, fmt.Errorf("%w: version %d", types.ErrValidationFailed, r.Version)
	}
	if r.TurnSeconds < 1 || r.TurnSeconds > 60 {
		return r, fmt.Errorf("%w: turnSeconds %d", types.ErrValidationFailed, r.TurnSeconds)
	}
	if r.NoActionLimit < 1 || r.NoActionLimit > 10 {
		return r, fmt.Errorf("%w: noActionLimit %d", types.ErrValidationFailed, r.NoActionLimit)
	}
	if r.Balance == (types.Balance{}) {
		r.Balance = types.DefaultBalance()
	}
	if r.Balance.HPPerStamina < 1 {
		return r, fmt.Errorf("%w: hpPerStamina %d", types.ErrValidationFailed, r.Balance.HPPerStamina)
	}
	if r.Balance.DamagePerStrength < 1 {
		return r, fmt.Errorf("%w: damagePerStrength %v", types.ErrValidationFailed, r.Balance.DamagePerStrength)
	}
	return r, nil
}

// HandleBattleCreated initializes state for the battle and opens turn 1.
// Validation and missing-profile failures are non-retryable
// (ErrValidationFailed / ErrProfileNotFound); everything else may be
// redelivered and converges.
func (s *Service) HandleBattleCreated(ctx context.Context, msg BattleCreated) error {
	ruleset, err := ValidateRuleset(msg.Ruleset)
	if err != nil {
		s.log.Warn("rejecting battle with invalid ruleset",
			zap.String("battleId", msg.BattleID.String()), zap.Error(err))
		return err
	}

	statsA, err := s.profiles.GetStats(ctx, msg.PlayerAID)
	if err != nil {
		return fmt.Errorf("player %s: %w", msg.PlayerAID, err)
	}
	statsB, err := s.profiles.GetStats(ctx, msg.PlayerBID)
	if err != nil {
		return fmt.Errorf("player %s: %w", msg.PlayerBID, err)
	}

	initial := initialState(msg, ruleset, *statsA, *statsB)

	created, err := s.store.TryInitializeBattle(ctx, initial)
	if err != nil {
		return err
	}
	if created {
		metrics.BattlesStarted.Inc()
	}

	// Convergence gate: only the call that actually opened turn 1 announces it.
	deadline := s.clock.Now().Add(ruleset.TurnDuration())
	opened, err := s.store.TryOpenTurn(ctx, msg.BattleID, 1, deadline)
	if err != nil {
		return err
	}
	if !opened {
		return nil
	}

	committed, err := s.store.GetState(ctx, msg.BattleID)
	if err != nil || committed == nil {
		s.log.Warn("reload after opening turn 1 failed",
			zap.String("battleId", msg.BattleID.String()), zap.Error(err))
		return nil
	}

	s.notifier.BattleReady(msg.BattleID, msg.PlayerAID, msg.PlayerBID)
	s.notifier.TurnOpened(msg.BattleID, committed.TurnIndex, committed.Deadline())

	s.log.Info("battle opened",
		zap.String("battleId", msg.BattleID.String()),
		zap.String("matchId", msg.MatchID.String()))
	return nil
}

// initialState computes the ArenaOpen state with HP derived from profiles.
func initialState(msg BattleCreated, ruleset types.Ruleset, statsA, statsB types.PlayerStats) *types.BattleState {
	hpA := combat.Derive(statsA, ruleset.Balance).HPMax
	hpB := combat.Derive(statsB, ruleset.Balance).HPMax
	return &types.BattleState{
		BattleID:  msg.BattleID,
		MatchID:   msg.MatchID,
		PlayerAID: msg.PlayerAID,
		PlayerBID: msg.PlayerBID,
		Ruleset:   ruleset,
		Phase:     types.PhaseArenaOpen,
		PlayerA: types.PlayerState{
			PlayerID:  msg.PlayerAID,
			MaxHP:     hpA,
			CurrentHP: hpA,
			Stats:     statsA,
		},
		PlayerB: types.PlayerState{
			PlayerID:  msg.PlayerBID,
			MaxHP:     hpB,
			CurrentHP: hpB,
			Stats:     statsB,
		},
		Version: 1,
	}
}
