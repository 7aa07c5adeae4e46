// Package engine implements pure turn resolution. Resolve is the single
// authority for combat semantics: no I/O, no clock reads, deterministic for a
// fixed (state, actionA, actionB).
package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/sorokinArtemV/kombats-sub001/core/combat"
	"github.com/sorokinArtemV/kombats-sub001/core/rng"
	"github.com/sorokinArtemV/kombats-sub001/core/types"
)

// Resolve computes the outcome of the state's current turn given both
// players' actions. The state must be in the Resolving phase and both actions
// must carry the state's turn index; violations indicate caller bugs.
//
// The returned state is a copy. When the battle continues, its phase stays
// Resolving and the caller commits the transition to the next turn.
func Resolve(
	state *types.BattleState,
	actionA, actionB types.PlayerAction,
) (*types.BattleState, []types.Event, error) {
	if state.Phase != types.PhaseResolving {
		return nil, nil, fmt.Errorf("%w: resolve called in phase %s", types.ErrInvalidPhase, state.Phase)
	}
	if actionA.TurnIndex != state.TurnIndex || actionB.TurnIndex != state.TurnIndex {
		return nil, nil, fmt.Errorf("%w: turn %d, actions %d/%d",
			types.ErrTurnMismatch, state.TurnIndex, actionA.TurnIndex, actionB.TurnIndex)
	}

	actionA = normalize(actionA)
	actionB = normalize(actionB)

	next := state.Clone()
	var events []types.Event

	if actionA.IsNoAction() && actionB.IsNoAction() {
		next.NoActionStreakBoth = state.NoActionStreakBoth + 1
		if next.NoActionStreakBoth >= state.Ruleset.NoActionLimit {
			next.Phase = types.PhaseEnded
			next.EndedReason = types.EndReasonDoubleForfeit
			next.WinnerPlayerID = nil
			next.LastResolvedTurnIndex = state.TurnIndex
			events = append(events, types.BattleEnded{
				TurnIndex: state.TurnIndex,
				Reason:    types.EndReasonDoubleForfeit,
			})
			return next, events, nil
		}
		events = append(events, types.TurnResolved{
			TurnIndex:      state.TurnIndex,
			ActionA:        actionA.String(),
			ActionB:        actionB.String(),
			NoActionStreak: next.NoActionStreakBoth,
		})
		return next, events, nil
	}

	next.NoActionStreakBoth = 0

	bal := state.Ruleset.Balance
	derivedA := combat.Derive(state.PlayerA.Stats, bal)
	derivedB := combat.Derive(state.PlayerB.Stats, bal)

	turnSeed := rng.TurnSeed(state.Ruleset.Seed, state.BattleID, state.TurnIndex)
	seedAtoB, seedBtoA := rng.StrikeSeeds(turnSeed, state.PlayerAID, state.PlayerBID)

	// Independent streams make the two strikes order-free.
	strikeAB := combat.ResolveStrike(derivedA, actionA, derivedB, actionB, bal, rng.New(seedAtoB))
	strikeBA := combat.ResolveStrike(derivedB, actionB, derivedA, actionA, bal, rng.New(seedBtoA))

	// Damage applies simultaneously from start-of-turn HP.
	next.PlayerB.CurrentHP = clampHP(state.PlayerB.CurrentHP - strikeAB.Damage)
	next.PlayerA.CurrentHP = clampHP(state.PlayerA.CurrentHP - strikeBA.Damage)

	if strikeAB.Damage > 0 {
		events = append(events, types.PlayerDamaged{
			PlayerID:    state.PlayerBID,
			Damage:      strikeAB.Damage,
			RemainingHP: next.PlayerB.CurrentHP,
			TurnIndex:   state.TurnIndex,
			Outcome:     strikeAB.Outcome,
		})
	}
	if strikeBA.Damage > 0 {
		events = append(events, types.PlayerDamaged{
			PlayerID:    state.PlayerAID,
			Damage:      strikeBA.Damage,
			RemainingHP: next.PlayerA.CurrentHP,
			TurnIndex:   state.TurnIndex,
			Outcome:     strikeBA.Outcome,
		})
	}

	deadA := next.PlayerA.Dead()
	deadB := next.PlayerB.Dead()

	if deadA || deadB {
		var winner *uuid.UUID
		next.Phase = types.PhaseEnded
		next.EndedReason = types.EndReasonNormal
		next.LastResolvedTurnIndex = state.TurnIndex
		switch {
		case deadA && deadB:
			// Draw: no winner.
		case deadA:
			winner = ptr(state.PlayerBID)
		default:
			winner = ptr(state.PlayerAID)
		}
		next.WinnerPlayerID = winner
		events = append(events, types.BattleEnded{
			TurnIndex:      state.TurnIndex,
			Reason:         types.EndReasonNormal,
			WinnerPlayerID: winner,
		})
		return next, events, nil
	}

	events = append(events, types.TurnResolved{
		TurnIndex: state.TurnIndex,
		ActionA:   actionA.String(),
		ActionB:   actionB.String(),
	})
	return next, events, nil
}

// normalize reduces malformed actions to NoAction: missing or unknown attack
// zone, or a present but non-adjacent block pair.
func normalize(a types.PlayerAction) types.PlayerAction {
	if a.IsNoAction() || !types.ValidZone(a.AttackZone) {
		return types.NoAction(a.TurnIndex)
	}
	if (a.BlockPrimary != "" || a.BlockSecondary != "") &&
		!types.ValidBlockPattern(a.BlockPrimary, a.BlockSecondary) {
		return types.NoAction(a.TurnIndex)
	}
	return a
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }

func clampHP(hp int) int {
	if hp < 0 {
		return 0
	}
	return hp
}
