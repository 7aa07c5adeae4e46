package types

import "github.com/google/uuid"

// Event is a domain event emitted by the engine. The set of variants is
// closed: PlayerDamaged, TurnResolved, BattleEnded.
type Event interface {
	EventKind() string
}

// PlayerDamaged reports a nonzero hit against a player.
type PlayerDamaged struct {
	PlayerID    uuid.UUID
	Damage      int
	RemainingHP int
	TurnIndex   int
	Outcome     StrikeOutcome
}

// TurnResolved reports that a turn resolved and the battle continues.
type TurnResolved struct {
	TurnIndex      int
	ActionA        string
	ActionB        string
	NoActionStreak int
}

// BattleEnded reports the terminal transition. Winner is nil on a draw or
// double forfeit.
type BattleEnded struct {
	TurnIndex      int
	Reason         EndReason
	WinnerPlayerID *uuid.UUID
}

func (PlayerDamaged) EventKind() string { return "PlayerDamaged" }
func (TurnResolved) EventKind() string  { return "TurnResolved" }
func (BattleEnded) EventKind() string   { return "BattleEnded" }
