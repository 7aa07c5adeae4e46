// Package types defines the domain types shared across core and node.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Phase is the battle lifecycle phase.
type Phase string

const (
	PhaseArenaOpen Phase = "ArenaOpen"
	PhaseTurnOpen  Phase = "TurnOpen"
	PhaseResolving Phase = "Resolving"
	PhaseEnded     Phase = "Ended"
)

// EndReason explains why a battle ended.
type EndReason string

const (
	EndReasonNormal        EndReason = "Normal"
	EndReasonDoubleForfeit EndReason = "DoubleForfeit"
	EndReasonTimeout       EndReason = "Timeout"
	EndReasonCancelled     EndReason = "Cancelled"
	EndReasonAdminForced   EndReason = "AdminForced"
	EndReasonSystemError   EndReason = "SystemError"
)

// CritEffect selects how a critical strike interacts with a block.
type CritEffect string

const (
	CritEffectMultiplier  CritEffect = "Multiplier"
	CritEffectBypassBlock CritEffect = "BypassBlock"
	CritEffectHybrid      CritEffect = "Hybrid"
)

// StrikeOutcome is the result of a single directed attack.
type StrikeOutcome string

const (
	OutcomeNoAction              StrikeOutcome = "NoAction"
	OutcomeDodged                StrikeOutcome = "Dodged"
	OutcomeBlocked               StrikeOutcome = "Blocked"
	OutcomeHit                   StrikeOutcome = "Hit"
	OutcomeCriticalHit           StrikeOutcome = "CriticalHit"
	OutcomeCriticalBypassBlock   StrikeOutcome = "CriticalBypassBlock"
	OutcomeCriticalHybridBlocked StrikeOutcome = "CriticalHybridBlocked"
)

// ChanceCurve parameterizes the dodge/crit probability formula:
// chance(diff) = clamp(Base + Scale*diff/(|diff|+KBase), Min, Max).
type ChanceCurve struct {
	Base  float64 `json:"base"`
	Scale float64 `json:"scale"`
	KBase float64 `json:"kBase"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Balance holds the combat tuning constants of a ruleset.
type Balance struct {
	BaseHP             int     `json:"baseHp"`
	HPPerStamina       int     `json:"hpPerStamina"`
	BaseWeaponDamage   float64 `json:"baseWeaponDamage"`
	DamagePerStrength  float64 `json:"damagePerStrength"`
	DamagePerAgility   float64 `json:"damagePerAgility"`
	DamagePerIntuition float64 `json:"damagePerIntuition"`
	SpreadMin          float64 `json:"spreadMin"`
	SpreadMax          float64 `json:"spreadMax"`
	MFPerAgility       float64 `json:"mfPerAgility"`
	MFPerIntuition     float64 `json:"mfPerIntuition"`

	Dodge ChanceCurve `json:"dodge"`
	Crit  ChanceCurve `json:"crit"`

	CritEffect            CritEffect `json:"critEffect"`
	CritMultiplier        float64    `json:"critMultiplier"`
	HybridBlockMultiplier float64    `json:"hybridBlockMultiplier"`
}

// DefaultBalance returns the production combat tuning.
func DefaultBalance() Balance {
	return Balance{
		BaseHP:             0,
		HPPerStamina:       10,
		BaseWeaponDamage:   0,
		DamagePerStrength:  2,
		DamagePerAgility:   0.5,
		DamagePerIntuition: 0.5,
		SpreadMin:          0.8,
		SpreadMax:          1.2,
		MFPerAgility:       10,
		MFPerIntuition:     10,
		Dodge: ChanceCurve{
			Base: 0.10, Scale: 0.35, KBase: 200, Min: 0.02, Max: 0.45,
		},
		Crit: ChanceCurve{
			Base: 0.08, Scale: 0.30, KBase: 200, Min: 0.01, Max: 0.40,
		},
		CritEffect:            CritEffectHybrid,
		CritMultiplier:        2.0,
		HybridBlockMultiplier: 0.5,
	}
}

// Ruleset is the immutable parameter bundle of a battle.
type Ruleset struct {
	Version       int     `json:"version"`
	TurnSeconds   int     `json:"turnSeconds"`
	NoActionLimit int     `json:"noActionLimit"`
	Seed          uint32  `json:"seed"`
	Balance       Balance `json:"combatBalance"`
}

// TurnDuration returns the turn length as a duration.
func (r Ruleset) TurnDuration() time.Duration {
	return time.Duration(r.TurnSeconds) * time.Second
}

// PlayerStats are the immutable combat attributes of a player.
type PlayerStats struct {
	Strength  int `json:"strength"`
	Stamina   int `json:"stamina"`
	Agility   int `json:"agility"`
	Intuition int `json:"intuition"`
}

// PlayerState is the per-player mutable battle state. CurrentHP == 0 means dead.
type PlayerState struct {
	PlayerID  uuid.UUID   `json:"playerId"`
	MaxHP     int         `json:"maxHp"`
	CurrentHP int         `json:"currentHp"`
	Stats     PlayerStats `json:"stats"`
}

// Dead reports whether the player has no hit points left.
func (p PlayerState) Dead() bool { return p.CurrentHP <= 0 }

// BattleState is the authoritative state record of one battle.
type BattleState struct {
	BattleID              uuid.UUID   `json:"battleId"`
	MatchID               uuid.UUID   `json:"matchId"`
	PlayerAID             uuid.UUID   `json:"playerAId"`
	PlayerBID             uuid.UUID   `json:"playerBId"`
	Ruleset               Ruleset     `json:"ruleset"`
	Phase                 Phase       `json:"phase"`
	TurnIndex             int         `json:"turnIndex"`
	NoActionStreakBoth    int         `json:"noActionStreakBoth"`
	LastResolvedTurnIndex int         `json:"lastResolvedTurnIndex"`
	PlayerA               PlayerState `json:"playerA"`
	PlayerB               PlayerState `json:"playerB"`
	DeadlineUnixMs        int64       `json:"deadlineUnixMs"`
	EndedReason           EndReason   `json:"endedReason,omitempty"`
	WinnerPlayerID        *uuid.UUID  `json:"winnerPlayerId,omitempty"`
	EndedAtUnixMs         int64       `json:"endedAtUnixMs,omitempty"`
	Version               int64       `json:"version"`
}

// Deadline returns the current turn deadline in UTC.
func (s *BattleState) Deadline() time.Time {
	return time.UnixMilli(s.DeadlineUnixMs).UTC()
}

// IsParticipant reports whether the player is one of the two combatants.
func (s *BattleState) IsParticipant(playerID uuid.UUID) bool {
	return playerID == s.PlayerAID || playerID == s.PlayerBID
}

// Player returns the state of the given participant, or nil.
func (s *BattleState) Player(playerID uuid.UUID) *PlayerState {
	switch playerID {
	case s.PlayerAID:
		return &s.PlayerA
	case s.PlayerBID:
		return &s.PlayerB
	}
	return nil
}

// Clone returns a deep copy of the state.
func (s *BattleState) Clone() *BattleState {
	c := *s
	if s.WinnerPlayerID != nil {
		w := *s.WinnerPlayerID
		c.WinnerPlayerID = &w
	}
	return &c
}

// Snapshot is the client-facing view of a battle. Timestamps are ISO-8601 UTC.
type Snapshot struct {
	BattleID              uuid.UUID  `json:"battleId"`
	PlayerAID             uuid.UUID  `json:"playerAId"`
	PlayerBID             uuid.UUID  `json:"playerBId"`
	Ruleset               Ruleset    `json:"ruleset"`
	Phase                 Phase      `json:"phase"`
	TurnIndex             int        `json:"turnIndex"`
	DeadlineUTC           string     `json:"deadlineUtc"`
	NoActionStreakBoth    int        `json:"noActionStreakBoth"`
	LastResolvedTurnIndex int        `json:"lastResolvedTurnIndex"`
	EndedReason           EndReason  `json:"endedReason,omitempty"`
	WinnerPlayerID        *uuid.UUID `json:"winnerPlayerId,omitempty"`
	Version               int64      `json:"version"`
	PlayerAHP             int        `json:"playerAHp"`
	PlayerBHP             int        `json:"playerBHp"`
}

// Snapshot projects the state into its client-facing view.
func (s *BattleState) Snapshot() Snapshot {
	return Snapshot{
		BattleID:              s.BattleID,
		PlayerAID:             s.PlayerAID,
		PlayerBID:             s.PlayerBID,
		Ruleset:               s.Ruleset,
		Phase:                 s.Phase,
		TurnIndex:             s.TurnIndex,
		DeadlineUTC:           s.Deadline().Format(time.RFC3339Nano),
		NoActionStreakBoth:    s.NoActionStreakBoth,
		LastResolvedTurnIndex: s.LastResolvedTurnIndex,
		EndedReason:           s.EndedReason,
		WinnerPlayerID:        s.WinnerPlayerID,
		Version:               s.Version,
		PlayerAHP:             s.PlayerA.CurrentHP,
		PlayerBHP:             s.PlayerB.CurrentHP,
	}
}
