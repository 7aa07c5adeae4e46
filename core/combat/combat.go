// Package combat implements the pure combat formulas: derived stats, the
// dodge/crit chance curve, and single-strike resolution.
package combat

import (
	"math"

	"github.com/sorokinArtemV/kombats-sub001/core/rng"
	"github.com/sorokinArtemV/kombats-sub001/core/types"
)

// Derived are the per-player values computed from stats and balance.
type Derived struct {
	HPMax       int
	DamageMin   int
	DamageMax   int
	MFDodge     float64
	MFAntiDodge float64
	MFCrit      float64
	MFAntiCrit  float64
}

// Derive computes the derived stats of a player under the given balance.
func Derive(stats types.PlayerStats, bal types.Balance) Derived {
	baseDamage := bal.BaseWeaponDamage +
		float64(stats.Strength)*bal.DamagePerStrength +
		float64(stats.Agility)*bal.DamagePerAgility +
		float64(stats.Intuition)*bal.DamagePerIntuition

	mfDodge := float64(stats.Agility) * bal.MFPerAgility
	mfCrit := float64(stats.Intuition) * bal.MFPerIntuition

	return Derived{
		HPMax:       bal.BaseHP + stats.Stamina*bal.HPPerStamina,
		DamageMin:   int(math.Floor(baseDamage * bal.SpreadMin)),
		DamageMax:   int(math.Ceil(baseDamage * bal.SpreadMax)),
		MFDodge:     mfDodge,
		MFAntiDodge: mfDodge,
		MFCrit:      mfCrit,
		MFAntiCrit:  mfCrit,
	}
}

// Chance evaluates the clamped chance curve at the given mastery difference.
func Chance(c types.ChanceCurve, diff float64) float64 {
	v := c.Base
	if diff != 0 || c.KBase != 0 {
		v += c.Scale * diff / (math.Abs(diff) + c.KBase)
	}
	return math.Min(math.Max(v, c.Min), c.Max)
}

// Strike is the outcome of one directed attack.
type Strike struct {
	Outcome types.StrikeOutcome
	Damage  int
}

// ResolveStrike resolves a single attack from attacker against defender.
// The stream must be the attacker's independent per-turn stream; roll order
// is fixed: dodge, crit, damage.
func ResolveStrike(
	attacker Derived,
	attack types.PlayerAction,
	defender Derived,
	defense types.PlayerAction,
	bal types.Balance,
	st *rng.Stream,
) Strike {
	if attack.IsNoAction() {
		return Strike{Outcome: types.OutcomeNoAction}
	}

	dodgeChance := Chance(bal.Dodge, defender.MFDodge-attacker.MFAntiDodge)
	if st.NextFraction() < dodgeChance {
		return Strike{Outcome: types.OutcomeDodged}
	}

	critChance := Chance(bal.Crit, attacker.MFCrit-defender.MFAntiCrit)
	crit := st.NextFraction() < critChance

	blocked := defense.Blocks(attack.AttackZone)

	if blocked && !crit {
		return Strike{Outcome: types.OutcomeBlocked}
	}

	if blocked && crit {
		switch bal.CritEffect {
		case types.CritEffectBypassBlock:
			dmg := st.NextDamage(attacker.DamageMin, attacker.DamageMax)
			return Strike{
				Outcome: types.OutcomeCriticalBypassBlock,
				Damage:  scaleDamage(dmg, bal.CritMultiplier),
			}
		case types.CritEffectHybrid:
			dmg := st.NextDamage(attacker.DamageMin, attacker.DamageMax)
			return Strike{
				Outcome: types.OutcomeCriticalHybridBlocked,
				Damage:  scaleDamage(dmg, bal.CritMultiplier*bal.HybridBlockMultiplier),
			}
		default:
			// Multiplier effect: a crit into a block is still a block.
			return Strike{Outcome: types.OutcomeBlocked}
		}
	}

	dmg := st.NextDamage(attacker.DamageMin, attacker.DamageMax)
	if crit {
		return Strike{
			Outcome: types.OutcomeCriticalHit,
			Damage:  scaleDamage(dmg, bal.CritMultiplier),
		}
	}
	return Strike{Outcome: types.OutcomeHit, Damage: dmg}
}

// scaleDamage applies a multiplier rounding half away from zero.
func scaleDamage(dmg int, mult float64) int {
	return int(math.Round(float64(dmg) * mult))
}
