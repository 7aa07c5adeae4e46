package types

import "encoding/json"

// Zone is a body zone targeted by attacks and covered by blocks.
type Zone string

const (
	ZoneHead  Zone = "Head"
	ZoneChest Zone = "Chest"
	ZoneBelly Zone = "Belly"
	ZoneWaist Zone = "Waist"
	ZoneLegs  Zone = "Legs"
)

// zoneOrder fixes the adjacency order of the five zones.
var zoneOrder = map[Zone]int{
	ZoneHead:  0,
	ZoneChest: 1,
	ZoneBelly: 2,
	ZoneWaist: 3,
	ZoneLegs:  4,
}

// ValidZone reports whether z names one of the five zones.
func ValidZone(z Zone) bool {
	_, ok := zoneOrder[z]
	return ok
}

// ValidBlockPattern reports whether the two block zones form a legal pair:
// both valid and adjacent in the fixed zone order.
func ValidBlockPattern(primary, secondary Zone) bool {
	a, ok := zoneOrder[primary]
	if !ok {
		return false
	}
	b, ok := zoneOrder[secondary]
	if !ok {
		return false
	}
	d := a - b
	return d == 1 || d == -1
}

// PlayerAction is a normalized player action for one turn. The zero attack
// zone means NoAction; a NoAction carries no block either.
type PlayerAction struct {
	TurnIndex      int  `json:"turnIndex"`
	AttackZone     Zone `json:"attackZone,omitempty"`
	BlockPrimary   Zone `json:"blockZonePrimary,omitempty"`
	BlockSecondary Zone `json:"blockZoneSecondary,omitempty"`
}

// NoAction returns the empty action for a turn.
func NoAction(turnIndex int) PlayerAction {
	return PlayerAction{TurnIndex: turnIndex}
}

// IsNoAction reports whether the action carries no attack.
func (a PlayerAction) IsNoAction() bool { return a.AttackZone == "" }

// Blocks reports whether the action's block covers the given zone. An invalid
// block pair covers nothing.
func (a PlayerAction) Blocks(zone Zone) bool {
	if !ValidBlockPattern(a.BlockPrimary, a.BlockSecondary) {
		return false
	}
	return zone == a.BlockPrimary || zone == a.BlockSecondary
}

// String describes the action for turn-resolved notifications.
func (a PlayerAction) String() string {
	if a.IsNoAction() {
		return "NoAction"
	}
	s := "Attack:" + string(a.AttackZone)
	if a.BlockPrimary != "" || a.BlockSecondary != "" {
		s += " Block:" + string(a.BlockPrimary) + "+" + string(a.BlockSecondary)
	}
	return s
}

// actionPayload is the wire shape of a submitted action.
type actionPayload struct {
	AttackZone         Zone `json:"attackZone"`
	BlockZonePrimary   Zone `json:"blockZonePrimary"`
	BlockZoneSecondary Zone `json:"blockZoneSecondary"`
}

// ParseAction normalizes a raw action payload for the given turn. Any parse
// failure, missing attack zone, or invalid block pair yields NoAction.
func ParseAction(payload []byte, turnIndex int) PlayerAction {
	if len(payload) == 0 {
		return NoAction(turnIndex)
	}
	var p actionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return NoAction(turnIndex)
	}
	if !ValidZone(p.AttackZone) {
		return NoAction(turnIndex)
	}
	act := PlayerAction{
		TurnIndex:  turnIndex,
		AttackZone: p.AttackZone,
	}
	// Blocks are optional, but a present pair must be a legal pattern.
	if p.BlockZonePrimary != "" || p.BlockZoneSecondary != "" {
		if !ValidBlockPattern(p.BlockZonePrimary, p.BlockZoneSecondary) {
			return NoAction(turnIndex)
		}
		act.BlockPrimary = p.BlockZonePrimary
		act.BlockSecondary = p.BlockZoneSecondary
	}
	return act
}

// Encode serializes the normalized action back to its wire payload. NoAction
// encodes to an empty string.
func (a PlayerAction) Encode() string {
	if a.IsNoAction() {
		return ""
	}
	b, _ := json.Marshal(actionPayload{
		AttackZone:         a.AttackZone,
		BlockZonePrimary:   a.BlockPrimary,
		BlockZoneSecondary: a.BlockSecondary,
	})
	return string(b)
}
