// Package bus is the Redis Streams integration: the command stream carries
// battle creation requests from the matchmaker, the event stream carries
// lifecycle facts back out. Consumers run in consumer groups and deduplicate
// by message id, so every message type must be safe to process at least once.
package bus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sorokinArtemV/kombats-sub001/core/types"
)

// Stream names.
const (
	StreamCommands = "kombats:commands"
	StreamEvents   = "kombats:events"
)

// Message types.
const (
	TypeCreateBattle  = "CreateBattle"
	TypeBattleCreated = "BattleCreated"
	TypeBattleEnded   = "BattleEnded"
)

// Envelope is the wire form of every bus message. The payload is typed by
// Type.
type Envelope struct {
	MessageID  string          `json:"messageId"`
	Type       string          `json:"type"`
	OccurredAt string          `json:"occurredAt"` // ISO-8601 UTC
	Payload    json.RawMessage `json:"payload"`
}

// CreateBattle is the inbound command payload.
type CreateBattle struct {
	BattleID  uuid.UUID     `json:"battleId"`
	MatchID   uuid.UUID     `json:"matchId"`
	PlayerAID uuid.UUID     `json:"playerAId"`
	PlayerBID uuid.UUID     `json:"playerBId"`
	Ruleset   types.Ruleset `json:"ruleset"`
}

// BattleCreated is published once the creation command is accepted.
type BattleCreated struct {
	BattleID  uuid.UUID     `json:"battleId"`
	MatchID   uuid.UUID     `json:"matchId"`
	PlayerAID uuid.UUID     `json:"playerAId"`
	PlayerBID uuid.UUID     `json:"playerBId"`
	Ruleset   types.Ruleset `json:"ruleset"`
}

// BattleEnded is published exactly once per battle on the terminal
// transition.
type BattleEnded struct {
	BattleID       uuid.UUID       `json:"battleId"`
	MatchID        uuid.UUID       `json:"matchId"`
	Reason         types.EndReason `json:"reason"`
	WinnerPlayerID *uuid.UUID      `json:"winnerPlayerId,omitempty"`
	EndedAt        string          `json:"endedAt"` // ISO-8601 UTC
	Version        int64           `json:"version"`
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// newEnvelope wraps a payload with a fresh message id and timestamp.
func newEnvelope(msgType string, occurredAt time.Time, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		MessageID:  uuid.NewString(),
		Type:       msgType,
		OccurredAt: occurredAt.UTC().Format(time.RFC3339Nano),
		Payload:    data,
	}, nil
}
