// Package realtime implements the websocket push channel. Connections join a
// per-battle group after a participant check; server events fan out to the
// group fire-and-forget. A client that cannot keep up is dropped and refetches
// state on reconnect.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/core/types"
)

// Push event names.
const (
	EventBattleReady        = "BattleReady"
	EventTurnOpened         = "TurnOpened"
	EventTurnResolved       = "TurnResolved"
	EventPlayerDamaged      = "PlayerDamaged"
	EventBattleStateUpdated = "BattleStateUpdated"
	EventBattleEnded        = "BattleEnded"
	EventBattleSnapshot     = "BattleSnapshot"
	EventError              = "Error"
)

// Hub tracks per-battle subscription groups and implements the notifier
// interfaces of the turn and lifecycle services.
type Hub struct {
	mu     sync.RWMutex
	groups map[uuid.UUID]map[*Client]struct{}
	log    *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		groups: make(map[uuid.UUID]map[*Client]struct{}),
		log:    log.Named("realtime"),
	}
}

// join subscribes a client to a battle group.
func (h *Hub) join(battleID uuid.UUID, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.groups[battleID]
	if !ok {
		group = make(map[*Client]struct{})
		h.groups[battleID] = group
	}
	group[c] = struct{}{}
	c.battles[battleID] = struct{}{}
}

// drop removes a client from all its groups.
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for battleID := range c.battles {
		if group, ok := h.groups[battleID]; ok {
			delete(group, c)
			if len(group) == 0 {
				delete(h.groups, battleID)
			}
		}
	}
}

// broadcast pushes an event to every subscriber of a battle. Slow clients
// are skipped; delivery is best-effort by design of the protocol.
func (h *Hub) broadcast(battleID uuid.UUID, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("marshal push event failed", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.groups[battleID] {
		c.trySend(data)
	}
}

// BattleReady announces a newly opened battle.
func (h *Hub) BattleReady(battleID, playerAID, playerBID uuid.UUID) {
	h.broadcast(battleID, struct {
		Type      string    `json:"type"`
		BattleID  uuid.UUID `json:"battleId"`
		PlayerAID uuid.UUID `json:"playerAId"`
		PlayerBID uuid.UUID `json:"playerBId"`
	}{EventBattleReady, battleID, playerAID, playerBID})
}

// TurnOpened announces a new turn and its authoritative deadline.
func (h *Hub) TurnOpened(battleID uuid.UUID, turnIndex int, deadline time.Time) {
	h.broadcast(battleID, struct {
		Type        string    `json:"type"`
		BattleID    uuid.UUID `json:"battleId"`
		TurnIndex   int       `json:"turnIndex"`
		DeadlineUTC string    `json:"deadlineUtc"`
	}{EventTurnOpened, battleID, turnIndex, deadline.UTC().Format(time.RFC3339Nano)})
}

// TurnResolved announces the resolved turn with action descriptions.
func (h *Hub) TurnResolved(battleID uuid.UUID, turnIndex int, actionA, actionB string) {
	h.broadcast(battleID, struct {
		Type      string    `json:"type"`
		BattleID  uuid.UUID `json:"battleId"`
		TurnIndex int       `json:"turnIndex"`
		ActionA   string    `json:"actionA"`
		ActionB   string    `json:"actionB"`
	}{EventTurnResolved, battleID, turnIndex, actionA, actionB})
}

// PlayerDamaged announces damage against one player.
func (h *Hub) PlayerDamaged(battleID, playerID uuid.UUID, damage, remainingHP, turnIndex int) {
	h.broadcast(battleID, struct {
		Type        string    `json:"type"`
		BattleID    uuid.UUID `json:"battleId"`
		PlayerID    uuid.UUID `json:"playerId"`
		Damage      int       `json:"damage"`
		RemainingHP int       `json:"remainingHp"`
		TurnIndex   int       `json:"turnIndex"`
	}{EventPlayerDamaged, battleID, playerID, damage, remainingHP, turnIndex})
}

// BattleStateUpdated pushes a full snapshot.
func (h *Hub) BattleStateUpdated(snapshot types.Snapshot) {
	h.broadcast(snapshot.BattleID, struct {
		Type string `json:"type"`
		types.Snapshot
	}{EventBattleStateUpdated, snapshot})
}

// BattleEnded announces the terminal result.
func (h *Hub) BattleEnded(battleID uuid.UUID, reason types.EndReason, winnerID *uuid.UUID, endedAt time.Time) {
	h.broadcast(battleID, struct {
		Type           string          `json:"type"`
		BattleID       uuid.UUID       `json:"battleId"`
		Reason         types.EndReason `json:"reason"`
		WinnerPlayerID *uuid.UUID      `json:"winnerPlayerId,omitempty"`
		EndedAt        string          `json:"endedAt"`
	}{EventBattleEnded, battleID, reason, winnerID, endedAt.UTC().Format(time.RFC3339Nano)})
}
