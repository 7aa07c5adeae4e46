// Package rpc implements the RPC backend.
package rpc

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/sorokinArtemV/kombats-sub001/core/types"
	"github.com/sorokinArtemV/kombats-sub001/node/store"
	"github.com/sorokinArtemV/kombats-sub001/node/turn"
	"github.com/sorokinArtemV/kombats-sub001/node/worker"
)

// NodeBackend implements the Backend interface over the node's services.
type NodeBackend struct {
	store  *store.Store
	turns  *turn.Service
	worker *worker.Worker
}

// NewNodeBackend creates a new NodeBackend.
func NewNodeBackend(st *store.Store, turns *turn.Service, w *worker.Worker) *NodeBackend {
	return &NodeBackend{store: st, turns: turns, worker: w}
}

// GetBattle returns a snapshot of the battle.
func (b *NodeBackend) GetBattle(ctx context.Context, battleID uuid.UUID) (*types.Snapshot, error) {
	state, err := b.store.GetState(ctx, battleID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("battle %s: %w", battleID, types.ErrBattleNotFound)
	}
	snapshot := state.Snapshot()
	return &snapshot, nil
}

// GetActiveBattleCount returns the number of live battles.
func (b *NodeBackend) GetActiveBattleCount(ctx context.Context) (int64, error) {
	return b.store.ActiveBattleCount(ctx)
}

// WorkerStats returns deadline worker counters.
func (b *NodeBackend) WorkerStats() map[string]interface{} {
	if b.worker == nil {
		return map[string]interface{}{}
	}
	return b.worker.Stats()
}

// ForceEndBattle administratively ends a battle.
func (b *NodeBackend) ForceEndBattle(ctx context.Context, battleID uuid.UUID, reason types.EndReason) (bool, error) {
	return b.turns.ForceEnd(ctx, battleID, reason)
}

// Ensure NodeBackend implements Backend
var _ Backend = (*NodeBackend)(nil)
