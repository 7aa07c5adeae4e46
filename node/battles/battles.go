// Package battles persists the battle registry: one row per battle, written
// when the creation command is accepted and finalized when the battle ends.
// Redis remains the authority for live state; this table is the durable
// record.
package battles

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sorokinArtemV/kombats-sub001/core/types"
)

// Record is one battle registry row.
type Record struct {
	BattleID       uuid.UUID
	MatchID        uuid.UUID
	PlayerAID      uuid.UUID
	PlayerBID      uuid.UUID
	RulesetVersion int
	CreatedAt      time.Time
	EndedAt        *time.Time
	EndReason      string
	WinnerPlayerID *uuid.UUID
}

// Repo is the battle registry. Insert is idempotent on BattleID so command
// redeliveries are harmless.
type Repo interface {
	Insert(ctx context.Context, rec Record) error
	MarkEnded(ctx context.Context, battleID uuid.UUID, reason string, winnerID *uuid.UUID, endedAt time.Time) error
	Get(ctx context.Context, battleID uuid.UUID) (*Record, error)
}

// MemoryRepo is the in-process registry used when the node runs without
// Postgres, and in tests.
type MemoryRepo struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
}

// NewMemoryRepo creates an empty in-memory registry.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: make(map[uuid.UUID]Record)}
}

// Insert implements Repo.
func (r *MemoryRepo) Insert(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.BattleID]; exists {
		return nil
	}
	r.records[rec.BattleID] = rec
	return nil
}

// MarkEnded implements Repo.
func (r *MemoryRepo) MarkEnded(_ context.Context, battleID uuid.UUID, reason string, winnerID *uuid.UUID, endedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, exists := r.records[battleID]
	if !exists {
		return types.ErrBattleNotFound
	}
	if rec.EndedAt != nil {
		return nil
	}
	rec.EndedAt = &endedAt
	rec.EndReason = reason
	rec.WinnerPlayerID = winnerID
	r.records[battleID] = rec
	return nil
}

// Get implements Repo.
func (r *MemoryRepo) Get(_ context.Context, battleID uuid.UUID) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, exists := r.records[battleID]
	if !exists {
		return nil, types.ErrBattleNotFound
	}
	return &rec, nil
}
