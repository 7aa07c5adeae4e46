// Package profile resolves player combat stats. Stats are read once at battle
// initialization and frozen into the battle state, so the store here is a
// plain lookup with no caching or invalidation concerns.
package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sorokinArtemV/kombats-sub001/core/types"
)

// PGStore reads player stats from the profiles table.
type PGStore struct {
	pool *pgxpool.Pool
}

// Schema is the profiles table DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
	player_id UUID PRIMARY KEY,
	strength  INT NOT NULL,
	agility   INT NOT NULL,
	intuition INT NOT NULL,
	stamina   INT NOT NULL
);
`

// NewPGStore creates a profile store over an existing pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// EnsureSchema applies the profiles table DDL.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply profiles schema: %w", err)
	}
	return nil
}

// GetStats returns the player's combat stats.
func (s *PGStore) GetStats(ctx context.Context, playerID uuid.UUID) (*types.PlayerStats, error) {
	var stats types.PlayerStats
	err := s.pool.QueryRow(ctx, `
		SELECT strength, agility, intuition, stamina
		FROM profiles WHERE player_id = $1`, playerID).Scan(
		&stats.Strength, &stats.Agility, &stats.Intuition, &stats.Stamina)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("player %s: %w", playerID, types.ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get stats for %s: %w", playerID, err)
	}
	return &stats, nil
}

// UpsertStats writes a player's stats. Used by fixtures and the dev loop.
func (s *PGStore) UpsertStats(ctx context.Context, playerID uuid.UUID, stats types.PlayerStats) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (player_id, strength, agility, intuition, stamina)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (player_id) DO UPDATE
		SET strength = $2, agility = $3, intuition = $4, stamina = $5`,
		playerID, stats.Strength, stats.Agility, stats.Intuition, stats.Stamina)
	if err != nil {
		return fmt.Errorf("upsert stats for %s: %w", playerID, err)
	}
	return nil
}

// StaticStore serves a fixed stats table. Used when the node runs without
// Postgres, and in tests.
type StaticStore struct {
	mu       sync.RWMutex
	stats    map[uuid.UUID]types.PlayerStats
	fallback *types.PlayerStats
}

// NewStaticStore creates a store with the given entries. A nil fallback means
// unknown players fail with ErrProfileNotFound; a non-nil fallback is served
// for any unknown player.
func NewStaticStore(stats map[uuid.UUID]types.PlayerStats, fallback *types.PlayerStats) *StaticStore {
	if stats == nil {
		stats = make(map[uuid.UUID]types.PlayerStats)
	}
	return &StaticStore{stats: stats, fallback: fallback}
}

// Put sets one player's stats.
func (s *StaticStore) Put(playerID uuid.UUID, stats types.PlayerStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[playerID] = stats
}

// GetStats returns the player's combat stats.
func (s *StaticStore) GetStats(_ context.Context, playerID uuid.UUID) (*types.PlayerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if stats, ok := s.stats[playerID]; ok {
		return &stats, nil
	}
	if s.fallback != nil {
		stats := *s.fallback
		return &stats, nil
	}
	return nil, fmt.Errorf("player %s: %w", playerID, types.ErrProfileNotFound)
}
