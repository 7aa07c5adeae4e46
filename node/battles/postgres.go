package battles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sorokinArtemV/kombats-sub001/core/types"
)

// Schema is the battles table DDL, applied by the operator or by
// EnsureSchema at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS battles (
	battle_id        UUID PRIMARY KEY,
	match_id         UUID NOT NULL,
	player_a_id      UUID NOT NULL,
	player_b_id      UUID NOT NULL,
	ruleset_version  INT  NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL,
	ended_at         TIMESTAMPTZ,
	end_reason       TEXT NOT NULL DEFAULT '',
	winner_player_id UUID
);
CREATE INDEX IF NOT EXISTS battles_match_id_idx ON battles (match_id);
`

// PGRepo is the Postgres-backed battle registry.
type PGRepo struct {
	pool *pgxpool.Pool
}

// NewPGRepo creates a registry over an existing pool.
func NewPGRepo(pool *pgxpool.Pool) *PGRepo {
	return &PGRepo{pool: pool}
}

// EnsureSchema applies the battles table DDL.
func (r *PGRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply battles schema: %w", err)
	}
	return nil
}

// Insert implements Repo. The conflict clause makes redeliveries no-ops.
func (r *PGRepo) Insert(ctx context.Context, rec Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO battles (battle_id, match_id, player_a_id, player_b_id, ruleset_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (battle_id) DO NOTHING`,
		rec.BattleID, rec.MatchID, rec.PlayerAID, rec.PlayerBID, rec.RulesetVersion, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert battle %s: %w", rec.BattleID, err)
	}
	return nil
}

// MarkEnded implements Repo. Only the first finalization writes; later calls
// find ended_at set and change nothing.
func (r *PGRepo) MarkEnded(ctx context.Context, battleID uuid.UUID, reason string, winnerID *uuid.UUID, endedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE battles
		SET ended_at = $2, end_reason = $3, winner_player_id = $4
		WHERE battle_id = $1 AND ended_at IS NULL`,
		battleID, endedAt, reason, winnerID)
	if err != nil {
		return fmt.Errorf("mark battle %s ended: %w", battleID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either already finalized or never registered; resolve which.
		if _, err := r.Get(ctx, battleID); err != nil {
			return err
		}
	}
	return nil
}

// Get implements Repo.
func (r *PGRepo) Get(ctx context.Context, battleID uuid.UUID) (*Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx, `
		SELECT battle_id, match_id, player_a_id, player_b_id, ruleset_version,
		       created_at, ended_at, end_reason, winner_player_id
		FROM battles WHERE battle_id = $1`, battleID).Scan(
		&rec.BattleID, &rec.MatchID, &rec.PlayerAID, &rec.PlayerBID,
		&rec.RulesetVersion, &rec.CreatedAt, &rec.EndedAt, &rec.EndReason,
		&rec.WinnerPlayerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrBattleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get battle %s: %w", battleID, err)
	}
	return &rec, nil
}
