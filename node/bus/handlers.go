package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/core/clock"
	"github.com/sorokinArtemV/kombats-sub001/core/types"
	"github.com/sorokinArtemV/kombats-sub001/node/battles"
	"github.com/sorokinArtemV/kombats-sub001/node/lifecycle"
)

// Consumer group names.
const (
	GroupNode    = "kombats-node"
	GroupArchive = "kombats-archive"
)

// CommandHandler processes the command stream: it registers the battle,
// acknowledges it on the event stream and hands it to the lifecycle service.
// Every step is idempotent, so redeliveries converge.
type CommandHandler struct {
	repo      battles.Repo
	lifecycle *lifecycle.Service
	publisher *Publisher
	clock     clock.Clock
	log       *zap.Logger
}

// NewCommandHandler creates the command stream handler.
func NewCommandHandler(repo battles.Repo, lc *lifecycle.Service, publisher *Publisher, clk clock.Clock, log *zap.Logger) *CommandHandler {
	return &CommandHandler{
		repo:      repo,
		lifecycle: lc,
		publisher: publisher,
		clock:     clk,
		log:       log.Named("commands"),
	}
}

// Handle implements Handler.
func (h *CommandHandler) Handle(ctx context.Context, env Envelope) error {
	switch env.Type {
	case TypeCreateBattle:
		return h.handleCreate(ctx, env)
	default:
		// Unknown command types are forward-compatibility noise.
		h.log.Debug("ignoring command", zap.String("type", env.Type))
		return nil
	}
}

func (h *CommandHandler) handleCreate(ctx context.Context, env Envelope) error {
	var cmd CreateBattle
	if err := env.Decode(&cmd); err != nil {
		return NonRetryable{Err: fmt.Errorf("decode CreateBattle: %w", err)}
	}

	now := h.clock.Now()
	if err := h.repo.Insert(ctx, battles.Record{
		BattleID:       cmd.BattleID,
		MatchID:        cmd.MatchID,
		PlayerAID:      cmd.PlayerAID,
		PlayerBID:      cmd.PlayerBID,
		RulesetVersion: cmd.Ruleset.Version,
		CreatedAt:      now,
	}); err != nil {
		return fmt.Errorf("register battle %s: %w", cmd.BattleID, err)
	}

	if err := h.publisher.PublishBattleCreated(ctx, BattleCreated(cmd), now); err != nil {
		return err
	}

	err := h.lifecycle.HandleBattleCreated(ctx, lifecycle.BattleCreated{
		BattleID:    cmd.BattleID,
		MatchID:     cmd.MatchID,
		PlayerAID:   cmd.PlayerAID,
		PlayerBID:   cmd.PlayerBID,
		Ruleset:     cmd.Ruleset,
		RequestedAt: now,
	})
	if errors.Is(err, types.ErrValidationFailed) || errors.Is(err, types.ErrProfileNotFound) {
		return NonRetryable{Err: err}
	}
	return err
}

// ArchiveHandler consumes the event stream and finalizes battle registry
// rows when battles end.
type ArchiveHandler struct {
	repo battles.Repo
	log  *zap.Logger
}

// NewArchiveHandler creates the event stream archiver.
func NewArchiveHandler(repo battles.Repo, log *zap.Logger) *ArchiveHandler {
	return &ArchiveHandler{repo: repo, log: log.Named("archive")}
}

// Handle implements Handler.
func (h *ArchiveHandler) Handle(ctx context.Context, env Envelope) error {
	if env.Type != TypeBattleEnded {
		return nil
	}

	var ev BattleEnded
	if err := env.Decode(&ev); err != nil {
		return NonRetryable{Err: fmt.Errorf("decode BattleEnded: %w", err)}
	}
	endedAt, err := time.Parse(time.RFC3339Nano, ev.EndedAt)
	if err != nil {
		return NonRetryable{Err: fmt.Errorf("parse endedAt %q: %w", ev.EndedAt, err)}
	}

	err = h.repo.MarkEnded(ctx, ev.BattleID, string(ev.Reason), ev.WinnerPlayerID, endedAt)
	if errors.Is(err, types.ErrBattleNotFound) {
		// The registry row may lag the event; retry until the command
		// consumer catches up.
		return fmt.Errorf("battle %s not yet registered: %w", ev.BattleID, err)
	}
	return err
}
