// Package worker implements the deadline worker: a loop that claims due
// battles under lease and resolves them. Any number of replicas may run; the
// store's claim script and the turn service's CAS make redundant claims
// harmless.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/core/clock"
	"github.com/sorokinArtemV/kombats-sub001/node/metrics"
	"github.com/sorokinArtemV/kombats-sub001/node/store"
)

// Resolver resolves one battle's current turn.
type Resolver interface {
	ResolveTurn(ctx context.Context, battleID uuid.UUID) (bool, error)
}

// Config holds deadline worker configuration.
type Config struct {
	BatchSize int           // due battles claimed per iteration
	LeaseTTL  time.Duration // must comfortably exceed worst-case resolve latency

	BacklogDelay time.Duration // delay after a non-empty claim
	IdleDelayMin time.Duration // first idle delay
	IdleDelayMax time.Duration // idle backoff cap
	ErrorDelay   time.Duration // constant delay after an iteration error

	ErrorWarnEvery int // emit a warning summary per this many transient errors
}

// DefaultConfig returns default worker config.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      64,
		LeaseTTL:       12 * time.Second,
		BacklogDelay:   30 * time.Millisecond,
		IdleDelayMin:   200 * time.Millisecond,
		IdleDelayMax:   time.Second,
		ErrorDelay:     time.Second,
		ErrorWarnEvery: 10,
	}
}

// Worker is the claim-and-resolve loop.
type Worker struct {
	config   *Config
	store    *store.Store
	resolver Resolver
	clock    clock.Clock
	log      *zap.Logger

	claimed  atomic.Uint64
	resolved atomic.Uint64
	errors   atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a deadline worker.
func New(config *Config, st *store.Store, resolver Resolver, clk clock.Clock, log *zap.Logger) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Worker{
		config:   config,
		store:    st,
		resolver: resolver,
		clock:    clk,
		log:      log.Named("worker"),
	}
}

// Start starts the worker loop.
func (w *Worker) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop()
	w.log.Info("deadline worker started",
		zap.Int("batchSize", w.config.BatchSize),
		zap.Duration("leaseTtl", w.config.LeaseTTL))
	return nil
}

// Stop stops the worker and waits for the loop to exit.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// loop claims and resolves with adaptive cadence: short delay while there is
// backlog, exponential backoff up to a cap while idle, constant delay after
// errors.
func (w *Worker) loop() {
	defer w.wg.Done()

	idle := w.config.IdleDelayMin
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		n, err := w.Tick(w.ctx)
		switch {
		case err != nil:
			count := w.errors.Add(1)
			metrics.WorkerErrors.Inc()
			if w.config.ErrorWarnEvery > 0 && count%uint64(w.config.ErrorWarnEvery) == 0 {
				w.log.Warn("deadline worker transient error summary",
					zap.Uint64("totalErrors", count), zap.Error(err))
			}
			w.sleep(w.config.ErrorDelay)
		case n > 0:
			idle = w.config.IdleDelayMin
			w.sleep(w.config.BacklogDelay)
		default:
			w.sleep(idle)
			if idle *= 2; idle > w.config.IdleDelayMax {
				idle = w.config.IdleDelayMax
			}
		}
	}
}

// Tick runs one claim-and-resolve iteration and returns the number of
// battles claimed. Exposed for tests and manual draining.
func (w *Worker) Tick(ctx context.Context) (int, error) {
	claimed, err := w.store.ClaimDueBattles(ctx, w.clock.Now(), w.config.BatchSize, w.config.LeaseTTL)
	if err != nil {
		return 0, err
	}

	for _, due := range claimed {
		w.claimed.Add(1)
		metrics.BattlesClaimed.Inc()
		ok, err := w.resolver.ResolveTurn(ctx, due.BattleID)
		if err != nil {
			// Per-battle failures never kill the loop; the lease expires
			// and the battle is re-claimed.
			w.log.Warn("resolve failed for claimed battle",
				zap.String("battleId", due.BattleID.String()),
				zap.Int("turn", due.TurnIndex),
				zap.Error(err))
			continue
		}
		if ok {
			w.resolved.Add(1)
		}
	}
	return len(claimed), nil
}

// sleep waits for d or until the worker is stopped.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.ctx.Done():
	case <-time.After(d):
	}
}

// Stats returns worker counters.
func (w *Worker) Stats() map[string]interface{} {
	return map[string]interface{}{
		"claimed":  w.claimed.Load(),
		"resolved": w.resolved.Load(),
		"errors":   w.errors.Load(),
	}
}
