// Package main implements the battle node entry point: store, turn service,
// deadline worker, bus consumers, realtime and RPC servers in one process.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sorokinArtemV/kombats-sub001/core/clock"
	"github.com/sorokinArtemV/kombats-sub001/core/types"
	"github.com/sorokinArtemV/kombats-sub001/node/battles"
	"github.com/sorokinArtemV/kombats-sub001/node/bus"
	"github.com/sorokinArtemV/kombats-sub001/node/lifecycle"
	"github.com/sorokinArtemV/kombats-sub001/node/profile"
	"github.com/sorokinArtemV/kombats-sub001/node/realtime"
	"github.com/sorokinArtemV/kombats-sub001/node/rpc"
	"github.com/sorokinArtemV/kombats-sub001/node/store"
	"github.com/sorokinArtemV/kombats-sub001/node/turn"
	"github.com/sorokinArtemV/kombats-sub001/node/worker"
)

func main() {
	// Parse flags
	redisAddr := flag.String("redis-addr", "127.0.0.1:6379", "Redis address")
	pgURL := flag.String("pg-url", "", "Postgres URL (empty runs with in-memory registry and static profiles)")
	rpcAddr := flag.String("rpc-addr", ":8545", "RPC server address")
	wsAddr := flag.String("ws-addr", ":8546", "Realtime websocket address")
	networkGrace := flag.Duration("network-grace", time.Second, "Submission allowance past the turn deadline")
	leaseTTL := flag.Duration("lease-ttl", 12*time.Second, "Deadline claim lease")
	batchSize := flag.Int("batch-size", 64, "Due battles claimed per worker iteration")
	debug := flag.Bool("debug", false, "Debug logging")
	flag.Parse()

	log := newLogger(*debug)
	defer log.Sync()

	log.Info("starting kombats node",
		zap.String("redisAddr", *redisAddr),
		zap.String("rpcAddr", *rpcAddr),
		zap.String("wsAddr", *wsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis: battle state, deadline index, bus streams.
	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis unreachable", zap.Error(err))
	}

	// Postgres: battle registry and profiles, optional for local runs.
	var (
		repo     battles.Repo
		profiles lifecycle.ProfileStore
	)
	if *pgURL != "" {
		pool, err := pgxpool.New(ctx, *pgURL)
		if err != nil {
			log.Fatal("postgres connect failed", zap.Error(err))
		}
		defer pool.Close()

		pgRepo := battles.NewPGRepo(pool)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			log.Fatal("battles schema failed", zap.Error(err))
		}
		pgProfiles := profile.NewPGStore(pool)
		if err := pgProfiles.EnsureSchema(ctx); err != nil {
			log.Fatal("profiles schema failed", zap.Error(err))
		}
		repo, profiles = pgRepo, pgProfiles
	} else {
		log.Warn("running without postgres: in-memory registry, static profiles")
		fallback := types.PlayerStats{Strength: 10, Agility: 10, Intuition: 10, Stamina: 10}
		repo = battles.NewMemoryRepo()
		profiles = profile.NewStaticStore(nil, &fallback)
	}

	clk := clock.System{}
	st := store.New(rdb, store.DefaultConfig(), log)
	hub := realtime.NewHub(log)
	publisher := bus.NewPublisher(rdb, log)

	turnConfig := turn.DefaultConfig()
	turnConfig.NetworkGrace = *networkGrace
	turns := turn.New(turnConfig, st, hub, publisher, clk, log)

	lc := lifecycle.New(st, profiles, hub, clk, log)

	workerConfig := worker.DefaultConfig()
	workerConfig.LeaseTTL = *leaseTTL
	workerConfig.BatchSize = *batchSize
	w := worker.New(workerConfig, st, turns, clk, log)

	commands := bus.NewConsumer(
		bus.DefaultConsumerConfig(bus.StreamCommands, bus.GroupNode),
		rdb, bus.NewCommandHandler(repo, lc, publisher, clk, log), log)
	archive := bus.NewConsumer(
		bus.DefaultConsumerConfig(bus.StreamEvents, bus.GroupArchive),
		rdb, bus.NewArchiveHandler(repo, log), log)

	wsConfig := realtime.DefaultConfig()
	wsConfig.Addr = *wsAddr
	wsServer := realtime.NewServer(wsConfig, hub, st, turns, realtime.TokenAuthenticator{}, log)

	rpcServer := rpc.NewServer(rpc.NewNodeBackend(st, turns, w), log)

	// Start services
	if err := w.Start(ctx); err != nil {
		log.Fatal("worker start failed", zap.Error(err))
	}
	if err := commands.Start(ctx); err != nil {
		log.Fatal("command consumer start failed", zap.Error(err))
	}
	if err := archive.Start(ctx); err != nil {
		log.Fatal("archive consumer start failed", zap.Error(err))
	}
	if err := wsServer.Start(); err != nil {
		log.Fatal("realtime server start failed", zap.Error(err))
	}
	if err := rpcServer.Start(*rpcAddr); err != nil {
		log.Fatal("rpc server start failed", zap.Error(err))
	}

	log.Info("kombats node started")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	rpcServer.Stop(shutdownCtx)
	wsServer.Stop(shutdownCtx)
	commands.Stop()
	archive.Stop()
	w.Stop()
	rdb.Close()

	log.Info("kombats node stopped")
}

func newLogger(debug bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if debug {
		config = zap.NewDevelopmentConfig()
	}
	log, err := config.Build()
	if err != nil {
		panic(err)
	}
	return log
}
