package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/redis/go-redis/v9"

	"github.com/parlaygorilla/proofd/config"
	"github.com/parlaygorilla/proofd/journal"
	"github.com/parlaygorilla/proofd/ledger"
	"github.com/parlaygorilla/proofd/logging"
	"github.com/parlaygorilla/proofd/queue"
	"github.com/parlaygorilla/proofd/repository"
	"github.com/parlaygorilla/proofd/worker"
)

const reaperInterval = time.Minute

func main() {
	// Load Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Reading config: %v", err)
	}

	logger := logging.NewRedactingLogger(cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout)))

	// Connect Postgresql DB
	repo := repository.NewRepository(logger)
	if err := repo.ConnectDB(cfg.DatabaseURL); err != nil {
		log.Fatalf("Connecting to database: %v", err)
	}
	if err := repo.Migrate(); err != nil {
		log.Fatalf("Migrating database: %v", err)
	}

	// Connect Redis
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Parsing redis url: %v", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Connecting to redis: %v", err)
	}
	defer rdb.Close()

	// Initialize payload journal
	journalPath := filepath.Join(dataDir(), "journal")
	jnl, err := journal.Open(journalPath)
	if err != nil {
		log.Fatalf("Opening payload journal: %v", err)
	}
	defer func() {
		if err := jnl.Close(); err != nil {
			log.Printf("Closing payload journal: %v", err)
		}
	}()

	// Ledger client
	sdk, err := ledger.NewCometSDK(cfg.LedgerRPC)
	if err != nil {
		log.Fatalf("Creating ledger client: %v", err)
	}
	ledgerClient := ledger.NewClient(sdk, cfg.LedgerTimeout, logger)

	consumer := queue.NewConsumer(rdb, cfg.QueueKey, cfg.VisibilityTimeout, logger)
	reaper := queue.NewReaper(rdb, cfg.QueueKey, logger)

	w := worker.New(consumer, repo, ledgerClient, jnl, worker.Options{
		MaxAttempts: cfg.MaxAttempts,
		Network:     cfg.Network,
		Datatype:    cfg.ProofContractID,
		Handle:      cfg.ProofModuleID,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reaper.Run(ctx, reaperInterval)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	logger.Info("proof worker started",
		"queue", cfg.QueueKey,
		"network", cfg.Network,
		"max_attempts", cfg.MaxAttempts,
	)

	// Wait for interrupt signal to gracefully shut down the worker
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	cancel()

	// The loop finishes the in-flight job before exiting; the ledger call
	// itself is bounded by the hard timeout.
	select {
	case <-done:
	case <-time.After(cfg.LedgerTimeout + 15*time.Second):
		logger.Error("worker did not stop in time")
	}
	logger.Info("proof worker gracefully stopped")
}

func dataDir() string {
	if dir := os.Getenv("PROOFD_DATA_DIR"); dir != "" {
		return dir
	}
	return "./proofd-data"
}
