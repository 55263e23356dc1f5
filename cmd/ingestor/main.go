// Package main runs C2, the Token Ingestor, as a standalone process.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/confluence-watch/internal/bootstrap"
	"github.com/confluence-watch/internal/config"
	"github.com/confluence-watch/internal/ingest"
	"github.com/confluence-watch/internal/logging"
	"github.com/confluence-watch/internal/scheduler"
)

func main() {
	fmt.Println("Confluence Watch Token Ingestor")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	deps, err := bootstrap.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to storage: %v", err)
	}
	defer deps.Close()

	if len(deps.Chains) == 0 {
		log.Fatal("No chains enabled with a usable RPC endpoint; check CHAINS and *_RPC_PRIMARY")
	}

	job := ingest.NewJob(deps.Registry, deps.Tokens, cfg.Safety, deps.Chains, cfg.Scheduler.WorkerPoolSize)

	sched := scheduler.New(cfg.Scheduler.WorkerPoolSize)
	sched.Register(job, cfg.Intervals.Ingest)

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	logging.Infof("ingestor started: chains=%v interval=%s", deps.Chains, cfg.Intervals.Ingest)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logging.Info("shutdown signal received, stopping ingestor...")

	cancel()
	sched.Stop()
	select {
	case <-sched.Done():
	case <-time.After(30 * time.Second):
		logging.Warn("ingestor: scheduler did not stop within timeout, exiting anyway")
	}
	logging.Info("ingestor stopped. Goodbye!")
}
