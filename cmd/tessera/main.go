package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tessera/internal/cli"
	"tessera/internal/config"
	"tessera/internal/jobstore"
	"tessera/internal/logging"
	"tessera/internal/metrics"
	"tessera/internal/pipeline"
	"tessera/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logging: %v\n", err)
		return 1
	}

	// History is optional; a nil store records nothing.
	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		logger.Warn("job history disabled", "path", cfg.Paths.DatabasePath, "error", err)
		store = nil
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := jobstore.New(cfg.Store.TTL())
	collector := metrics.NewPrometheus(nil, "")
	pipe := pipeline.New(ctx, pipeline.Config{
		Concurrency: cfg.Processing.ParallelJobs,
		QueueSize:   cfg.Processing.QueueSize,
		Logger:      logger,
		Store:       store,
		Status:      status,
		Metrics:     collector,
	})
	defer pipe.Stop()

	root := cli.NewRootCmd(cli.Deps{
		Config:   cfg,
		Log:      logger,
		Store:    store,
		Status:   status,
		Metrics:  collector,
		Pipeline: pipe,
	})
	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
