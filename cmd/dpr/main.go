package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dpr/internal/cli"
	"dpr/internal/config"
	"dpr/internal/dpr"
	"dpr/internal/imgproc"
	"dpr/internal/logging"
	"dpr/internal/pipeline"
	"dpr/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	store, err := storage.Open(cfg.Paths.DatabaseDriver, cfg.Paths.DatabasePath)
	if err != nil {
		log.Warn("run history disabled", "path", cfg.Paths.DatabasePath, "error", err)
		store = nil
	}
	defer store.Close()

	resizer, err := imgproc.NewResizer(cfg.Processing.Resizer)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewStackRunner(log)
	runner.Workers = cfg.Processing.Workers
	runner.Timeout = time.Duration(cfg.Processing.Timeout)
	runner.Resizer = resizer

	pipe := pipeline.New(ctx, pipeline.Options{
		Workers:    cfg.Processing.JobWorkers,
		QueueDepth: cfg.Processing.QueueDepth,
		Logger:     log,
		Store:      store,
		Processor:  runner,
	})
	defer pipe.Stop()

	stack := &dpr.Stack{
		Workers: cfg.Processing.Workers,
		Timeout: time.Duration(cfg.Processing.Timeout),
		Resizer: resizer,
		Logger:  log,
	}

	root := cli.NewRootCmd(cfg, log, store, pipe, stack)
	return root.ExecuteContext(ctx)
}
