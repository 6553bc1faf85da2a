package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"docbatch/internal/config"
	"docbatch/internal/daemon"
	"docbatch/internal/extract"
	"docbatch/internal/logging"
	"docbatch/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		log.Printf("docbatchd: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg, daemon.LogFileName)
	if err != nil {
		return err
	}
	if removed := logging.CleanupOldLogs(logger, cfg.Paths.LogDir, "*.log", filepath.Join(cfg.Paths.LogDir, daemon.LogFileName), cfg.Logging.RetentionDays); removed > 0 {
		logger.Info("pruned old logs", logging.Int("removed", removed))
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}

	extractor, err := extract.FromConfig(cfg)
	if err != nil {
		_ = store.Close()
		logger.Error("build extractor", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, store, extractor, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return err
	}

	<-ctx.Done()
	logger.Info("docbatchd shutting down")
	return nil
}
