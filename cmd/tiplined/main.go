package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"tipline/internal/config"
	"tipline/internal/daemon"
	"tipline/internal/logging"
	"tipline/internal/runtime"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	if err := checkReady(ctx, cfg, logger); err != nil {
		logger.Error("preflight failed", logging.Error(err))
		os.Exit(1)
	}

	rt, err := runtime.Open(cfg, logger)
	if err != nil {
		logger.Error("open runtime", logging.Error(err))
		os.Exit(1)
	}

	d, err := daemon.New(rt)
	if err != nil {
		_ = rt.Close()
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("tiplined shutting down")
}
