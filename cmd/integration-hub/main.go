package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/config"
	"github.com/telekom/integration-hub/pkg/system"
	"github.com/telekom/integration-hub/pkg/version"
)

func main() {
	var (
		debug      bool
		configPath string
	)
	flag.BoolVar(&debug, "debug", false, "enable debug level logging")
	flag.StringVar(&configPath, "config", "", "path to config file (default $"+config.EnvConfigPath+" or ./config.yaml)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		stdlog.Fatalf("Error loading config for integration hub: %v", err)
	}
	debug = debug || cfg.Log.Debug

	logger, err := system.NewLogger(debug)
	if err != nil {
		stdlog.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	info := version.GetBuildInfo()
	logger.Info("Starting integration hub",
		zap.String("version", info.Version),
		zap.String("build", info.String()),
		zap.String("bus_mode", cfg.Bus.Mode),
		zap.String("audit_store", cfg.Audit.Store),
		zap.String("dedup_store", cfg.Dedup.Store))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, debug, logger)
	if err != nil {
		logger.Fatal("Error building integration hub", zap.Error(err))
	}
	if err := a.run(ctx); err != nil {
		logger.Error("integration hub stopped with error", zap.Error(err))
		os.Exit(1)
	}
}
