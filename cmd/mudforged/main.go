package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jasona/mudforge-sub005/internal/config"
	"github.com/jasona/mudforge-sub005/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/mudforge.toml"
	if p := os.Getenv("MUDFORGE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting",
		zap.String("name", cfg.Server.Name),
		zap.String("version", cfg.Server.Version),
		zap.String("store", cfg.Store.Adapter))

	// 3. Wire the server: store, session layer, world, daemons, sandbox.
	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	srv, err := server.New(bootCtx, cfg, log)
	if err != nil {
		cancel()
		return fmt.Errorf("build server: %w", err)
	}

	// 4. Restore persisted state before accepting traffic.
	if err := srv.Boot(bootCtx); err != nil {
		cancel()
		return fmt.Errorf("boot: %w", err)
	}
	cancel()

	// 5. Serve until SIGINT/SIGTERM or an in-game shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
