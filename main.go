package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	clts "polyburg/clients"
	"polyburg/config"
	"polyburg/internal/app"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Load config from environment variables (and .env when present)
	cfg := config.Load()

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if result := cfg.Validate(); !result.Valid {
		logger.Fatal("invalid configuration", zap.String("errors", result.Error()))
	}

	logger.Info("starting polyburg",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("gamma", cfg.Polymarket.GammaAPIURL),
		zap.String("data", cfg.Polymarket.DataAPIURL),
		zap.Duration("pollInterval", cfg.Ingest.PollInterval),
		zap.Float64s("leaderboardWindows", cfg.Leaderboard.Windows),
	)

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, cfg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, cfg)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}

// newLogger builds a production logger at the given level, falling back to
// info when the level does not parse.
func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			lvl = zapcore.InfoLevel
		}
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
