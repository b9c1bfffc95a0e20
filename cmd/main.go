// Command vigil scans a watchlist of symbols, sizes the actionable signals
// against a risk budget and delivers the surviving alerts.
//
// Usage:
//
//	vigil --config config.yaml
//	vigil setup (interactive configuration wizard)
//	vigil (uses CLI arguments)
//
// Required environment variables:
//
//	For Hyperliquid: HYPERLIQUID_PRIVATE_KEY
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/vigil/config"
	"github.com/vadiminshakov/vigil/internal"
	"github.com/vadiminshakov/vigil/internal/setup"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.RunTUI(); err != nil {
			log.Fatal(err)
		}
		// reparse flags against the generated file
		os.Args = []string{os.Args[0], "-config", "config.gen.yaml"}
	}

	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	watcher, err := internal.NewWatcher(cfg, logger)
	if err != nil {
		logger.Fatal("failed to assemble watcher", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("watcher stopped", zap.Error(err))
	}
	logger.Info("watcher stopped")
}
