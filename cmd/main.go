package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/beyondbrewing/brewery-idb/config"
	"github.com/beyondbrewing/brewery-idb/pkg/logger"
)

func main() {
	logger.SetDefault(logger.MustProduction())
	defer logger.SyncDefault()

	if err := config.Load(); err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		logger.Fatal("command failed", "error", err)
	}
}
