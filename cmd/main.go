package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/beyondbrewing/brewery-kmc/pkg/logger"
)

func main() {
	logger.SetDefault(logger.MustProduction())
	defer logger.SyncDefault()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logger.Fatal("command failed", "error", err)
	}
}
