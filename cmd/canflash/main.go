package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/samsamfire/canflash/cmd/canflash/cmd"
	// Init backends
	_ "github.com/samsamfire/canflash/pkg/can/virtual"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := cmd.Execute(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
