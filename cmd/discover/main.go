package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ocm.software/open-component-model/bindings/go/testhost/cmd/discover/internal/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.New().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
