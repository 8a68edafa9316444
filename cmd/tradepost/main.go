package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tradepost/internal/cli"
	"tradepost/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	if code := cli.GetExitCode(err); code != cli.ExitFailure {
		fmt.Fprintf(os.Stderr, "tradepost: %v\n", err)
		os.Exit(code)
	}
	config.Exitf("tradepost: %v", err)
}
