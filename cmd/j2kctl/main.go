package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cmd "github.com/rasterlab/go-j2k/cmd/j2kctl/cmd"
)

var (
	// GitSHA is injected at build time.
	GitSHA string = "NA"
)

func main() {
	// register sigterm for graceful shutdown
	ctx, cnc := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cnc()
	go func() {
		defer cnc()
		<-ctx.Done()
	}()
	if err := cmd.NewRoot(ctx, GitSHA).Execute(); err != nil {
		os.Exit(1)
	}
}
