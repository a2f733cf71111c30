package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/readerline/notifyengine/cmd"
	"github.com/readerline/notifyengine/internal/buildinfo"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=..."
var (
	version   = "dev"
	buildDate = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cmd.RootCommand(buildinfo.New(version, buildDate))
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
