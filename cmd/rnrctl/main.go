// Command rnrctl controls a running rnrd node and works with log files.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/polysync/rnr/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
