// Command lessonctl talks to a running lessonmate daemon: it fires
// shortcuts, edits settings, reports status and can act as a host page.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "lessonctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}
