//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// forwardSignals cancels ctx on SIGINT/SIGTERM so an in-flight trace
// closes its open frames gracefully (spec §5 Cancellation) instead of
// leaving the debugger subprocess orphaned.
func forwardSignals(ctx context.Context, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
}
