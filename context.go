package runner

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InterruptibleContext returns a context which is canceled on SIGINT or
// SIGTERM. cmd/runner passes it to the resolver and the FUSE fallback, so
// external helper processes the resolver starts are killed and the FUSE tree
// build stops on interrupt. Nothing calls RunAtExit on cancellation: the
// first signal is caught instead of ending the process, so when it also
// stops the target, cmd/runner reaches its normal RunAtExit call after the
// child exits; a signal during setup only cancels the context, and setup
// goes on.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// A second signal terminates immediately, useful if cleanup hangs on
		// a stuck mount.
		signal.Stop(sig)
		canc()
	}()
	return ctx, canc
}
