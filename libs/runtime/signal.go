package runtime

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalContext is cancelled by the first SIGINT or SIGTERM. A second signal during the
// graceful shutdown exits the process with status 1.
func SignalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	return notifyContext(logger, func() { os.Exit(1) }, syscall.SIGINT, syscall.SIGTERM)
}

func notifyContext(logger *slog.Logger, force func(), sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			signal.Stop(ch)
			close(done)
			cancel()
		})
	}

	go func() {
		select {
		case sig := <-ch:
			logger.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-ch:
			logger.Warn("second shutdown signal, exiting now", "signal", sig.String())
			force()
		case <-done:
		}
	}()
	return ctx, stop
}
