package executor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const defaultShutdownTimeout = 30 * time.Second

// RunWithGracefulShutdown runs the pipeline and handles SIGTERM/SIGINT.
// On a signal the pipeline is stopped; if it has not returned within
// timeout the call gives up waiting and returns context.Canceled.
func RunWithGracefulShutdown(ctx context.Context, p *Pipeline, timeout time.Duration) error {
	if timeout == 0 {
		timeout = defaultShutdownTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig, "pipeline", p.Name())
		cancel()

		select {
		case err := <-errCh:
			return err
		case <-time.After(timeout):
			slog.Warn("shutdown timeout expired, forcing exit", "timeout", timeout)
			return context.Canceled
		}

	case err := <-errCh:
		return err
	}
}
