// server/shutdown.go
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ShutdownManager handles graceful shutdown
type ShutdownManager struct {
	server     *http.Server
	closers    []io.Closer
	timeout    time.Duration
	waitGroup  sync.WaitGroup
	shutdownCh chan struct{}
	once       sync.Once
	logger     zerolog.Logger
}

// NewShutdownManager creates a new shutdown manager. closers are closed in
// order once the server has stopped accepting connections.
func NewShutdownManager(srv *http.Server, logger zerolog.Logger, closers ...io.Closer) *ShutdownManager {
	return &ShutdownManager{
		server:     srv,
		closers:    closers,
		timeout:    30 * time.Second,
		shutdownCh: make(chan struct{}),
		logger:     logger,
	}
}

// HandleGracefulShutdown blocks until SIGINT or SIGTERM, then shuts down
func (sm *ShutdownManager) HandleGracefulShutdown() error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	sig := <-signals
	sm.logger.Info().Str("signal", sig.String()).Msg("received signal")
	return sm.Shutdown()
}

// Shutdown stops the server and closes every resource, bounded by the
// manager's timeout. Calls after the first are no-ops.
func (sm *ShutdownManager) Shutdown() error {
	var err error
	sm.once.Do(func() {
		close(sm.shutdownCh)

		ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
		defer cancel()

		done := make(chan error, 1)
		sm.waitGroup.Add(1)
		go func() {
			defer sm.waitGroup.Done()
			done <- sm.performGracefulShutdown(ctx)
		}()

		select {
		case err = <-done:
			if err == nil {
				sm.logger.Info().Msg("graceful shutdown completed")
			}
		case <-ctx.Done():
			err = fmt.Errorf("shutdown timed out: %w", ctx.Err())
		}
	})
	return err
}

// performGracefulShutdown handles the actual shutdown sequence
func (sm *ShutdownManager) performGracefulShutdown(ctx context.Context) error {
	var errs []error

	// Stop accepting new connections
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Error().Err(err).Msg("error during server shutdown")
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	for _, c := range sm.closers {
		if err := c.Close(); err != nil {
			sm.logger.Error().Err(err).Msg("error closing resource")
			errs = append(errs, fmt.Errorf("close error: %w", err))
		}
	}

	return errors.Join(errs...)
}

// IsShuttingDown returns true if shutdown has been initiated
func (sm *ShutdownManager) IsShuttingDown() bool {
	select {
	case <-sm.shutdownCh:
		return true
	default:
		return false
	}
}

// WaitForShutdown blocks until shutdown is complete
func (sm *ShutdownManager) WaitForShutdown() {
	sm.waitGroup.Wait()
}
