// internal/bot/shutdown.go
package bot

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const defaultShutdownTimeout = 30 * time.Second

// CloseFunc allows using a function as an io.Closer.
type CloseFunc func() error

func (f CloseFunc) Close() error {
	return f()
}

type namedService struct {
	name   string
	closer io.Closer
}

// ShutdownHandler closes registered services in reverse registration order.
type ShutdownHandler struct {
	logger   *zap.Logger
	mu       sync.Mutex
	services []namedService
	done     bool
}

func NewShutdownHandler(logger *zap.Logger) *ShutdownHandler {
	return &ShutdownHandler{logger: logger.Named("shutdown")}
}

// Add registers a service for shutdown.
func (sh *ShutdownHandler) Add(name string, closer io.Closer) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.services = append(sh.services, namedService{name: name, closer: closer})
	sh.logger.Debug("Registered service for shutdown", zap.String("service", name))
}

// AddFunc registers a shutdown function.
func (sh *ShutdownHandler) AddFunc(name string, fn func() error) {
	sh.Add(name, CloseFunc(fn))
}

// Shutdown closes every service LIFO, one at a time, so later services
// never outlive the ones they depend on. A service still closing when ctx
// expires is abandoned and reported. Only the first call does any work.
func (sh *ShutdownHandler) Shutdown(ctx context.Context) error {
	sh.mu.Lock()
	if sh.done {
		sh.mu.Unlock()
		return nil
	}
	sh.done = true
	services := make([]namedService, len(sh.services))
	copy(services, sh.services)
	sh.mu.Unlock()

	sh.logger.Info("Starting graceful shutdown", zap.Int("services", len(services)))

	var errs error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if err := sh.closeOne(ctx, svc); err != nil {
			sh.logger.Error("Failed to shutdown service",
				zap.String("service", svc.name),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", svc.name, err))
			continue
		}
		sh.logger.Debug("Service shutdown complete", zap.String("service", svc.name))
	}

	if errs != nil {
		sh.logger.Error("Shutdown completed with errors",
			zap.Int("errorCount", len(multierr.Errors(errs))))
		return errs
	}
	sh.logger.Info("✅ Graceful shutdown completed")
	return nil
}

func (sh *ShutdownHandler) closeOne(ctx context.Context, svc namedService) error {
	done := make(chan error, 1)
	go func() {
		done <- svc.closer.Close()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}
