// Package listener implements the Listener Supervisor (spec §2.9): the
// thin process-level coordinator that starts and stops the independent
// per-protocol acceptors together. Each protocol server (internal/smtp,
// internal/imap, internal/pop3) already owns its own per-port TCP
// Accept loop and spawns one isolated session goroutine per connection,
// grounded on the teacher's smtp-server/main.go wiring multiple listeners
// under one signal-driven shutdown sequence — Supervisor generalizes
// that main-package pattern into a reusable type so cmd/mailcored does
// not repeat the same start/stop bookkeeping three times.
package listener

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Service is anything with the Start/Stop lifecycle shape the protocol
// servers (smtp.Server, imap.Server, pop3.Server) already expose.
type Service interface {
	Start() error
	Stop(ctx context.Context) error
}

// namedService pairs a Service with a label for logging.
type namedService struct {
	name    string
	service Service
}

// Supervisor starts a fixed set of named Services and stops them together
// on shutdown, in reverse start order.
type Supervisor struct {
	logger   *zap.Logger
	services []namedService
	started  []namedService
}

func NewSupervisor(logger *zap.Logger) *Supervisor {
	return &Supervisor{logger: logger}
}

// Add registers a service to be started by Start, skipped entirely if
// enabled is false (spec §6's per-protocol "enabled" toggle).
func (sup *Supervisor) Add(name string, svc Service, enabled bool) {
	if !enabled {
		sup.logger.Info("listener disabled, skipping", zap.String("service", name))
		return
	}
	sup.services = append(sup.services, namedService{name: name, service: svc})
}

// Start launches every registered service. If one fails to start, every
// service started before it is stopped before the error is returned, so
// a partial failure never leaves dangling listeners behind.
func (sup *Supervisor) Start() error {
	for _, ns := range sup.services {
		if err := ns.service.Start(); err != nil {
			sup.logger.Error("listener failed to start", zap.String("service", ns.name), zap.Error(err))
			sup.stopStarted(context.Background())
			return fmt.Errorf("start %s: %w", ns.name, err)
		}
		sup.logger.Info("listener started", zap.String("service", ns.name))
		sup.started = append(sup.started, ns)
	}
	return nil
}

// Stop gracefully stops every started service in reverse start order,
// bounding the whole shutdown by ctx.
func (sup *Supervisor) Stop(ctx context.Context) error {
	return sup.stopStarted(ctx)
}

func (sup *Supervisor) stopStarted(ctx context.Context) error {
	var firstErr error
	for i := len(sup.started) - 1; i >= 0; i-- {
		ns := sup.started[i]
		if err := ns.service.Stop(ctx); err != nil {
			sup.logger.Error("listener failed to stop", zap.String("service", ns.name), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", ns.name, err)
			}
		}
	}
	sup.started = nil
	return firstErr
}

// StopWithTimeout is a convenience wrapper for callers that only have a
// duration, not a context, at hand (e.g. a signal handler).
func (sup *Supervisor) StopWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return sup.Stop(ctx)
}
