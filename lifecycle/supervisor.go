// Package lifecycle wires every long-running service under one
// cancellation context (spec.md §5/§9): idempotent backlogs are
// drained once at startup, then the DIMSE listener, the storage
// reclaimer, and the export poll loop run until the context is
// cancelled or one of them fails.
package lifecycle

import (
	"context"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvidia-clara/dicom-adapter/types"
)

const (
	serviceSCP       = "scp"
	serviceReclaimer = "reclaimer"
	serviceExport    = "export"
)

// Drainer restores and re-submits any work an earlier process instance
// left in flight. jobsubmission.Service and inference.Service both
// implement it.
type Drainer interface {
	Drain(ctx context.Context) error
}

// Listener is the subset of *server.Server a Supervisor drives.
type Listener interface {
	Serve(ctx context.Context, listener net.Listener) error
}

// Reclaimer is the subset of *storage.Reclaimer a Supervisor drives.
type Reclaimer interface {
	Run(ctx context.Context, statusFn func(types.ServiceStatus))
}

// Exporter is the subset of *export.Service a Supervisor drives.
type Exporter interface {
	Poll(ctx context.Context) error
}

// StatusReporter is the subset of *health.Reporter a Supervisor
// publishes service transitions to.
type StatusReporter interface {
	SetStatus(service string, status types.ServiceStatus)
}

// Config wires one Supervisor's dependent services together.
type Config struct {
	Server             Listener
	Conn               net.Listener
	Reclaimer          Reclaimer
	Export             Exporter
	ExportPollInterval time.Duration
	Drainers           []Drainer
	Reporter           StatusReporter
}

// Supervisor runs Config's services for the lifetime of a process.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger
}

// New builds a Supervisor. logger is optional; when omitted,
// slog.Default() is used.
func New(cfg Config, logger ...*slog.Logger) *Supervisor {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &Supervisor{cfg: cfg, logger: l}
}

// Run drains every registered Drainer, then starts the DIMSE listener,
// the storage reclaimer, and the export poll loop concurrently. It
// returns when ctx is cancelled or any one of them fails, cancelling
// the others via the shared errgroup context.
func (s *Supervisor) Run(ctx context.Context) error {
	for _, d := range s.cfg.Drainers {
		if err := d.Drain(ctx); err != nil {
			return err
		}
	}

	eg, groupCtx := errgroup.WithContext(ctx)

	eg.Go(func() error { return s.runServer(groupCtx) })
	eg.Go(func() error { return s.runReclaimer(groupCtx) })
	eg.Go(func() error { return s.runExportLoop(groupCtx) })

	return eg.Wait()
}

func (s *Supervisor) runServer(ctx context.Context) error {
	s.cfg.Reporter.SetStatus(serviceSCP, types.ServiceStatusRunning)
	err := s.cfg.Server.Serve(ctx, s.cfg.Conn)
	if err != nil && ctx.Err() == nil {
		s.cfg.Reporter.SetStatus(serviceSCP, types.ServiceStatusCancelled)
		return err
	}
	s.cfg.Reporter.SetStatus(serviceSCP, types.ServiceStatusStopped)
	return nil
}

func (s *Supervisor) runReclaimer(ctx context.Context) error {
	s.cfg.Reclaimer.Run(ctx, func(status types.ServiceStatus) {
		s.cfg.Reporter.SetStatus(serviceReclaimer, status)
	})
	return nil
}

func (s *Supervisor) runExportLoop(ctx context.Context) error {
	interval := s.cfg.ExportPollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.cfg.Reporter.SetStatus(serviceExport, types.ServiceStatusRunning)
	for {
		select {
		case <-ctx.Done():
			s.cfg.Reporter.SetStatus(serviceExport, types.ServiceStatusCancelled)
			return ctx.Err()
		case <-ticker.C:
			if err := s.cfg.Export.Poll(ctx); err != nil {
				s.logger.ErrorContext(ctx, "export poll failed", "error", err)
			}
		}
	}
}
