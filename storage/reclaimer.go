package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/nvidia-clara/dicom-adapter/types"
)

// Reclaimer is the single-consumer loop on a CleanupQueue (spec.md §4.8).
// Deletion is best-effort: a failure is logged and the loop continues,
// and a path that no longer exists succeeds trivially.
type Reclaimer struct {
	queue  *CleanupQueue
	logger *slog.Logger
}

// NewReclaimer creates a reclaimer draining queue. logger is optional;
// when omitted, slog.Default() is used.
func NewReclaimer(queue *CleanupQueue, logger ...*slog.Logger) *Reclaimer {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &Reclaimer{queue: queue, logger: l}
}

// Run drains the queue until ctx is cancelled, publishing status to
// statusFn after each observed state transition.
func (r *Reclaimer) Run(ctx context.Context, statusFn func(types.ServiceStatus)) {
	if statusFn != nil {
		statusFn(types.ServiceStatusRunning)
	}
	for {
		path, err := r.queue.Take(ctx)
		if err != nil {
			if statusFn != nil {
				statusFn(types.ServiceStatusCancelled)
			}
			return
		}
		r.reclaim(path)
	}
}

func (r *Reclaimer) reclaim(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("failed to reclaim staged file", "path", path, "error", err)
		return
	}
	r.logger.Debug("reclaimed staged file", "path", path)
}
