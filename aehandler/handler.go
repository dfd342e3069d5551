// Package aehandler implements the per-LocalAE storage arbiter
// (spec.md §4.3): it decides whether to persist an incoming instance,
// persists it atomically with retry, and publishes a notification.
package aehandler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nvidia-clara/dicom-adapter/errors"
	"github.com/nvidia-clara/dicom-adapter/events"
	"github.com/nvidia-clara/dicom-adapter/types"
)

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Sanitize replaces characters outside [A-Za-z0-9._-] with "_", for
// building the storage path spec.md §4.1 specifies:
// temporary / sanitize(calledAeTitle) / sanitize(SopInstanceUid).dcm.
func Sanitize(s string) string {
	return unsafePathChars.ReplaceAllString(s, "_")
}

// writeBackoff reproduces spec.md §4.3's fixed retry schedule: the
// first attempt plus up to 3 retries, waiting 250ms, then 500ms, then
// 500ms before each retry.
type writeBackoff struct {
	delays []time.Duration
	i      int
}

func newWriteBackoff() *writeBackoff {
	return &writeBackoff{delays: []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond}}
}

func (b *writeBackoff) NextBackOff() time.Duration {
	if b.i >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.i]
	b.i++
	return d
}

func (b *writeBackoff) Reset() { b.i = 0 }

// Handler is the storage arbiter for one LocalApplicationEntity.
type Handler struct {
	ae     types.LocalApplicationEntity
	root   string // storage.temporary
	bus    *events.InstanceNotificationBus
	logger *slog.Logger
}

// New creates a handler for ae rooted at temporaryRoot, publishing
// accepted instances on bus. logger is optional; when omitted,
// slog.Default() is used.
func New(ae types.LocalApplicationEntity, temporaryRoot string, bus *events.InstanceNotificationBus, logger ...*slog.Logger) *Handler {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &Handler{ae: ae, root: temporaryRoot, bus: bus, logger: l}
}

// Reset deletes and recreates this handler's storage subtree, the
// documented cold-start cleanup spec.md §4.3 requires.
func (h *Handler) Reset() error {
	dir := filepath.Join(h.root, Sanitize(h.ae.AETitle))
	if err := os.RemoveAll(dir); err != nil {
		return errors.NewFatalError("aehandler.Reset", fmt.Errorf("remove storage subtree %s: %w", dir, err))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewFatalError("aehandler.Reset", fmt.Errorf("recreate storage subtree %s: %w", dir, err))
	}
	return nil
}

// StoragePath computes the path a given SOP Instance UID would be
// staged at under this handler's AE subtree.
func (h *Handler) StoragePath(sopInstanceUID string) string {
	return filepath.Join(h.root, Sanitize(h.ae.AETitle), Sanitize(sopInstanceUID)+".dcm")
}

// HandleInstance applies the §4.3 decision rules to a received
// instance's raw bytes and, if accepted, persists it and publishes a
// notification. Returns (stored, error): stored is false for a silent
// drop/skip, which is not an error.
func (h *Handler) HandleInstance(ctx context.Context, info types.InstanceStorageInfo, data []byte) (bool, error) {
	if _, ignored := h.ae.IgnoredSOPClasses[info.SOPClassUID]; ignored {
		h.logger.DebugContext(ctx, "dropping instance with ignored SOP class",
			"sop_class_uid", info.SOPClassUID, "ae_title", h.ae.AETitle)
		return false, nil
	}

	path := h.StoragePath(info.SOPInstanceUID)
	info.StoragePath = path
	info.CalledAETitle = h.ae.AETitle

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if exists && !h.ae.OverwriteSameInstance {
		h.logger.DebugContext(ctx, "skipping duplicate instance (overwrite disabled)",
			"sop_instance_uid", info.SOPInstanceUID, "ae_title", h.ae.AETitle)
		return false, nil
	}

	if err := h.writeWithRetry(ctx, path, data); err != nil {
		return false, err
	}

	h.bus.Publish(info)
	return true, nil
}

// writeWithRetry persists data at path, retrying per the §4.3 fixed
// schedule. Any I/O failure that survives the last attempt is fatal to
// the current C-STORE, surfaced as a TransientIO error.
func (h *Handler) writeWithRetry(ctx context.Context, path string, data []byte) error {
	op := func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	}

	var lastErr error
	notify := func(err error, wait time.Duration) {
		lastErr = err
		h.logger.WarnContext(ctx, "retrying instance write", "path", path, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(newWriteBackoff(), ctx), notify); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return errors.NewTransientIOError("aehandler.writeWithRetry", fmt.Errorf("write %s: %w", path, lastErr))
	}
	return nil
}

// ValidateProcessorSettings enforces spec.md §4.4: every ProcessorSettings
// key must be recognized by the attached processor, or registration
// fails with a ConfigurationError. recognized is the set of literal
// keys the processor accepts; keys starting with "pipeline-" are always
// accepted.
func ValidateProcessorSettings(ae types.LocalApplicationEntity, recognized map[string]bool) error {
	sawPipeline := false
	for _, kv := range ae.ProcessorSettings {
		if strings.HasPrefix(kv.Key, "pipeline-") {
			sawPipeline = true
			continue
		}
		if !recognized[kv.Key] {
			return errors.NewConfigurationError("aehandler.ValidateProcessorSettings",
				fmt.Errorf("unrecognized processor setting %q for AE %s", kv.Key, ae.AETitle))
		}
	}
	if !sawPipeline {
		return errors.NewConfigurationError("aehandler.ValidateProcessorSettings",
			fmt.Errorf("AE %s must configure at least one pipeline-* setting", ae.AETitle))
	}
	return nil
}
