// Package storage implements the two leaf components spec.md §2
// places at the bottom of the dependency graph: free-space reporting
// and the best-effort file cleanup queue fed by instance reclamation.
package storage

import (
	"log/slog"
	"syscall"
)

// Thresholds are the two free-space cutoffs StorageInfoProvider checks
// against, in bytes.
type Thresholds struct {
	CanStoreMinBytes  uint64
	CanExportMinBytes uint64
}

// InfoProvider reports available free space on the storage root and
// the two threshold checks spec.md §2 component 2 requires. There is
// no third-party disk-usage library in the retrieved pack; this uses
// syscall.Statfs directly, which is the standard, idiomatic way to do
// this on the Linux targets this adapter runs on.
type InfoProvider struct {
	root   string
	thresh Thresholds
	logger *slog.Logger
}

// NewInfoProvider creates a provider that reports free space under
// root. logger is optional; when omitted, slog.Default() is used.
func NewInfoProvider(root string, thresh Thresholds, logger ...*slog.Logger) *InfoProvider {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &InfoProvider{root: root, thresh: thresh, logger: l}
}

// FreeBytes returns the number of bytes free on the filesystem backing
// root.
func (p *InfoProvider) FreeBytes() (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(p.root, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// CanStore reports whether there is enough free space to accept a new
// C-STORE. On error reading free space, it fails closed (reports
// false) and logs the cause.
func (p *InfoProvider) CanStore() bool {
	free, err := p.FreeBytes()
	if err != nil {
		p.logger.Warn("failed to read free space for can-store check", "root", p.root, "error", err)
		return false
	}
	return free >= p.thresh.CanStoreMinBytes
}

// CanExport reports whether there is enough free space for the export
// pipeline to proceed with a new poll pass. On error reading free
// space, it fails closed.
func (p *InfoProvider) CanExport() bool {
	free, err := p.FreeBytes()
	if err != nil {
		p.logger.Warn("failed to read free space for can-export check", "root", p.root, "error", err)
		return false
	}
	return free >= p.thresh.CanExportMinBytes
}
