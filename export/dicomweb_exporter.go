package export

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nvidia-clara/dicom-adapter/dicom"
	"github.com/nvidia-clara/dicom-adapter/dicomweb"
)

const stowChunkSize = 10

// Storer is the dicomweb.Client surface this exporter calls.
type Storer interface {
	Store(ctx context.Context, studyUID string, files [][]byte) (dicomweb.STOWResult, error)
}

// DICOMwebExporter transmits a job's datasets via STOW-RS, chunked
// into groups of 10 (spec.md §4.7).
type DICOMwebExporter struct {
	client Storer
	logger *slog.Logger
}

// NewDICOMwebExporter wraps a Storer (dicomweb.Client in production).
// logger is optional; when omitted, slog.Default() is used.
func NewDICOMwebExporter(client Storer, logger ...*slog.Logger) *DICOMwebExporter {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &DICOMwebExporter{client: client, logger: l}
}

// Export chunks datasets into groups of stowChunkSize and STOWs each
// group, unscoped to any study (an unscoped STOW accepts files for any
// study, per spec.md §4.6): a full-success group (HTTP 200) increments
// successCount by the group size, any non-200 increments failureCount
// by the group size (spec.md §4.7).
func (e *DICOMwebExporter) Export(ctx context.Context, job OutputJob, datasets []*dicom.Dataset) (successCount, failureCount int) {
	for start := 0; start < len(datasets); start += stowChunkSize {
		end := start + stowChunkSize
		if end > len(datasets) {
			end = len(datasets)
		}
		group := datasets[start:end]

		files := make([][]byte, len(group))
		for i, ds := range group {
			files[i] = ds.EncodeDataset()
		}

		result, err := e.client.Store(ctx, "", files)
		if err != nil {
			e.logger.WarnContext(ctx, "STOW group failed", "task_id", job.Task.TaskID, "group_size", len(group), "error", err)
			failureCount += len(group)
			continue
		}
		if result.StatusCode == http.StatusOK {
			successCount += len(group)
			continue
		}
		failureCount += len(group)
	}
	return successCount, failureCount
}
