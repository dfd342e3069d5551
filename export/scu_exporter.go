package export

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/nvidia-clara/dicom-adapter/client"
	"github.com/nvidia-clara/dicom-adapter/dicom"
)

// SCUExporter transmits a job's datasets to its resolved destination
// over a single DIMSE association per OutputJob, per spec.md §4.7.
type SCUExporter struct {
	callingAETitle string
	logger         *slog.Logger
}

// NewSCUExporter creates an SCUExporter that identifies itself as
// callingAETitle when opening associations. logger is optional; when
// omitted, slog.Default() is used.
func NewSCUExporter(callingAETitle string, logger ...*slog.Logger) *SCUExporter {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &SCUExporter{callingAETitle: callingAETitle, logger: l}
}

// Export opens one association to job.Destination and sends every
// dataset as a C-STORE, tallying success/failure under that single
// association (spec.md §4.7: "responses update SuccessfulExport and
// FailureCount atomically under that association").
func (e *SCUExporter) Export(ctx context.Context, job OutputJob, datasets []*dicom.Dataset) (successCount, failureCount int) {
	address := net.JoinHostPort(job.Destination.HostIP, strconv.Itoa(job.Destination.Port))
	assoc, err := client.Connect(address, client.Config{
		CallingAETitle: e.callingAETitle,
		CalledAETitle:  job.Destination.AETitle,
		Logger:         e.logger,
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "SCU export association failed",
			"task_id", job.Task.TaskID, "destination", job.Destination.Name, "classification", classifyAssociationError(err), "error", err)
		return 0, len(datasets)
	}
	defer assoc.Close()

	for i, ds := range datasets {
		sopClassUID := ds.GetString(sopClassUIDTag)
		sopInstanceUID := ds.GetString(sopInstanceUIDTag)
		resp, sendErr := assoc.SendCStore(&client.CStoreRequest{
			SOPClassUID:    sopClassUID,
			SOPInstanceUID: sopInstanceUID,
			Data:           ds.EncodeDataset(),
			MessageID:      uint16(i + 1),
		})
		if sendErr != nil {
			e.logger.WarnContext(ctx, "SCU C-STORE failed",
				"task_id", job.Task.TaskID, "classification", classifyAssociationError(sendErr), "error", sendErr)
			failureCount++
			continue
		}
		if resp.Status != 0x0000 {
			e.logger.WarnContext(ctx, "SCU C-STORE returned non-success status",
				"task_id", job.Task.TaskID, "status", fmt.Sprintf("0x%04X", resp.Status))
			failureCount++
			continue
		}
		successCount++
	}
	return successCount, failureCount
}

var sopClassUIDTag = dicom.Tag{Group: 0x0008, Element: 0x0016}
var sopInstanceUIDTag = dicom.Tag{Group: 0x0008, Element: 0x0018}
