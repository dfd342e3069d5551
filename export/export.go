// Package export implements the export pipeline (spec.md §4.7): a
// dataflow graph of download-tasks, convert-to-jobs, download-payload,
// export, and report stages, run once per poll tick.
package export

import (
	"context"
	"log/slog"

	"github.com/nvidia-clara/dicom-adapter/dicom"
	domainerrors "github.com/nvidia-clara/dicom-adapter/errors"
	"github.com/nvidia-clara/dicom-adapter/repository"
	"github.com/nvidia-clara/dicom-adapter/types"
)

// Exporter transmits a set of already-parsed DICOM datasets for one
// OutputJob and reports how many succeeded and failed. Implementations
// cover the two variants spec.md §4.7 describes: SCU (DIMSE C-STORE,
// one association per job) and DICOMweb (STOW-RS, chunked).
type Exporter interface {
	Export(ctx context.Context, job OutputJob, datasets []*dicom.Dataset) (successCount, failureCount int)
}

// OutputJob is one export task resolved against its destination (SCU
// variant only; Destination is the zero value for DICOMweb).
type OutputJob struct {
	Task        types.ExportTask
	Destination types.DestinationApplicationEntity
}

// Results is the subset of platform.Results this package calls.
type Results interface {
	GetPending(ctx context.Context, agent string, limit int) ([]types.ExportTask, error)
	ReportSuccess(ctx context.Context, taskID string) error
	ReportFailure(ctx context.Context, taskID string, retry bool) error
}

// Payloads is the subset of platform.Payloads this package calls.
type Payloads interface {
	Download(ctx context.Context, payloadID, uri string) ([]byte, error)
}

// Config controls one Service's poll-tick behavior.
type Config struct {
	Agent                  string
	Limit                  int
	FailureThreshold       float64
	MaximumRetries         int
	RequiresDestination    bool // true for the SCU variant
	MaxDegreeOfParallelism int
}

// Service runs one dataflow-graph pass per call to Poll.
type Service struct {
	cfg       Config
	results   Results
	payloads  Payloads
	ae        repository.AERepository
	exporter  Exporter
	semaphore chan struct{}
	logger    *slog.Logger
}

// New creates a Service. logger is optional; when omitted,
// slog.Default() is used.
func New(cfg Config, results Results, payloads Payloads, ae repository.AERepository, exporter Exporter, logger ...*slog.Logger) *Service {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	if cfg.MaxDegreeOfParallelism < 1 {
		cfg.MaxDegreeOfParallelism = 1
	}
	return &Service{
		cfg:       cfg,
		results:   results,
		payloads:  payloads,
		ae:        ae,
		exporter:  exporter,
		semaphore: make(chan struct{}, cfg.MaxDegreeOfParallelism),
		logger:    l,
	}
}

// Poll runs one full download-tasks → convert-to-jobs →
// download-payload → export → report pass. Each resolved job runs on
// its own worker, capped at MaxDegreeOfParallelism (MaxMessagesPerTask
// = 1 per spec.md §4.7: one worker owns a task start to end).
func (s *Service) Poll(ctx context.Context) error {
	tasks, err := s.results.GetPending(ctx, s.cfg.Agent, s.cfg.Limit)
	if err != nil {
		return err
	}

	done := make(chan struct{}, len(tasks))
	for _, task := range tasks {
		job, ok := s.convertToJob(ctx, task)
		if !ok {
			done <- struct{}{}
			continue
		}
		go func(job OutputJob) {
			s.semaphore <- struct{}{}
			defer func() { <-s.semaphore }()
			s.runJob(ctx, job)
			done <- struct{}{}
		}(job)
	}
	for range tasks {
		<-done
	}
	return nil
}

// convertToJob maps a task to an OutputJob. For the SCU variant a
// missing/invalid destination name in task.Parameters is an immediate,
// non-retriable failure and the task is dropped (spec.md §4.7).
func (s *Service) convertToJob(ctx context.Context, task types.ExportTask) (OutputJob, bool) {
	job := OutputJob{Task: task}
	if !s.cfg.RequiresDestination {
		return job, true
	}

	name := string(task.Parameters)
	dest, err := s.ae.GetDestinationAE(ctx, name)
	if err != nil {
		s.logger.ErrorContext(ctx, "export task names unresolvable destination, dropping",
			"task_id", task.TaskID, "destination", name, "error", err)
		if reportErr := s.results.ReportFailure(ctx, task.TaskID, false); reportErr != nil {
			s.logger.ErrorContext(ctx, "failed to report unresolvable-destination failure", "task_id", task.TaskID, "error", reportErr)
		}
		return OutputJob{}, false
	}
	job.Destination = dest
	return job, true
}

func (s *Service) runJob(ctx context.Context, job OutputJob) {
	datasets, failed, ok := s.downloadPayload(ctx, job)
	if !ok {
		return
	}
	if len(datasets) == 0 {
		s.report(ctx, job, 0, failed)
		return
	}

	successCount, failureCount := s.exporter.Export(ctx, job, datasets)
	failureCount += failed
	s.report(ctx, job, successCount, failureCount)
}

// downloadPayload fetches every URI, parses successfully-downloaded
// files as DICOM, and fails the task early when the download failure
// rate crosses the configured threshold (spec.md §4.7).
func (s *Service) downloadPayload(ctx context.Context, job OutputJob) ([]*dicom.Dataset, int, bool) {
	urisCount := len(job.Task.URIs)
	if urisCount == 0 {
		s.completeFailure(ctx, job, false)
		return nil, 0, false
	}

	var datasets []*dicom.Dataset
	failedDownloads := 0
	for _, uri := range job.Task.URIs {
		data, err := s.payloads.Download(ctx, job.Task.PayloadID, uri)
		if err != nil {
			failedDownloads++
			s.logger.WarnContext(ctx, "payload download failed", "task_id", job.Task.TaskID, "uri", uri, "error", err)
			continue
		}
		ds, err := dicom.ParseDataset(data)
		if err != nil {
			s.logger.WarnContext(ctx, "downloaded payload is not a valid DICOM file, skipping", "task_id", job.Task.TaskID, "uri", uri, "error", err)
			continue
		}
		datasets = append(datasets, ds)
	}

	downloadFailureRate := float64(failedDownloads) / float64(urisCount)
	if downloadFailureRate > s.cfg.FailureThreshold {
		s.logger.ErrorContext(ctx, "download failure rate exceeds threshold, dropping task",
			"task_id", job.Task.TaskID, "rate", downloadFailureRate, "threshold", s.cfg.FailureThreshold)
		s.completeFailure(ctx, job, false)
		return nil, 0, false
	}
	return datasets, failedDownloads, true
}

func (s *Service) completeFailure(ctx context.Context, job OutputJob, retry bool) {
	if err := s.results.ReportFailure(ctx, job.Task.TaskID, retry); err != nil {
		s.logger.ErrorContext(ctx, "failed to report task failure", "task_id", job.Task.TaskID, "error", err)
	}
}

// report applies the §4.7 decision rule comparing the observed export
// failure rate against the configured threshold and retry budget.
func (s *Service) report(ctx context.Context, job OutputJob, successCount, failureCount int) {
	total := successCount + failureCount
	if total == 0 {
		s.completeFailure(ctx, job, job.Task.Retries < s.cfg.MaximumRetries)
		return
	}

	exportFailureRate := float64(failureCount) / float64(total)
	if exportFailureRate > s.cfg.FailureThreshold {
		retry := job.Task.Retries < s.cfg.MaximumRetries
		s.completeFailure(ctx, job, retry)
		return
	}
	if err := s.results.ReportSuccess(ctx, job.Task.TaskID); err != nil {
		s.logger.ErrorContext(ctx, "failed to report task success", "task_id", job.Task.TaskID, "error", err)
	}
}

// classifyAssociationError buckets an SCU transmission error into the
// four categories spec.md §4.7 names for logging: association
// aborted, association rejected, I/O with socket inner, or other.
func classifyAssociationError(err error) string {
	switch err.(type) {
	case *domainerrors.AbortError:
		return "association aborted"
	case *domainerrors.AssociationError:
		return "association rejected"
	case *domainerrors.NetworkError:
		return "I/O with socket inner"
	default:
		return "other"
	}
}
