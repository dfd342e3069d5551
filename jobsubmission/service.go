package jobsubmission

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nvidia-clara/dicom-adapter/platform"
	"github.com/nvidia-clara/dicom-adapter/repository"
	"github.com/nvidia-clara/dicom-adapter/storage"
	"github.com/nvidia-clara/dicom-adapter/types"
)

// Service is JobSubmissionService. It satisfies jobprocessor.Submitter
// so the job processor can hand a freshly persisted job straight to
// it, and it also exposes Drain for a recovery sweep over any job left
// in state Created by a prior crash between persistence and
// submission.
type Service struct {
	jobs     repository.JobRepository
	platform platform.Jobs
	payloads platform.Payloads
	cleanup  *storage.CleanupQueue
	logger   *slog.Logger
}

// New builds a Service. logger is optional; when omitted, slog.Default()
// is used.
func New(jobs repository.JobRepository, platformJobs platform.Jobs, payloads platform.Payloads, cleanup *storage.CleanupQueue, logger ...*slog.Logger) *Service {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &Service{jobs: jobs, platform: platformJobs, payloads: payloads, cleanup: cleanup, logger: l}
}

// Submit processes job end-to-end: create the platform job, upload
// every instance file to its payload, start the job, and transition it
// to Started or Failed. A job not in state Created is treated as
// already handled and is a no-op, the idempotency spec.md §4.9 asks
// for at the service layer (platform.Jobs.Create/Start are themselves
// idempotent on the client job id, covering retries mid-flight).
func (s *Service) Submit(ctx context.Context, job types.InferenceJob) error {
	if job.State != types.JobStateCreated {
		return nil
	}

	jobName := FixJobName(job.JobName)
	result, err := s.platform.Create(ctx, platform.JobCreateParams{
		ClientJobID: job.JobID,
		PipelineID:  job.PipelineID,
		JobName:     jobName,
		Priority:    types.MapPriority(job.Priority),
	})
	if err != nil {
		s.fail(ctx, job, "platform job create failed", err)
		return err
	}
	job.PayloadID = result.PayloadID
	job.State = types.JobStateMetadataUploaded
	if err := s.jobs.PutJob(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist job after platform create", "job_id", job.JobID, "error", err)
	}

	for _, inst := range job.Instances {
		data, err := os.ReadFile(inst.StoragePath)
		if err != nil {
			s.fail(ctx, job, "instance file read failed during upload", err)
			return err
		}
		if err := s.payloads.Upload(ctx, job.PayloadID, filepath.Base(inst.StoragePath), data); err != nil {
			s.fail(ctx, job, "payload upload failed", err)
			return err
		}
	}
	job.State = types.JobStatePayloadUploaded
	if err := s.jobs.PutJob(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist job after payload upload", "job_id", job.JobID, "error", err)
	}

	if err := s.platform.Start(ctx, job.JobID); err != nil {
		s.fail(ctx, job, "platform job start failed", err)
		return err
	}

	job.State = types.JobStateStarted
	if err := s.jobs.PutJob(ctx, job); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist job after start", "job_id", job.JobID, "error", err)
	}

	for _, inst := range job.Instances {
		s.cleanup.Push(inst.StoragePath)
	}
	return nil
}

func (s *Service) fail(ctx context.Context, job types.InferenceJob, reason string, err error) {
	s.logger.ErrorContext(ctx, reason, "job_id", job.JobID, "pipeline_id", job.PipelineID, "error", err)
	job.State = types.JobStateFailed
	if persistErr := s.jobs.PutJob(ctx, job); persistErr != nil {
		s.logger.ErrorContext(ctx, "failed to persist job failure", "job_id", job.JobID, "error", persistErr)
	}
}

// Drain submits every repository job still in state Created, the
// recovery path for a job that was persisted but never reached a push
// handoff (e.g. the process restarted between jobprocessor.emit's
// PutJob call and its Submit call).
func (s *Service) Drain(ctx context.Context) error {
	created, err := s.jobs.ListJobsByState(ctx, types.JobStateCreated)
	if err != nil {
		return err
	}
	for _, job := range created {
		if err := s.Submit(ctx, job); err != nil {
			s.logger.WarnContext(ctx, "drain submit failed, continuing", "job_id", job.JobID, "error", err)
		}
	}
	return nil
}
