package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nvidia-clara/dicom-adapter/dicom"
	"github.com/nvidia-clara/dicom-adapter/dicomweb"
	"github.com/nvidia-clara/dicom-adapter/errors"
	"github.com/nvidia-clara/dicom-adapter/repository"
	"github.com/nvidia-clara/dicom-adapter/types"
)

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// sanitizeForPath replaces characters outside [A-Za-z0-9._-] with
// "_", the same rule aehandler.Sanitize applies to storage paths.
func sanitizeForPath(s string) string {
	return unsafePathChars.ReplaceAllString(s, "_")
}

// Submitter hands a built InferenceJob off to job submission. Shaped
// identically to jobprocessor.Submitter so both engines can share one
// jobsubmission.Service.
type Submitter interface {
	Submit(ctx context.Context, job types.InferenceJob) error
}

// Service implements InferenceRequestRetrieval (spec.md §4.5).
type Service struct {
	requests      repository.InferenceRequestRepository
	retriever     Retriever
	submit        Submitter
	temporaryRoot string
	logger        *slog.Logger
}

// New creates a Service rooted at temporaryRoot for staged instance
// files. logger is optional; when omitted, slog.Default() is used.
func New(requests repository.InferenceRequestRepository, retriever Retriever, submit Submitter, temporaryRoot string, logger ...*slog.Logger) *Service {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &Service{requests: requests, retriever: retriever, submit: submit, temporaryRoot: temporaryRoot, logger: l}
}

// Drain pulls every Queued InferenceRequest and processes it in turn.
func (s *Service) Drain(ctx context.Context) error {
	queued, err := s.requests.ListByState(ctx, types.RequestStateQueued)
	if err != nil {
		return err
	}
	for _, req := range queued {
		s.Process(ctx, req)
	}
	return nil
}

// Process runs the full §4.5 flow for one request: validate, stage
// files, retrieve, submit a job, and record the terminal outcome.
func (s *Service) Process(ctx context.Context, req types.InferenceRequest) {
	if err := validate(req); err != nil {
		s.complete(ctx, req, types.RequestStatusFail, err)
		return
	}

	req.StoragePath = filepath.Join(s.temporaryRoot, req.TransactionID)
	if err := os.MkdirAll(req.StoragePath, 0o755); err != nil {
		s.complete(ctx, req, types.RequestStatusFail,
			errors.NewFatalError("inference.Process", fmt.Errorf("create storage path %s: %w", req.StoragePath, err)))
		return
	}

	seen := make(map[string]types.InstanceStorageInfo)
	for _, info := range restoreExisting(req.StoragePath) {
		seen[info.SOPInstanceUID] = info
	}

	for _, res := range req.InputResources {
		if res.Kind != types.ResourceKindDICOMweb {
			continue
		}
		if err := s.retrieveResource(ctx, req, res.InputMetadata.Details, seen); err != nil {
			s.complete(ctx, req, types.RequestStatusFail, err)
			return
		}
	}

	if len(seen) == 0 {
		s.complete(ctx, req, types.RequestStatusFail,
			errors.NewRequestValidationError("inference.Process", fmt.Errorf("zero instances retrieved for transaction %s", req.TransactionID)))
		return
	}

	instances := make([]types.InstanceStorageInfo, 0, len(seen))
	for _, info := range seen {
		instances = append(instances, info)
	}

	job := types.InferenceJob{
		JobID:     req.TransactionID,
		JobName:   req.TransactionID,
		Priority:  req.Priority,
		Instances: instances,
		State:     types.JobStateCreated,
	}
	if err := s.submit.Submit(ctx, job); err != nil {
		s.complete(ctx, req, types.RequestStatusFail, err)
		return
	}

	req.JobID = job.JobID
	s.complete(ctx, req, types.RequestStatusSuccess, nil)
}

// restoreExisting scans storagePath for already-downloaded .dcm files
// from a prior, interrupted attempt (spec.md §4.5 step 3) so a retry
// does not re-fetch instances it already has.
func restoreExisting(storagePath string) []types.InstanceStorageInfo {
	entries, err := os.ReadDir(storagePath)
	if err != nil {
		return nil
	}
	var found []types.InstanceStorageInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".dcm") {
			continue
		}
		path := filepath.Join(storagePath, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		ds, err := dicom.ParseDataset(data)
		if err != nil {
			continue
		}
		found = append(found, instanceInfoFromDataset(ds, path))
	}
	return found
}

// retrieveResource dispatches one DICOMweb input resource's retrieval
// criteria (spec.md §4.5 step 4) and saves each resulting dataset,
// deduplicating into seen by SOPInstanceUID.
func (s *Service) retrieveResource(ctx context.Context, req types.InferenceRequest, details types.InputDetails, seen map[string]types.InstanceStorageInfo) error {
	switch details.Type {
	case types.DetailsDICOMUID:
		for _, study := range details.Studies {
			if err := s.retrieveStudySelector(ctx, req, study, seen); err != nil {
				return err
			}
		}
	case types.DetailsDICOMPatientID:
		results, err := s.retriever.QIDOStudies(ctx, dicomweb.QIDOStudiesQuery{PatientID: details.PatientID})
		if err != nil {
			return err
		}
		return s.retrieveStudiesFromQIDO(ctx, req, results, seen)
	case types.DetailsAccessionNumber:
		for _, accession := range details.AccessionNumbers {
			results, err := s.retriever.QIDOStudies(ctx, dicomweb.QIDOStudiesQuery{AccessionNumber: accession})
			if err != nil {
				return err
			}
			if err := s.retrieveStudiesFromQIDO(ctx, req, results, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) retrieveStudiesFromQIDO(ctx context.Context, req types.InferenceRequest, results []json.RawMessage, seen map[string]types.InstanceStorageInfo) error {
	for _, raw := range results {
		studyUID, err := studyInstanceUIDFromQIDOResult(raw)
		if err != nil || studyUID == "" {
			continue
		}
		datasets, err := s.retriever.RetrieveStudy(ctx, studyUID, nil)
		if err != nil {
			return err
		}
		if err := s.saveAll(ctx, req, datasets, seen); err != nil {
			return err
		}
	}
	return nil
}

// retrieveStudySelector implements the DICOM_UID omitted-Series /
// omitted-Instances branching rule from spec.md §4.5 step 4.
func (s *Service) retrieveStudySelector(ctx context.Context, req types.InferenceRequest, study types.StudySelector, seen map[string]types.InstanceStorageInfo) error {
	if len(study.Series) == 0 {
		datasets, err := s.retriever.RetrieveStudy(ctx, study.StudyInstanceUID, nil)
		if err != nil {
			return err
		}
		return s.saveAll(ctx, req, datasets, seen)
	}
	for _, series := range study.Series {
		if len(series.SOPInstanceUIDs) == 0 {
			datasets, err := s.retriever.RetrieveSeries(ctx, study.StudyInstanceUID, series.SeriesInstanceUID, nil)
			if err != nil {
				return err
			}
			if err := s.saveAll(ctx, req, datasets, seen); err != nil {
				return err
			}
			continue
		}
		for _, sopInstanceUID := range series.SOPInstanceUIDs {
			ds, err := s.retriever.RetrieveInstance(ctx, study.StudyInstanceUID, series.SeriesInstanceUID, sopInstanceUID, nil)
			if err != nil {
				return err
			}
			if err := s.saveAll(ctx, req, []*dicom.Dataset{ds}, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) saveAll(ctx context.Context, req types.InferenceRequest, datasets []*dicom.Dataset, seen map[string]types.InstanceStorageInfo) error {
	for _, ds := range datasets {
		info := instanceInfoFromDataset(ds, "")
		if info.SOPInstanceUID == "" {
			continue
		}
		if _, dup := seen[info.SOPInstanceUID]; dup {
			continue
		}
		path := filepath.Join(req.StoragePath, sanitizeForPath(info.SOPInstanceUID)+".dcm")
		if err := s.saveWithRetry(ctx, path, ds.EncodeDataset()); err != nil {
			return err
		}
		info.StoragePath = path
		seen[info.SOPInstanceUID] = info
	}
	return nil
}

// saveWithRetry persists data at path using the same retry schedule
// aehandler.writeWithRetry uses for incoming C-STORE writes: the first
// attempt plus up to 3 retries.
func (s *Service) saveWithRetry(ctx context.Context, path string, data []byte) error {
	op := func() error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	}

	var lastErr error
	notify := func(err error, wait time.Duration) {
		lastErr = err
		s.logger.WarnContext(ctx, "retrying instance save", "path", path, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(newSaveBackoff(), ctx), notify); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return errors.NewTransientIOError("inference.saveWithRetry", fmt.Errorf("write %s: %w", path, lastErr))
	}
	return nil
}

func (s *Service) complete(ctx context.Context, req types.InferenceRequest, status types.RequestStatus, err error) {
	req.State = types.RequestStateCompleted
	req.Status = status
	if err != nil {
		s.logger.ErrorContext(ctx, "inference request failed", "transaction_id", req.TransactionID, "error", err)
	}
	if putErr := s.requests.Put(ctx, req); putErr != nil {
		s.logger.ErrorContext(ctx, "failed to persist completed inference request", "transaction_id", req.TransactionID, "error", putErr)
	}
}

var studyInstanceUIDTag = dicom.Tag{Group: 0x0020, Element: 0x000D}
var sopInstanceUIDTag = dicom.Tag{Group: 0x0008, Element: 0x0018}
var seriesInstanceUIDTag = dicom.Tag{Group: 0x0020, Element: 0x000E}
var sopClassUIDTag = dicom.Tag{Group: 0x0008, Element: 0x0016}
var patientIDTag = dicom.Tag{Group: 0x0010, Element: 0x0020}

func instanceInfoFromDataset(ds *dicom.Dataset, storagePath string) types.InstanceStorageInfo {
	return types.InstanceStorageInfo{
		SOPInstanceUID:    ds.GetString(sopInstanceUIDTag),
		StudyInstanceUID:  ds.GetString(studyInstanceUIDTag),
		SeriesInstanceUID: ds.GetString(seriesInstanceUIDTag),
		PatientID:         ds.GetString(patientIDTag),
		SOPClassUID:       ds.GetString(sopClassUIDTag),
		StoragePath:       storagePath,
	}
}
