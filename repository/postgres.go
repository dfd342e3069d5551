package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/nvidia-clara/dicom-adapter/types"
)

// Postgres is a Postgres-backed implementation of AERepository,
// InferenceRequestRepository, and JobRepository.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an already-opened *sqlx.DB. Callers are
// responsible for opening the connection (sqlx.Connect("postgres", dsn))
// and running migrations before use.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

type localAERow struct {
	Name                  string `db:"name"`
	AETitle               string `db:"ae_title"`
	OverwriteSameInstance bool   `db:"overwrite_same_instance"`
	IgnoredSOPClasses     string `db:"ignored_sop_classes"` // comma-separated
	ProcessorName         string `db:"processor_name"`
	ProcessorSettings     []byte `db:"processor_settings"`  // JSON-encoded []types.KeyValue
}

func toLocalAERow(ae types.LocalApplicationEntity) (localAERow, error) {
	classes := make([]string, 0, len(ae.IgnoredSOPClasses))
	for c := range ae.IgnoredSOPClasses {
		classes = append(classes, c)
	}
	settings, err := json.Marshal(ae.ProcessorSettings)
	if err != nil {
		return localAERow{}, err
	}
	return localAERow{
		Name:                  ae.Name,
		AETitle:               ae.AETitle,
		OverwriteSameInstance: ae.OverwriteSameInstance,
		IgnoredSOPClasses:     strings.Join(classes, ","),
		ProcessorName:         ae.ProcessorName,
		ProcessorSettings:     settings,
	}, nil
}

func (r localAERow) toDomain() (types.LocalApplicationEntity, error) {
	ignored := make(map[string]struct{})
	if r.IgnoredSOPClasses != "" {
		for _, c := range strings.Split(r.IgnoredSOPClasses, ",") {
			ignored[c] = struct{}{}
		}
	}
	var settings []types.KeyValue
	if len(r.ProcessorSettings) > 0 {
		if err := json.Unmarshal(r.ProcessorSettings, &settings); err != nil {
			return types.LocalApplicationEntity{}, err
		}
	}
	return types.LocalApplicationEntity{
		Name:                  r.Name,
		AETitle:               r.AETitle,
		OverwriteSameInstance: r.OverwriteSameInstance,
		IgnoredSOPClasses:     ignored,
		ProcessorName:         r.ProcessorName,
		ProcessorSettings:     settings,
	}, nil
}

// ListLocalAEs returns all configured local AEs.
func (p *Postgres) ListLocalAEs(ctx context.Context) ([]types.LocalApplicationEntity, error) {
	const query = `
		SELECT name, ae_title, overwrite_same_instance, ignored_sop_classes,
		       processor_name, processor_settings
		FROM local_application_entities
		ORDER BY ae_title ASC
	`
	var rows []localAERow
	if err := p.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list local AEs: %w", err)
	}
	out := make([]types.LocalApplicationEntity, 0, len(rows))
	for _, row := range rows {
		ae, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, ae)
	}
	return out, nil
}

// GetLocalAE looks up a local AE by its case-sensitive AE title.
func (p *Postgres) GetLocalAE(ctx context.Context, aeTitle string) (types.LocalApplicationEntity, error) {
	const query = `
		SELECT name, ae_title, overwrite_same_instance, ignored_sop_classes,
		       processor_name, processor_settings
		FROM local_application_entities
		WHERE ae_title = $1
	`
	var row localAERow
	if err := p.db.GetContext(ctx, &row, query, aeTitle); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.LocalApplicationEntity{}, ErrNotFound
		}
		return types.LocalApplicationEntity{}, fmt.Errorf("get local AE %s: %w", aeTitle, err)
	}
	return row.toDomain()
}

// PutLocalAE upserts a local AE by AE title.
func (p *Postgres) PutLocalAE(ctx context.Context, ae types.LocalApplicationEntity) error {
	row, err := toLocalAERow(ae)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO local_application_entities
			(ae_title, name, overwrite_same_instance, ignored_sop_classes, processor_name, processor_settings)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (ae_title) DO UPDATE SET
			name = EXCLUDED.name,
			overwrite_same_instance = EXCLUDED.overwrite_same_instance,
			ignored_sop_classes = EXCLUDED.ignored_sop_classes,
			processor_name = EXCLUDED.processor_name,
			processor_settings = EXCLUDED.processor_settings
	`
	_, err = p.db.ExecContext(ctx, query, row.AETitle, row.Name, row.OverwriteSameInstance,
		row.IgnoredSOPClasses, row.ProcessorName, row.ProcessorSettings)
	if err != nil {
		return fmt.Errorf("put local AE %s: %w", ae.AETitle, err)
	}
	return nil
}

// DeleteLocalAE removes a local AE by AE title.
func (p *Postgres) DeleteLocalAE(ctx context.Context, aeTitle string) error {
	const query = `DELETE FROM local_application_entities WHERE ae_title = $1`
	if _, err := p.db.ExecContext(ctx, query, aeTitle); err != nil {
		return fmt.Errorf("delete local AE %s: %w", aeTitle, err)
	}
	return nil
}

// ListSourceAEs returns all configured source AEs.
func (p *Postgres) ListSourceAEs(ctx context.Context) ([]types.SourceApplicationEntity, error) {
	const query = `SELECT ae_title, host_ip FROM source_application_entities ORDER BY ae_title ASC`
	var out []types.SourceApplicationEntity
	if err := p.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("list source AEs: %w", err)
	}
	return out, nil
}

// FindSourceAE looks up a source AE matching aeTitle case-insensitively
// and hostIP exactly.
func (p *Postgres) FindSourceAE(ctx context.Context, aeTitle, hostIP string) (types.SourceApplicationEntity, error) {
	const query = `
		SELECT ae_title, host_ip FROM source_application_entities
		WHERE lower(ae_title) = lower($1) AND host_ip = $2
	`
	var out types.SourceApplicationEntity
	if err := p.db.GetContext(ctx, &out, query, aeTitle, hostIP); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.SourceApplicationEntity{}, ErrNotFound
		}
		return types.SourceApplicationEntity{}, fmt.Errorf("find source AE %s@%s: %w", aeTitle, hostIP, err)
	}
	return out, nil
}

// ListDestinationAEs returns all configured export destinations.
func (p *Postgres) ListDestinationAEs(ctx context.Context) ([]types.DestinationApplicationEntity, error) {
	const query = `SELECT name, ae_title, host_ip, port FROM destination_application_entities ORDER BY name ASC`
	var out []types.DestinationApplicationEntity
	if err := p.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("list destination AEs: %w", err)
	}
	return out, nil
}

// GetDestinationAE looks up an export destination by its unique name.
func (p *Postgres) GetDestinationAE(ctx context.Context, name string) (types.DestinationApplicationEntity, error) {
	const query = `SELECT name, ae_title, host_ip, port FROM destination_application_entities WHERE name = $1`
	var out types.DestinationApplicationEntity
	if err := p.db.GetContext(ctx, &out, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.DestinationApplicationEntity{}, ErrNotFound
		}
		return types.DestinationApplicationEntity{}, fmt.Errorf("get destination AE %s: %w", name, err)
	}
	return out, nil
}

type inferenceRequestRow struct {
	TransactionID string `db:"transaction_id"`
	Priority      int    `db:"priority"`
	JobID         string `db:"job_id"`
	PayloadID     string `db:"payload_id"`
	StoragePath   string `db:"storage_path"`
	State         string `db:"state"`
	Status        string `db:"status"`
	TryCount      int    `db:"try_count"`
	ResourcesJSON []byte `db:"resources_json"` // JSON-encoded {InputResources, OutputResources}
}

type requestResources struct {
	InputResources  []types.InputResource `json:"inputResources"`
	OutputResources []types.InputResource `json:"outputResources"`
}

func toInferenceRequestRow(req types.InferenceRequest) (inferenceRequestRow, error) {
	resources, err := json.Marshal(requestResources{
		InputResources:  req.InputResources,
		OutputResources: req.OutputResources,
	})
	if err != nil {
		return inferenceRequestRow{}, err
	}
	return inferenceRequestRow{
		TransactionID: req.TransactionID,
		Priority:      int(req.Priority),
		JobID:         req.JobID,
		PayloadID:     req.PayloadID,
		StoragePath:   req.StoragePath,
		State:         string(req.State),
		Status:        string(req.Status),
		TryCount:      req.TryCount,
		ResourcesJSON: resources,
	}, nil
}

func (r inferenceRequestRow) toDomain() (types.InferenceRequest, error) {
	var resources requestResources
	if len(r.ResourcesJSON) > 0 {
		if err := json.Unmarshal(r.ResourcesJSON, &resources); err != nil {
			return types.InferenceRequest{}, err
		}
	}
	return types.InferenceRequest{
		TransactionID:   r.TransactionID,
		Priority:        uint8(r.Priority),
		InputResources:  resources.InputResources,
		OutputResources: resources.OutputResources,
		JobID:           r.JobID,
		PayloadID:       r.PayloadID,
		StoragePath:     r.StoragePath,
		State:           types.RequestState(r.State),
		Status:          types.RequestStatus(r.Status),
		TryCount:        r.TryCount,
	}, nil
}

// Put upserts an InferenceRequest by transaction id.
func (p *Postgres) Put(ctx context.Context, req types.InferenceRequest) error {
	row, err := toInferenceRequestRow(req)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO inference_requests
			(transaction_id, priority, job_id, payload_id, storage_path, state, status, try_count, resources_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (transaction_id) DO UPDATE SET
			priority = EXCLUDED.priority,
			job_id = EXCLUDED.job_id,
			payload_id = EXCLUDED.payload_id,
			storage_path = EXCLUDED.storage_path,
			state = EXCLUDED.state,
			status = EXCLUDED.status,
			try_count = EXCLUDED.try_count,
			resources_json = EXCLUDED.resources_json
	`
	_, err = p.db.ExecContext(ctx, query, row.TransactionID, row.Priority, row.JobID, row.PayloadID,
		row.StoragePath, row.State, row.Status, row.TryCount, row.ResourcesJSON)
	if err != nil {
		return fmt.Errorf("put inference request %s: %w", req.TransactionID, err)
	}
	return nil
}

// Get looks up an InferenceRequest by transaction id.
func (p *Postgres) Get(ctx context.Context, transactionID string) (types.InferenceRequest, error) {
	const query = `
		SELECT transaction_id, priority, job_id, payload_id, storage_path, state, status, try_count, resources_json
		FROM inference_requests WHERE transaction_id = $1
	`
	var row inferenceRequestRow
	if err := p.db.GetContext(ctx, &row, query, transactionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.InferenceRequest{}, ErrNotFound
		}
		return types.InferenceRequest{}, fmt.Errorf("get inference request %s: %w", transactionID, err)
	}
	return row.toDomain()
}

// ListByState returns every InferenceRequest currently in state.
func (p *Postgres) ListByState(ctx context.Context, state types.RequestState) ([]types.InferenceRequest, error) {
	const query = `
		SELECT transaction_id, priority, job_id, payload_id, storage_path, state, status, try_count, resources_json
		FROM inference_requests WHERE state = $1
	`
	var rows []inferenceRequestRow
	if err := p.db.SelectContext(ctx, &rows, query, string(state)); err != nil {
		return nil, fmt.Errorf("list inference requests in state %s: %w", state, err)
	}
	out := make([]types.InferenceRequest, 0, len(rows))
	for _, row := range rows {
		req, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

type jobRow struct {
	JobID         string `db:"job_id"`
	PayloadID     string `db:"payload_id"`
	JobName       string `db:"job_name"`
	PipelineID    string `db:"pipeline_id"`
	Priority      int    `db:"priority"`
	State         string `db:"state"`
	Retries       int    `db:"retries"`
	InstancesJSON []byte `db:"instances_json"`
}

func toJobRow(job types.InferenceJob) (jobRow, error) {
	instances, err := json.Marshal(job.Instances)
	if err != nil {
		return jobRow{}, err
	}
	return jobRow{
		JobID:         job.JobID,
		PayloadID:     job.PayloadID,
		JobName:       job.JobName,
		PipelineID:    job.PipelineID,
		Priority:      int(job.Priority),
		State:         string(job.State),
		Retries:       job.Retries,
		InstancesJSON: instances,
	}, nil
}

func (r jobRow) toDomain() (types.InferenceJob, error) {
	var instances []types.InstanceStorageInfo
	if len(r.InstancesJSON) > 0 {
		if err := json.Unmarshal(r.InstancesJSON, &instances); err != nil {
			return types.InferenceJob{}, err
		}
	}
	return types.InferenceJob{
		JobID:      r.JobID,
		PayloadID:  r.PayloadID,
		JobName:    r.JobName,
		PipelineID: r.PipelineID,
		Priority:   uint8(r.Priority),
		Instances:  instances,
		State:      types.JobState(r.State),
		Retries:    r.Retries,
	}, nil
}

// PutJob upserts an InferenceJob by job id.
func (p *Postgres) PutJob(ctx context.Context, job types.InferenceJob) error {
	row, err := toJobRow(job)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO inference_jobs
			(job_id, payload_id, job_name, pipeline_id, priority, state, retries, instances_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO UPDATE SET
			payload_id = EXCLUDED.payload_id,
			job_name = EXCLUDED.job_name,
			pipeline_id = EXCLUDED.pipeline_id,
			priority = EXCLUDED.priority,
			state = EXCLUDED.state,
			retries = EXCLUDED.retries,
			instances_json = EXCLUDED.instances_json
	`
	_, err = p.db.ExecContext(ctx, query, row.JobID, row.PayloadID, row.JobName, row.PipelineID,
		row.Priority, row.State, row.Retries, row.InstancesJSON)
	if err != nil {
		return fmt.Errorf("put job %s: %w", job.JobID, err)
	}
	return nil
}

// GetJob looks up an InferenceJob by job id.
func (p *Postgres) GetJob(ctx context.Context, jobID string) (types.InferenceJob, error) {
	const query = `
		SELECT job_id, payload_id, job_name, pipeline_id, priority, state, retries, instances_json
		FROM inference_jobs WHERE job_id = $1
	`
	var row jobRow
	if err := p.db.GetContext(ctx, &row, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.InferenceJob{}, ErrNotFound
		}
		return types.InferenceJob{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return row.toDomain()
}

// ListJobsByState returns every InferenceJob currently in state.
func (p *Postgres) ListJobsByState(ctx context.Context, state types.JobState) ([]types.InferenceJob, error) {
	const query = `
		SELECT job_id, payload_id, job_name, pipeline_id, priority, state, retries, instances_json
		FROM inference_jobs WHERE state = $1
	`
	var rows []jobRow
	if err := p.db.SelectContext(ctx, &rows, query, string(state)); err != nil {
		return nil, fmt.Errorf("list jobs in state %s: %w", state, err)
	}
	out := make([]types.InferenceJob, 0, len(rows))
	for _, row := range rows {
		job, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}
