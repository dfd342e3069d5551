// Package repository defines the transactional persistence interfaces
// spec.md §3/§5 require (AE configs, inference requests, job records)
// and provides a Postgres-backed implementation plus an in-memory
// fake used by every other package's tests.
package repository

import (
	"context"
	"errors"

	"github.com/nvidia-clara/dicom-adapter/types"
)

// ErrNotFound is returned by Get-style lookups when no record matches.
var ErrNotFound = errors.New("repository: not found")

// AERepository persists LocalApplicationEntity, SourceApplicationEntity,
// and DestinationApplicationEntity configuration.
type AERepository interface {
	ListLocalAEs(ctx context.Context) ([]types.LocalApplicationEntity, error)
	GetLocalAE(ctx context.Context, aeTitle string) (types.LocalApplicationEntity, error)
	PutLocalAE(ctx context.Context, ae types.LocalApplicationEntity) error
	DeleteLocalAE(ctx context.Context, aeTitle string) error

	ListSourceAEs(ctx context.Context) ([]types.SourceApplicationEntity, error)
	FindSourceAE(ctx context.Context, aeTitle, hostIP string) (types.SourceApplicationEntity, error)

	ListDestinationAEs(ctx context.Context) ([]types.DestinationApplicationEntity, error)
	GetDestinationAE(ctx context.Context, name string) (types.DestinationApplicationEntity, error)
}

// InferenceRequestRepository persists InferenceRequest records and
// supports draining requests in a given state.
type InferenceRequestRepository interface {
	Put(ctx context.Context, req types.InferenceRequest) error
	Get(ctx context.Context, transactionID string) (types.InferenceRequest, error)
	ListByState(ctx context.Context, state types.RequestState) ([]types.InferenceRequest, error)
}

// JobRepository persists InferenceJob records and supports draining
// jobs in a given state. Named distinctly from
// InferenceRequestRepository's methods since a single implementation
// (Memory, postgres) satisfies both interfaces at once.
type JobRepository interface {
	PutJob(ctx context.Context, job types.InferenceJob) error
	GetJob(ctx context.Context, jobID string) (types.InferenceJob, error)
	ListJobsByState(ctx context.Context, state types.JobState) ([]types.InferenceJob, error)
}
