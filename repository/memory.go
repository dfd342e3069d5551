package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/nvidia-clara/dicom-adapter/types"
)

// Memory is an in-memory implementation of AERepository,
// InferenceRequestRepository, and JobRepository, used by every other
// package's tests so business logic never depends on a live database.
type Memory struct {
	mu sync.RWMutex

	localAEs      map[string]types.LocalApplicationEntity
	sourceAEs     map[string]types.SourceApplicationEntity // key: lower(aeTitle)+"@"+hostIP
	destinations  map[string]types.DestinationApplicationEntity
	requests      map[string]types.InferenceRequest
	jobs          map[string]types.InferenceJob
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		localAEs:     make(map[string]types.LocalApplicationEntity),
		sourceAEs:    make(map[string]types.SourceApplicationEntity),
		destinations: make(map[string]types.DestinationApplicationEntity),
		requests:     make(map[string]types.InferenceRequest),
		jobs:         make(map[string]types.InferenceJob),
	}
}

func sourceKey(aeTitle, hostIP string) string {
	return strings.ToLower(aeTitle) + "@" + hostIP
}

// ListLocalAEs returns all configured local AEs.
func (m *Memory) ListLocalAEs(ctx context.Context) ([]types.LocalApplicationEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.LocalApplicationEntity, 0, len(m.localAEs))
	for _, ae := range m.localAEs {
		out = append(out, ae)
	}
	return out, nil
}

// GetLocalAE looks up a local AE by its case-sensitive AE title
// (spec.md §4.2: called AE lookup is case-sensitive).
func (m *Memory) GetLocalAE(ctx context.Context, aeTitle string) (types.LocalApplicationEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ae, ok := m.localAEs[aeTitle]
	if !ok {
		return types.LocalApplicationEntity{}, ErrNotFound
	}
	return ae, nil
}

// PutLocalAE inserts or replaces a local AE.
func (m *Memory) PutLocalAE(ctx context.Context, ae types.LocalApplicationEntity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localAEs[ae.AETitle] = ae
	return nil
}

// DeleteLocalAE removes a local AE. Deleting an unknown AE title is a
// no-op.
func (m *Memory) DeleteLocalAE(ctx context.Context, aeTitle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.localAEs, aeTitle)
	return nil
}

// ListSourceAEs returns all configured source AEs.
func (m *Memory) ListSourceAEs(ctx context.Context) ([]types.SourceApplicationEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.SourceApplicationEntity, 0, len(m.sourceAEs))
	for _, ae := range m.sourceAEs {
		out = append(out, ae)
	}
	return out, nil
}

// FindSourceAE looks up a source AE by (aeTitle, hostIP), matching
// case-insensitively on AE title and exactly on host (spec.md §4.2).
func (m *Memory) FindSourceAE(ctx context.Context, aeTitle, hostIP string) (types.SourceApplicationEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ae, ok := m.sourceAEs[sourceKey(aeTitle, hostIP)]
	if !ok {
		return types.SourceApplicationEntity{}, ErrNotFound
	}
	return ae, nil
}

// PutSourceAE inserts or replaces a source AE. This is a Memory-only
// helper (not part of AERepository) used by tests to seed fixtures.
func (m *Memory) PutSourceAE(ae types.SourceApplicationEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sourceAEs[sourceKey(ae.AETitle, ae.HostIP)] = ae
}

// ListDestinationAEs returns all configured export destinations.
func (m *Memory) ListDestinationAEs(ctx context.Context) ([]types.DestinationApplicationEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.DestinationApplicationEntity, 0, len(m.destinations))
	for _, d := range m.destinations {
		out = append(out, d)
	}
	return out, nil
}

// GetDestinationAE looks up an export destination by its unique name.
func (m *Memory) GetDestinationAE(ctx context.Context, name string) (types.DestinationApplicationEntity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.destinations[name]
	if !ok {
		return types.DestinationApplicationEntity{}, ErrNotFound
	}
	return d, nil
}

// PutDestinationAE inserts or replaces an export destination. Memory-only
// helper used by tests to seed fixtures.
func (m *Memory) PutDestinationAE(d types.DestinationApplicationEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destinations[d.Name] = d
}

// Put inserts or replaces an InferenceRequest, keyed by TransactionID.
func (m *Memory) Put(ctx context.Context, req types.InferenceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.TransactionID] = req
	return nil
}

// Get looks up an InferenceRequest by transaction id.
func (m *Memory) Get(ctx context.Context, transactionID string) (types.InferenceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[transactionID]
	if !ok {
		return types.InferenceRequest{}, ErrNotFound
	}
	return req, nil
}

// ListByState returns every InferenceRequest currently in state.
func (m *Memory) ListByState(ctx context.Context, state types.RequestState) ([]types.InferenceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.InferenceRequest
	for _, req := range m.requests {
		if req.State == state {
			out = append(out, req)
		}
	}
	return out, nil
}

// PutJob inserts or replaces an InferenceJob, keyed by JobID. Named
// distinctly from Put (InferenceRequestRepository) since Memory
// satisfies both interfaces simultaneously.
func (m *Memory) PutJob(ctx context.Context, job types.InferenceJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.JobID] = job
	return nil
}

// GetJob looks up an InferenceJob by job id.
func (m *Memory) GetJob(ctx context.Context, jobID string) (types.InferenceJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return types.InferenceJob{}, ErrNotFound
	}
	return job, nil
}

// ListJobsByState returns every InferenceJob currently in state.
func (m *Memory) ListJobsByState(ctx context.Context, state types.JobState) ([]types.InferenceJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.InferenceJob
	for _, job := range m.jobs {
		if job.State == state {
			out = append(out, job)
		}
	}
	return out, nil
}
