package export

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvidia-clara/dicom-adapter/dicom"
	"github.com/nvidia-clara/dicom-adapter/repository"
	"github.com/nvidia-clara/dicom-adapter/types"
)

type fakeResults struct {
	mu       sync.Mutex
	pending  []types.ExportTask
	success  []string
	failures map[string]bool
}

func newFakeResults(tasks ...types.ExportTask) *fakeResults {
	return &fakeResults{pending: tasks, failures: map[string]bool{}}
}

func (f *fakeResults) GetPending(ctx context.Context, agent string, limit int) ([]types.ExportTask, error) {
	return f.pending, nil
}

func (f *fakeResults) ReportSuccess(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.success = append(f.success, taskID)
	return nil
}

func (f *fakeResults) ReportFailure(ctx context.Context, taskID string, retry bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[taskID] = retry
	return nil
}

type fakePayloads struct {
	files map[string][]byte // keyed by uri
}

func (f *fakePayloads) Download(ctx context.Context, payloadID, uri string) ([]byte, error) {
	data, ok := f.files[uri]
	if !ok {
		return nil, assert.AnError
	}
	return data, nil
}

type fakeExporter struct {
	successCount, failureCount int
}

func (f *fakeExporter) Export(ctx context.Context, job OutputJob, datasets []*dicom.Dataset) (int, int) {
	return f.successCount, f.failureCount
}

func sampleDatasetBytes() []byte {
	ds := dicom.NewDataset()
	ds.AddElement(sopClassUIDTag, "UI", "1.2.840.10008.5.1.4.1.1.7")
	ds.AddElement(sopInstanceUIDTag, "UI", "sop-1")
	return ds.EncodeDataset()
}

func TestService_Poll_HappyPathReportsSuccess(t *testing.T) {
	task := types.ExportTask{TaskID: "task-1", PayloadID: "payload-1", URIs: []string{"uri-1"}}
	results := newFakeResults(task)
	payloads := &fakePayloads{files: map[string][]byte{"uri-1": sampleDatasetBytes()}}
	exporter := &fakeExporter{successCount: 1}
	ae := repository.NewMemory()

	svc := New(Config{Agent: "agent-1", Limit: 10, FailureThreshold: 0.5, MaximumRetries: 3, MaxDegreeOfParallelism: 2}, results, payloads, ae, exporter)

	require.NoError(t, svc.Poll(context.Background()))
	assert.Contains(t, results.success, "task-1")
}

func TestService_Poll_UnresolvableDestinationFailsImmediately(t *testing.T) {
	task := types.ExportTask{TaskID: "task-2", Parameters: []byte("missing-dest"), URIs: []string{"uri-1"}}
	results := newFakeResults(task)
	payloads := &fakePayloads{}
	exporter := &fakeExporter{}
	ae := repository.NewMemory()

	svc := New(Config{Agent: "agent-1", Limit: 10, FailureThreshold: 0.5, MaximumRetries: 3, RequiresDestination: true, MaxDegreeOfParallelism: 2}, results, payloads, ae, exporter)

	require.NoError(t, svc.Poll(context.Background()))
	retry, failed := results.failures["task-2"]
	require.True(t, failed)
	assert.False(t, retry)
}

func TestService_Poll_ResolvedDestinationIsUsedBySCUExporter(t *testing.T) {
	task := types.ExportTask{TaskID: "task-3", Parameters: []byte("dest-1"), URIs: []string{"uri-1"}}
	results := newFakeResults(task)
	payloads := &fakePayloads{files: map[string][]byte{"uri-1": sampleDatasetBytes()}}
	exporter := &fakeExporter{successCount: 1}
	ae := repository.NewMemory()
	ae.PutDestinationAE(types.DestinationApplicationEntity{Name: "dest-1", AETitle: "DEST1", HostIP: "10.0.0.5", Port: 104})

	svc := New(Config{Agent: "agent-1", Limit: 10, FailureThreshold: 0.5, MaximumRetries: 3, RequiresDestination: true, MaxDegreeOfParallelism: 2}, results, payloads, ae, exporter)

	require.NoError(t, svc.Poll(context.Background()))
	assert.Contains(t, results.success, "task-3")
}

func TestService_Poll_DownloadFailureRateAboveThresholdDropsTask(t *testing.T) {
	task := types.ExportTask{TaskID: "task-4", URIs: []string{"uri-1", "uri-2"}}
	results := newFakeResults(task)
	payloads := &fakePayloads{files: map[string][]byte{"uri-1": sampleDatasetBytes()}} // uri-2 missing
	exporter := &fakeExporter{}
	ae := repository.NewMemory()

	svc := New(Config{Agent: "agent-1", Limit: 10, FailureThreshold: 0.1, MaximumRetries: 3, MaxDegreeOfParallelism: 2}, results, payloads, ae, exporter)

	require.NoError(t, svc.Poll(context.Background()))
	retry, failed := results.failures["task-4"]
	require.True(t, failed)
	assert.False(t, retry)
}

func TestService_Poll_ExportFailureRateAboveThresholdRetriesWithinBudget(t *testing.T) {
	task := types.ExportTask{TaskID: "task-5", URIs: []string{"uri-1"}, Retries: 0}
	results := newFakeResults(task)
	payloads := &fakePayloads{files: map[string][]byte{"uri-1": sampleDatasetBytes()}}
	exporter := &fakeExporter{successCount: 0, failureCount: 1}
	ae := repository.NewMemory()

	svc := New(Config{Agent: "agent-1", Limit: 10, FailureThreshold: 0.1, MaximumRetries: 3, MaxDegreeOfParallelism: 2}, results, payloads, ae, exporter)

	require.NoError(t, svc.Poll(context.Background()))
	retry, failed := results.failures["task-5"]
	require.True(t, failed)
	assert.True(t, retry)
}

func TestService_Poll_ExportFailureRetriesExhaustedIsNonRetriable(t *testing.T) {
	task := types.ExportTask{TaskID: "task-6", URIs: []string{"uri-1"}, Retries: 3}
	results := newFakeResults(task)
	payloads := &fakePayloads{files: map[string][]byte{"uri-1": sampleDatasetBytes()}}
	exporter := &fakeExporter{successCount: 0, failureCount: 1}
	ae := repository.NewMemory()

	svc := New(Config{Agent: "agent-1", Limit: 10, FailureThreshold: 0.1, MaximumRetries: 3, MaxDegreeOfParallelism: 2}, results, payloads, ae, exporter)

	require.NoError(t, svc.Poll(context.Background()))
	retry, failed := results.failures["task-6"]
	require.True(t, failed)
	assert.False(t, retry)
}
