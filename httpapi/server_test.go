package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvidia-clara/dicom-adapter/dicom"
	"github.com/nvidia-clara/dicom-adapter/dicomweb"
	"github.com/nvidia-clara/dicom-adapter/health"
	"github.com/nvidia-clara/dicom-adapter/inference"
	"github.com/nvidia-clara/dicom-adapter/repository"
	"github.com/nvidia-clara/dicom-adapter/types"
)

type noopSubmitter struct{}

func (noopSubmitter) Submit(ctx context.Context, job types.InferenceJob) error { return nil }

type noopRetriever struct{}

func (noopRetriever) RetrieveStudy(ctx context.Context, studyUID string, transferSyntaxes []string) ([]*dicom.Dataset, error) {
	return nil, nil
}

func (noopRetriever) RetrieveSeries(ctx context.Context, studyUID, seriesUID string, transferSyntaxes []string) ([]*dicom.Dataset, error) {
	return nil, nil
}

func (noopRetriever) RetrieveInstance(ctx context.Context, studyUID, seriesUID, sopInstanceUID string, transferSyntaxes []string) (*dicom.Dataset, error) {
	return nil, nil
}

func (noopRetriever) QIDOStudies(ctx context.Context, query dicomweb.QIDOStudiesQuery) ([]json.RawMessage, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *repository.Memory) {
	t.Helper()
	repo := repository.NewMemory()
	reporter := health.New()
	infer := inference.New(repo, noopRetriever{}, noopSubmitter{}, t.TempDir())
	return New(context.Background(), repo, repo, infer, reporter), repo
}

func TestServer_HandleSubmit_PersistsQueuedRequest(t *testing.T) {
	srv, repo := newTestServer(t)

	body := `{
		"transactionId": "txn-1",
		"priority": 128,
		"inputResources": [
			{"kind": "Algorithm", "inputMetadata": {"details": {}}},
			{"kind": "DICOMweb", "inputMetadata": {"details": {"type": "DICOM_UID", "studies": [{"studyInstanceUid": "1.2.study"}]}}}
		]
	}`

	req := httptest.NewRequest(http.MethodPost, "/api/inference", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp submitResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "txn-1", resp.TransactionID)

	stored, err := repo.Get(context.Background(), "txn-1")
	require.NoError(t, err)
	assert.Equal(t, types.RequestStateQueued, stored.State)
}

func TestServer_HandleSubmit_RejectsMissingTransactionID(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/inference", bytes.NewBufferString(`{"inputResources":[]}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_HandleStatus_UnknownTransactionReturns404(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/inference/status/missing", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_HandleStatus_ReturnsPersistedRequest(t *testing.T) {
	srv, repo := newTestServer(t)
	require.NoError(t, repo.Put(context.Background(), types.InferenceRequest{
		TransactionID: "txn-2",
		State:         types.RequestStateCompleted,
		Status:        types.RequestStatusSuccess,
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/inference/status/txn-2", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "txn-2", resp.TransactionID)
	assert.Equal(t, string(types.RequestStateCompleted), resp.Dicom.State)
}

func TestServer_HealthEndpoints(t *testing.T) {
	repo := repository.NewMemory()
	reporter := health.New()
	infer := inference.New(repo, noopRetriever{}, noopSubmitter{}, t.TempDir())
	srv := New(context.Background(), repo, repo, infer, reporter)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	reporter.SetStatus("scp", types.ServiceStatusCancelled)
	req = httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health/status", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
