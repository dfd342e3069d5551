package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvidia-clara/dicom-adapter/types"
)

func TestHTTPResults_GetPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]types.ExportTask{{TaskID: "t1"}})
	}))
	defer srv.Close()

	client := NewHTTPResults(srv.URL, srv.Client())
	tasks, err := client.GetPending(context.Background(), "agent1", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].TaskID)
}

func TestHTTPResults_ReportSuccessAndFailure(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPResults(srv.URL, srv.Client())
	require.NoError(t, client.ReportSuccess(context.Background(), "t1"))
	require.NoError(t, client.ReportFailure(context.Background(), "t2", true))

	assert.Equal(t, []string{"/tasks/t1/success", "/tasks/t2/failure"}, paths)
}

func TestFakeResults_GetPendingRespectsLimit(t *testing.T) {
	fake := NewFakeResults([]types.ExportTask{{TaskID: "t1"}, {TaskID: "t2"}, {TaskID: "t3"}})
	tasks, err := fake.GetPending(context.Background(), "agent1", 2)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestFakeResults_ReportsAreRecorded(t *testing.T) {
	fake := NewFakeResults(nil)
	require.NoError(t, fake.ReportSuccess(context.Background(), "t1"))
	require.NoError(t, fake.ReportFailure(context.Background(), "t2", true))
	assert.Equal(t, []string{"t1"}, fake.Success)
	assert.True(t, fake.Failures["t2"])
}
