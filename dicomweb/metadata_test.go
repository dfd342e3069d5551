package dicomweb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQIDOStudies_BuildsQueryAndParsesJSONArray(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "application/dicom+json", r.Header.Get("Accept"))
		w.Write([]byte(`[{"0010,0020":{"vr":"LO","Value":["PID1"]}}]`))
	}))
	defer srv.Close()

	client := New(srv.URL, Auth{}, srv.Client())
	items, err := client.QIDOStudies(context.Background(), QIDOStudiesQuery{PatientID: "PID1", Limit: 5})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Contains(t, gotQuery, "PatientID=PID1")
	assert.Contains(t, gotQuery, "limit=5")
}

func TestWADOStudyMetadata_ParsesJSONArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/studies/1.2.3/metadata", r.URL.Path)
		w.Write([]byte(`[{"a":1},{"b":2}]`))
	}))
	defer srv.Close()

	client := New(srv.URL, Auth{}, srv.Client())
	items, err := client.WADOStudyMetadata(context.Background(), "1.2.3")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestGetJSONArray_NonOKIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(srv.URL, Auth{}, srv.Client())
	_, err := client.WADOStudyMetadata(context.Background(), "1.2.3")
	assert.Error(t, err)
}
