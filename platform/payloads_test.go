package platform

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPPayloads_Upload(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payloads/payload-1/files/1.dcm", r.URL.Path)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPPayloads(srv.URL, srv.Client())
	err := client.Upload(context.Background(), "payload-1", "1.dcm", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(gotBody))
}

func TestHTTPPayloads_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload-bytes"))
	}))
	defer srv.Close()

	client := NewHTTPPayloads(srv.URL, srv.Client())
	data, err := client.Download(context.Background(), "payload-1", srv.URL+"/files/1.dcm")
	require.NoError(t, err)
	assert.Equal(t, "payload-bytes", string(data))
}

func TestFakePayloads_DownloadMissingFixtureErrors(t *testing.T) {
	fake := NewFakePayloads()
	_, err := fake.Download(context.Background(), "payload-1", "http://example/missing")
	assert.Error(t, err)
}

func TestFakePayloads_DownloadRespectsFailURIs(t *testing.T) {
	fake := NewFakePayloads()
	fake.Downloads["http://example/ok"] = []byte("ok")
	fake.FailURIs["http://example/ok"] = true

	_, err := fake.Download(context.Background(), "payload-1", "http://example/ok")
	assert.Error(t, err)
}

func TestFakePayloads_Upload(t *testing.T) {
	fake := NewFakePayloads()
	require.NoError(t, fake.Upload(context.Background(), "payload-1", "1.dcm", []byte("x")))
	assert.Equal(t, []byte("x"), fake.Uploaded["payload-1/1.dcm"])
}
