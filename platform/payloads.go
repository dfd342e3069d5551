package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/nvidia-clara/dicom-adapter/errors"
)

// Payloads uploads instance files to a job's payload and downloads
// export task URIs.
type Payloads interface {
	Upload(ctx context.Context, payloadID, relativePath string, data []byte) error
	Download(ctx context.Context, payloadID, uri string) ([]byte, error)
}

// HTTPPayloads is the circuit-breaker-wrapped HTTP implementation of
// Payloads.
type HTTPPayloads struct {
	baseURL string
	client  *http.Client
	breaker *gobreakerDo
	logger  *slog.Logger
}

// NewHTTPPayloads builds an HTTPPayloads client against baseURL.
// logger is optional; when omitted, slog.Default() is used.
func NewHTTPPayloads(baseURL string, client *http.Client, logger ...*slog.Logger) *HTTPPayloads {
	l := resolveLogger(logger)
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPayloads{baseURL: baseURL, client: client, breaker: newGobreakerDo(newBreaker("platform.payloads", l)), logger: l}
}

func (p *HTTPPayloads) Upload(ctx context.Context, payloadID, relativePath string, data []byte) error {
	err := p.breaker.do(func() error {
		url := p.baseURL + "/payloads/" + payloadID + "/files/" + relativePath
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		resp, doErr := p.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("payload upload returned status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return errors.NewTransientIOError("platform.Payloads.Upload", err)
	}
	return nil
}

func (p *HTTPPayloads) Download(ctx context.Context, payloadID, uri string) ([]byte, error) {
	var data []byte
	err := p.breaker.do(func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if reqErr != nil {
			return reqErr
		}
		resp, doErr := p.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("payload download returned status %d", resp.StatusCode)
		}
		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return readErr
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, errors.NewTransientIOError("platform.Payloads.Download", err)
	}
	return data, nil
}

// FakePayloads is an in-memory Payloads implementation for tests.
type FakePayloads struct {
	mu        sync.Mutex
	Uploaded  map[string][]byte
	Downloads map[string][]byte
	FailURIs  map[string]bool
}

// NewFakePayloads builds an empty FakePayloads. Downloads is
// pre-populated by the caller to control what Download returns for a
// given uri; FailURIs marks a uri that should return an I/O error.
func NewFakePayloads() *FakePayloads {
	return &FakePayloads{
		Uploaded:  make(map[string][]byte),
		Downloads: make(map[string][]byte),
		FailURIs:  make(map[string]bool),
	}
}

func (f *FakePayloads) Upload(ctx context.Context, payloadID, relativePath string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploaded[payloadID+"/"+relativePath] = data
	return nil
}

func (f *FakePayloads) Download(ctx context.Context, payloadID, uri string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailURIs[uri] {
		return nil, fmt.Errorf("platform.FakePayloads.Download: simulated I/O error for %s", uri)
	}
	data, ok := f.Downloads[uri]
	if !ok {
		return nil, fmt.Errorf("platform.FakePayloads.Download: no fixture for %s", uri)
	}
	return data, nil
}
