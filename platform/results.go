package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/nvidia-clara/dicom-adapter/errors"
	"github.com/nvidia-clara/dicom-adapter/types"
)

// Results retrieves pending export tasks and reports their outcome.
// All three operations are idempotent on TaskID per spec.md §6.
type Results interface {
	GetPending(ctx context.Context, agent string, limit int) ([]types.ExportTask, error)
	ReportSuccess(ctx context.Context, taskID string) error
	ReportFailure(ctx context.Context, taskID string, retry bool) error
}

// HTTPResults is the circuit-breaker-wrapped HTTP implementation of
// Results.
type HTTPResults struct {
	baseURL string
	client  *http.Client
	breaker *gobreakerDo
	logger  *slog.Logger
}

// NewHTTPResults builds an HTTPResults client against baseURL. logger
// is optional; when omitted, slog.Default() is used.
func NewHTTPResults(baseURL string, client *http.Client, logger ...*slog.Logger) *HTTPResults {
	l := resolveLogger(logger)
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPResults{baseURL: baseURL, client: client, breaker: newGobreakerDo(newBreaker("platform.results", l)), logger: l}
}

func (r *HTTPResults) GetPending(ctx context.Context, agent string, limit int) ([]types.ExportTask, error) {
	var tasks []types.ExportTask
	err := r.breaker.do(func() error {
		q := url.Values{}
		q.Set("agent", agent)
		q.Set("limit", strconv.Itoa(limit))
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/tasks/pending?"+q.Encode(), nil)
		if reqErr != nil {
			return reqErr
		}
		resp, doErr := r.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("results service returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&tasks)
	})
	if err != nil {
		return nil, errors.NewTransientIOError("platform.Results.GetPending", err)
	}
	return tasks, nil
}

func (r *HTTPResults) ReportSuccess(ctx context.Context, taskID string) error {
	return r.report(ctx, taskID, "success", false)
}

func (r *HTTPResults) ReportFailure(ctx context.Context, taskID string, retry bool) error {
	return r.report(ctx, taskID, "failure", retry)
}

func (r *HTTPResults) report(ctx context.Context, taskID, outcome string, retry bool) error {
	err := r.breaker.do(func() error {
		q := url.Values{}
		q.Set("retry", strconv.FormatBool(retry))
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost,
			r.baseURL+"/tasks/"+taskID+"/"+outcome+"?"+q.Encode(), nil)
		if reqErr != nil {
			return reqErr
		}
		resp, doErr := r.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("results service returned status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return errors.NewTransientIOError("platform.Results.report", err)
	}
	return nil
}

// FakeResults is an in-memory Results implementation for tests.
type FakeResults struct {
	mu       sync.Mutex
	Pending  []types.ExportTask
	Success  []string
	Failures map[string]bool // taskID -> retry
}

// NewFakeResults builds a FakeResults seeded with pending.
func NewFakeResults(pending []types.ExportTask) *FakeResults {
	return &FakeResults{Pending: pending, Failures: make(map[string]bool)}
}

func (f *FakeResults) GetPending(ctx context.Context, agent string, limit int) ([]types.ExportTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > 0 && limit < len(f.Pending) {
		return append([]types.ExportTask(nil), f.Pending[:limit]...), nil
	}
	return append([]types.ExportTask(nil), f.Pending...), nil
}

func (f *FakeResults) ReportSuccess(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Success = append(f.Success, taskID)
	return nil
}

func (f *FakeResults) ReportFailure(ctx context.Context, taskID string, retry bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Failures[taskID] = retry
	return nil
}
