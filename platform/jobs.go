package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nvidia-clara/dicom-adapter/errors"
	"github.com/nvidia-clara/dicom-adapter/types"
)

// JobCreateParams is the §4.9 platform job creation request. ClientJobID
// is the caller's own job identifier, passed through as the platform's
// idempotency key so a retried Create after a response timeout never
// creates a second platform job for the same local job record.
type JobCreateParams struct {
	ClientJobID string
	PipelineID  string
	JobName     string
	Priority    types.Priority
}

// JobCreateResult carries the payload identifier the platform assigns
// a new job.
type JobCreateResult struct {
	PayloadID string
}

// Jobs creates and starts platform jobs. Both operations are
// idempotent on ClientJobID per spec.md §6.
type Jobs interface {
	Create(ctx context.Context, params JobCreateParams) (JobCreateResult, error)
	Start(ctx context.Context, jobID string) error
}

// HTTPJobs is the circuit-breaker-wrapped HTTP implementation of Jobs.
type HTTPJobs struct {
	baseURL string
	client  *http.Client
	breaker *gobreakerDo
	logger  *slog.Logger
}

// NewHTTPJobs builds an HTTPJobs client against baseURL (e.g.
// "http://host:port"). logger is optional; when omitted, slog.Default()
// is used.
func NewHTTPJobs(baseURL string, client *http.Client, logger ...*slog.Logger) *HTTPJobs {
	l := resolveLogger(logger)
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPJobs{baseURL: baseURL, client: client, breaker: newGobreakerDo(newBreaker("platform.jobs", l)), logger: l}
}

func (j *HTTPJobs) Create(ctx context.Context, params JobCreateParams) (JobCreateResult, error) {
	body, err := json.Marshal(struct {
		ClientJobID string `json:"clientJobId"`
		PipelineID  string `json:"pipelineId"`
		JobName     string `json:"jobName"`
		Priority    string `json:"priority"`
	}{params.ClientJobID, params.PipelineID, params.JobName, string(params.Priority)})
	if err != nil {
		return JobCreateResult{}, errors.NewFatalError("platform.Jobs.Create", err)
	}

	var result JobCreateResult
	err = j.breaker.do(func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/jobs", bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		resp, doErr := j.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("platform returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	})
	if err != nil {
		return JobCreateResult{}, errors.NewTransientIOError("platform.Jobs.Create", err)
	}
	return result, nil
}

func (j *HTTPJobs) Start(ctx context.Context, jobID string) error {
	err := j.breaker.do(func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/jobs/"+jobID+"/start", nil)
		if reqErr != nil {
			return reqErr
		}
		resp, doErr := j.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("platform returned status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return errors.NewTransientIOError("platform.Jobs.Start", err)
	}
	return nil
}

// FakeJobs is an in-memory Jobs implementation for tests. Create is
// idempotent on ClientJobID: a second Create for an already-created
// ClientJobID returns the same PayloadID without minting a new one.
type FakeJobs struct {
	Created map[string]JobCreateResult
	Started map[string]bool
	nextID  int
}

// NewFakeJobs builds an empty FakeJobs.
func NewFakeJobs() *FakeJobs {
	return &FakeJobs{Created: make(map[string]JobCreateResult), Started: make(map[string]bool)}
}

func (f *FakeJobs) Create(ctx context.Context, params JobCreateParams) (JobCreateResult, error) {
	if result, ok := f.Created[params.ClientJobID]; ok {
		return result, nil
	}
	f.nextID++
	result := JobCreateResult{PayloadID: fmt.Sprintf("payload-%d", f.nextID)}
	f.Created[params.ClientJobID] = result
	return result, nil
}

func (f *FakeJobs) Start(ctx context.Context, jobID string) error {
	if _, ok := f.Created[jobID]; !ok {
		return fmt.Errorf("platform.FakeJobs.Start: unknown job %s", jobID)
	}
	f.Started[jobID] = true
	return nil
}
