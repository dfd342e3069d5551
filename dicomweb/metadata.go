package dicomweb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nvidia-clara/dicom-adapter/errors"
)

// QIDOStudiesQuery builds a QIDO-RS studies search: patientID and
// accessionNumber are optional filters, includeFields adds
// includefield parameters, and limit/offset page the result when
// positive.
type QIDOStudiesQuery struct {
	PatientID       string
	AccessionNumber string
	IncludeFields   []string
	FuzzyMatching   bool
	Limit           int
	Offset          int
}

func (q QIDOStudiesQuery) values() url.Values {
	v := url.Values{}
	if q.PatientID != "" {
		v.Set("PatientID", q.PatientID)
	}
	if q.AccessionNumber != "" {
		v.Set("AccessionNumber", q.AccessionNumber)
	}
	for _, f := range q.IncludeFields {
		v.Add("includefield", f)
	}
	if q.FuzzyMatching {
		v.Set("fuzzymatching", "true")
	}
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", fmt.Sprintf("%d", q.Offset))
	}
	return v
}

// QIDOStudies searches for studies via QIDO-RS, returning each
// result's raw DICOM+JSON object.
func (c *Client) QIDOStudies(ctx context.Context, query QIDOStudiesQuery) ([]json.RawMessage, error) {
	return c.getJSONArray(ctx, "studies/?"+query.values().Encode())
}

// WADOStudyMetadata fetches a study's metadata via WADO-RS
// (".../metadata"), returning each instance's raw DICOM+JSON object.
func (c *Client) WADOStudyMetadata(ctx context.Context, studyUID string) ([]json.RawMessage, error) {
	return c.getJSONArray(ctx, fmt.Sprintf("studies/%s/metadata", studyUID))
}

// WADOSeriesMetadata fetches one series' metadata via WADO-RS.
func (c *Client) WADOSeriesMetadata(ctx context.Context, studyUID, seriesUID string) ([]json.RawMessage, error) {
	return c.getJSONArray(ctx, fmt.Sprintf("studies/%s/series/%s/metadata", studyUID, seriesUID))
}

func (c *Client) getJSONArray(ctx context.Context, path string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.root+path, nil)
	if err != nil {
		return nil, errors.NewFatalError("dicomweb.getJSONArray", err)
	}
	req.Header.Set("Accept", "application/dicom+json")
	c.auth.apply(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewTransientIOError("dicomweb.getJSONArray", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewProtocolError("dicomweb.getJSONArray", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, path))
	}

	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, errors.NewProtocolError("dicomweb.getJSONArray", fmt.Errorf("decode json array: %w", err))
	}
	return items, nil
}
