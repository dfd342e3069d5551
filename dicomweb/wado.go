package dicomweb

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nvidia-clara/dicom-adapter/dicom"
	"github.com/nvidia-clara/dicom-adapter/errors"
)

// RetrieveStudy fetches every instance of studyUID via WADO-RS,
// parsing each multipart part as a DICOM file.
func (c *Client) RetrieveStudy(ctx context.Context, studyUID string, transferSyntaxes []string) ([]*dicom.Dataset, error) {
	return c.wadoGet(ctx, fmt.Sprintf("studies/%s", studyUID), transferSyntaxes)
}

// RetrieveSeries fetches every instance of one series via WADO-RS.
func (c *Client) RetrieveSeries(ctx context.Context, studyUID, seriesUID string, transferSyntaxes []string) ([]*dicom.Dataset, error) {
	return c.wadoGet(ctx, fmt.Sprintf("studies/%s/series/%s", studyUID, seriesUID), transferSyntaxes)
}

// RetrieveInstance fetches a single SOP instance via WADO-RS.
func (c *Client) RetrieveInstance(ctx context.Context, studyUID, seriesUID, sopInstanceUID string, transferSyntaxes []string) (*dicom.Dataset, error) {
	datasets, err := c.wadoGet(ctx, fmt.Sprintf("studies/%s/series/%s/instances/%s", studyUID, seriesUID, sopInstanceUID), transferSyntaxes)
	if err != nil {
		return nil, err
	}
	if len(datasets) == 0 {
		return nil, errors.NewProtocolError("dicomweb.RetrieveInstance", fmt.Errorf("no instance returned for %s", sopInstanceUID))
	}
	return datasets[0], nil
}

// RetrieveBulkdata fetches a bulkdata URI, optionally scoped to a byte
// range ("Range: byte=<start>-[<end>]"); end < 0 means open-ended.
func (c *Client) RetrieveBulkdata(ctx context.Context, uri string, start, end int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, errors.NewFatalError("dicomweb.RetrieveBulkdata", err)
	}
	c.auth.apply(req)
	if start != 0 || end >= 0 {
		if end >= 0 {
			req.Header.Set("Range", fmt.Sprintf("byte=%d-%d", start, end))
		} else {
			req.Header.Set("Range", fmt.Sprintf("byte=%d-", start))
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewTransientIOError("dicomweb.RetrieveBulkdata", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, errors.NewProtocolError("dicomweb.RetrieveBulkdata", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	parts, err := decodeMultipartRelated(resp)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, errors.NewProtocolError("dicomweb.RetrieveBulkdata", fmt.Errorf("empty multipart response"))
	}
	return parts[0], nil
}

func (c *Client) wadoGet(ctx context.Context, path string, transferSyntaxes []string) ([]*dicom.Dataset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.root+path, nil)
	if err != nil {
		return nil, errors.NewFatalError("dicomweb.wadoGet", err)
	}
	req.Header.Set("Accept", wadoAcceptHeader(transferSyntaxes))
	c.auth.apply(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.NewTransientIOError("dicomweb.wadoGet", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewProtocolError("dicomweb.wadoGet", fmt.Errorf("unexpected status %d for %s", resp.StatusCode, path))
	}

	parts, err := decodeMultipartRelated(resp)
	if err != nil {
		return nil, err
	}

	datasets := make([]*dicom.Dataset, 0, len(parts))
	for _, part := range parts {
		ds, err := dicom.ParseDataset(part)
		if err != nil {
			return nil, errors.NewProtocolError("dicomweb.wadoGet", fmt.Errorf("parse dicom part: %w", err))
		}
		datasets = append(datasets, ds)
	}
	return datasets, nil
}
