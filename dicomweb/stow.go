package dicomweb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/nvidia-clara/dicom-adapter/errors"
)

// STOWResult is the per-SOP status payload a STOW-RS response
// carries. FailedSOPSequence is populated only when some instances
// failed; SuccessCount lets callers avoid decoding it when a 200 means
// every instance stored.
type STOWResult struct {
	StatusCode        int
	SuccessCount      int
	FailedSOPSequence []json.RawMessage
}

// Store POSTs files as a multipart/related STOW-RS request. studyUID,
// when non-empty, scopes the request to "studies/<uid>/" (a
// study-level store); empty stores to the bare "studies/" root.
// A 200 response means every instance stored; anything else is
// reported as STOWResult with the response's FailedSOPSequence, which
// the caller (the export pipeline) interprets as partial failure.
func (c *Client) Store(ctx context.Context, studyUID string, files [][]byte) (STOWResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, data := range files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "application/dicom")
		part, err := writer.CreatePart(header)
		if err != nil {
			return STOWResult{}, errors.NewFatalError("dicomweb.Store", err)
		}
		if _, err := part.Write(data); err != nil {
			return STOWResult{}, errors.NewFatalError("dicomweb.Store", err)
		}
	}
	if err := writer.Close(); err != nil {
		return STOWResult{}, errors.NewFatalError("dicomweb.Store", err)
	}

	path := "studies/"
	if studyUID != "" {
		path = fmt.Sprintf("studies/%s/", studyUID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.root+path, body)
	if err != nil {
		return STOWResult{}, errors.NewFatalError("dicomweb.Store", err)
	}
	req.Header.Set("Content-Type", `multipart/related; type="application/dicom"; boundary=`+writer.Boundary())
	req.Header.Set("Accept", "application/dicom+json")
	c.auth.apply(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return STOWResult{}, errors.NewTransientIOError("dicomweb.Store", err)
	}
	defer resp.Body.Close()

	result := STOWResult{StatusCode: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		result.SuccessCount = len(files)
		return result, nil
	}

	var decoded struct {
		FailedSOPSequence []json.RawMessage `json:"FailedSOPSequence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil {
		result.FailedSOPSequence = decoded.FailedSOPSequence
		result.SuccessCount = len(files) - len(decoded.FailedSOPSequence)
	}
	return result, nil
}
