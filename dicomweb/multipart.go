package dicomweb

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/nvidia-clara/dicom-adapter/errors"
)

// decodeMultipartRelated reads every part of a multipart/related
// response body and returns their raw bytes in order. Returns a
// ResponseDecodeException-equivalent (ProtocolError) if the top-level
// media type is not multipart/related.
func decodeMultipartRelated(resp *http.Response) ([][]byte, error) {
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, errors.NewProtocolError("dicomweb.decodeMultipartRelated", fmt.Errorf("parse content-type: %w", err))
	}
	if mediaType != "multipart/related" {
		return nil, errors.NewProtocolError("dicomweb.decodeMultipartRelated",
			fmt.Errorf("expected multipart/related, got %s", mediaType))
	}

	boundary, ok := params["boundary"]
	if !ok {
		return nil, errors.NewProtocolError("dicomweb.decodeMultipartRelated", fmt.Errorf("missing multipart boundary"))
	}

	reader := multipart.NewReader(resp.Body, boundary)
	var parts [][]byte
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewProtocolError("dicomweb.decodeMultipartRelated", fmt.Errorf("read part: %w", err))
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, errors.NewProtocolError("dicomweb.decodeMultipartRelated", fmt.Errorf("read part body: %w", err))
		}
		parts = append(parts, data)
	}
	return parts, nil
}
