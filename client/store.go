package client

import (
	"fmt"
	"log/slog"

	"github.com/nvidia-clara/dicom-adapter/dimse"
)

// CStoreRequest represents a C-STORE request
type CStoreRequest = dimse.CStoreRequest

// CStoreResponse represents a C-STORE response
type CStoreResponse = dimse.CStoreResponse

// SendCStore sends a C-STORE request and waits for response
func (a *Association) SendCStore(req *CStoreRequest) (*CStoreResponse, error) {
	presContextID, err := a.GetPresentationContextID(req.SOPClassUID)
	if err != nil {
		return nil, fmt.Errorf("no presentation context for SOP class %s: %w", req.SOPClassUID, err)
	}

	resp, err := dimse.SendCStore(a.conn, presContextID, a.maxPDULength, req)
	if err != nil {
		return nil, err
	}

	slog.Debug("Sent C-STORE-RQ",
		"sop_class", req.SOPClassUID,
		"sop_instance", req.SOPInstanceUID,
		"data_size", len(req.Data))

	return resp, nil
}
