// Package interfaces contains all service and handler interfaces
package interfaces

import (
	"context"

	"github.com/nvidia-clara/dicom-adapter/dicom"
	"github.com/nvidia-clara/dicom-adapter/types"
)

// MessageContext carries per-message metadata the DIMSE layer has
// already resolved before invoking a handler: the presentation context
// the message arrived on, its negotiated transfer syntax, and (when a
// dataset was present) the dataset already decoded from the wire.
type MessageContext struct {
	PresentationContextID byte
	TransferSyntaxUID     string
	Dataset               *dicom.Dataset
	CalledAETitle         string
}

// ServiceHandler handles a single-response DIMSE operation (C-ECHO,
// C-STORE). The returned dataset, if any, is encoded by the DIMSE layer
// using the transfer syntax negotiated for the presentation context.
type ServiceHandler interface {
	HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta MessageContext) (*types.Message, *dicom.Dataset, error)
}

// DIMSEHandler is how the PDU layer hands a reassembled DIMSE message
// to the DIMSE layer.
type DIMSEHandler interface {
	HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer PDULayer) error
}

// PDULayer is how the DIMSE layer sends a response back down through
// the PDU layer.
type PDULayer interface {
	SendDIMSEResponse(presContextID byte, commandData []byte) error
	SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, dataset []byte) error
	CalledAETitle() string
}
