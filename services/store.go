package services

import (
	"context"
	"log/slog"

	"github.com/nvidia-clara/dicom-adapter/aehandler"
	"github.com/nvidia-clara/dicom-adapter/dicom"
	"github.com/nvidia-clara/dicom-adapter/dimse"
	"github.com/nvidia-clara/dicom-adapter/interfaces"
	"github.com/nvidia-clara/dicom-adapter/types"
)

var (
	studyInstanceUIDTag  = dicom.Tag{Group: 0x0020, Element: 0x000D}
	seriesInstanceUIDTag = dicom.Tag{Group: 0x0020, Element: 0x000E}
	sopInstanceUIDTag    = dicom.Tag{Group: 0x0008, Element: 0x0018}
	sopClassUIDTag       = dicom.Tag{Group: 0x0008, Element: 0x0016}
	patientIDTag         = dicom.Tag{Group: 0x0010, Element: 0x0020}
)

// StoreService handles C-STORE requests arriving on a single shared
// scp.port, dispatching each to the aehandler.Handler configured for
// the association's called AE title (spec.md §4.1, §4.3).
//
// A single server.Server instance serves every configured
// LocalApplicationEntity; the called AE title negotiated during
// association is the only signal that tells this handler which one an
// incoming instance belongs to.
type StoreService struct {
	handlers map[string]*aehandler.Handler
	logger   *slog.Logger
}

// NewStoreService builds a StoreService dispatching to handlers, keyed
// by LocalApplicationEntity.AETitle.
func NewStoreService(handlers map[string]*aehandler.Handler, logger ...*slog.Logger) *StoreService {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &StoreService{handlers: handlers, logger: l}
}

// HandleDIMSE processes a C-STORE request: it looks up the handler for
// the association's called AE title and, if found, applies that AE's
// storage decision rules to the incoming instance.
func (s *StoreService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	response := &types.Message{
		CommandField:              dimse.CStoreRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    msg.AffectedSOPInstanceUID,
		CommandDataSetType:        0x0101,
		Status:                    dimse.StatusSuccess,
	}

	handler, ok := s.handlers[meta.CalledAETitle]
	if !ok {
		s.logger.WarnContext(ctx, "C-STORE for unconfigured called AE title",
			"called_ae", meta.CalledAETitle, "sop_instance_uid", msg.AffectedSOPInstanceUID)
		response.Status = dimse.StatusFailure
		return response, nil, nil
	}

	if meta.Dataset == nil {
		s.logger.WarnContext(ctx, "C-STORE with no dataset",
			"called_ae", meta.CalledAETitle, "sop_instance_uid", msg.AffectedSOPInstanceUID)
		response.Status = dimse.StatusFailure
		return response, nil, nil
	}

	info := instanceInfoFromDataset(meta.Dataset, msg.AffectedSOPClassUID)
	if info.SOPInstanceUID == "" {
		info.SOPInstanceUID = msg.AffectedSOPInstanceUID
	}

	stored, err := handler.HandleInstance(ctx, info, data)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to store C-STORE instance",
			"called_ae", meta.CalledAETitle, "sop_instance_uid", info.SOPInstanceUID, "error", err)
		response.Status = dimse.StatusFailure
		return response, nil, nil
	}

	s.logger.InfoContext(ctx, "C-STORE instance processed",
		"called_ae", meta.CalledAETitle, "sop_instance_uid", info.SOPInstanceUID, "stored", stored)
	return response, nil, nil
}

func instanceInfoFromDataset(ds *dicom.Dataset, sopClassUID string) types.InstanceStorageInfo {
	info := types.InstanceStorageInfo{
		SOPInstanceUID:    ds.GetString(sopInstanceUIDTag),
		StudyInstanceUID:  ds.GetString(studyInstanceUIDTag),
		SeriesInstanceUID: ds.GetString(seriesInstanceUIDTag),
		PatientID:         ds.GetString(patientIDTag),
		SOPClassUID:       sopClassUID,
	}
	if cls := ds.GetString(sopClassUIDTag); cls != "" {
		info.SOPClassUID = cls
	}
	return info
}
