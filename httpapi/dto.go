package httpapi

import (
	"fmt"

	"github.com/nvidia-clara/dicom-adapter/types"
)

type seriesSelectorDTO struct {
	SeriesInstanceUID string   `json:"seriesInstanceUid"`
	SOPInstanceUIDs   []string `json:"sopInstanceUids,omitempty"`
}

type studySelectorDTO struct {
	StudyInstanceUID string              `json:"studyInstanceUid"`
	Series           []seriesSelectorDTO `json:"series,omitempty"`
}

type inputDetailsDTO struct {
	Type             string             `json:"type"`
	Studies          []studySelectorDTO `json:"studies,omitempty"`
	PatientID        string             `json:"patientId,omitempty"`
	AccessionNumbers []string           `json:"accessionNumbers,omitempty"`
}

type inputResourceDTO struct {
	Kind          string `json:"kind"`
	InputMetadata struct {
		Details inputDetailsDTO `json:"details"`
	} `json:"inputMetadata"`
}

// submitRequestDTO is the wire shape POST /api/inference accepts: the
// ACR-shaped request body, with the typed InputDetails union spelled
// out as plain JSON fields rather than Go's tagged-union idiom.
type submitRequestDTO struct {
	TransactionID   string             `json:"transactionId"`
	Priority        uint8              `json:"priority"`
	InputResources  []inputResourceDTO `json:"inputResources"`
	OutputResources []inputResourceDTO `json:"outputResources,omitempty"`
}

func (dto inputResourceDTO) toDomain() (types.InputResource, error) {
	var kind types.ResourceKind
	switch dto.Kind {
	case string(types.ResourceKindAlgorithm):
		kind = types.ResourceKindAlgorithm
	case string(types.ResourceKindDICOMweb):
		kind = types.ResourceKindDICOMweb
	default:
		return types.InputResource{}, fmt.Errorf("unrecognized input resource kind %q", dto.Kind)
	}

	details := types.InputDetails{Type: types.InputDetailsType(dto.InputMetadata.Details.Type)}
	switch details.Type {
	case types.DetailsDICOMUID:
		for _, s := range dto.InputMetadata.Details.Studies {
			study := types.StudySelector{StudyInstanceUID: s.StudyInstanceUID}
			for _, sr := range s.Series {
				study.Series = append(study.Series, types.SeriesSelector{
					SeriesInstanceUID: sr.SeriesInstanceUID,
					SOPInstanceUIDs:   sr.SOPInstanceUIDs,
				})
			}
			details.Studies = append(details.Studies, study)
		}
	case types.DetailsDICOMPatientID:
		details.PatientID = dto.InputMetadata.Details.PatientID
	case types.DetailsAccessionNumber:
		details.AccessionNumbers = dto.InputMetadata.Details.AccessionNumbers
	case "":
		// Algorithm resources carry no retrieval details.
	default:
		return types.InputResource{}, fmt.Errorf("unrecognized input details type %q", dto.InputMetadata.Details.Type)
	}

	return types.InputResource{Kind: kind, InputMetadata: types.InputMetadata{Details: details}}, nil
}

func (dto submitRequestDTO) toDomain() (types.InferenceRequest, error) {
	req := types.InferenceRequest{
		TransactionID: dto.TransactionID,
		Priority:      dto.Priority,
		State:         types.RequestStateQueued,
		Status:        types.RequestStatusUnknown,
	}
	for _, r := range dto.InputResources {
		resource, err := r.toDomain()
		if err != nil {
			return types.InferenceRequest{}, err
		}
		req.InputResources = append(req.InputResources, resource)
	}
	for _, r := range dto.OutputResources {
		resource, err := r.toDomain()
		if err != nil {
			return types.InferenceRequest{}, err
		}
		req.OutputResources = append(req.OutputResources, resource)
	}
	return req, nil
}

type submitResponseDTO struct {
	TransactionID string `json:"transactionId"`
	JobID         string `json:"jobId"`
	PayloadID     string `json:"payloadId"`
}

type platformStatusDTO struct {
	JobID     string `json:"jobId"`
	PayloadID string `json:"payloadId"`
	Status    string `json:"status"`
	State     string `json:"state"`
	Priority  uint8  `json:"priority"`
}

type dicomStatusDTO struct {
	State  string `json:"state"`
	Status string `json:"status"`
}

type statusResponseDTO struct {
	TransactionID string            `json:"transactionId"`
	Platform      platformStatusDTO `json:"platform"`
	Dicom         dicomStatusDTO    `json:"dicom"`
	Message       string            `json:"message,omitempty"`
}

func statusResponseFrom(req types.InferenceRequest, job types.InferenceJob) statusResponseDTO {
	return statusResponseDTO{
		TransactionID: req.TransactionID,
		Platform: platformStatusDTO{
			JobID:     req.JobID,
			PayloadID: req.PayloadID,
			Status:    string(req.Status),
			State:     string(job.State),
			Priority:  req.Priority,
		},
		Dicom: dicomStatusDTO{
			State:  string(req.State),
			Status: string(req.Status),
		},
	}
}
