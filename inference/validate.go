// Package inference implements InferenceRequestRetrieval (spec.md
// §4.5): validating a Queued InferenceRequest, retrieving its input
// instances over DICOMweb, and handing the result off for job
// submission.
package inference

import (
	"fmt"

	"github.com/nvidia-clara/dicom-adapter/errors"
	"github.com/nvidia-clara/dicom-adapter/types"
)

// validate checks the preconditions spec.md §4.5 step 1 requires
// before any retrieval work starts.
func validate(req types.InferenceRequest) error {
	if req.TransactionID == "" {
		return errors.NewRequestValidationError("inference.validate", fmt.Errorf("transactionID is required"))
	}

	algorithmCount := 0
	retrievalCount := 0
	for _, res := range req.InputResources {
		switch res.Kind {
		case types.ResourceKindAlgorithm:
			algorithmCount++
		case types.ResourceKindDICOMweb:
			retrievalCount++
			if err := validateDetails(res.InputMetadata.Details); err != nil {
				return err
			}
		}
	}

	if algorithmCount != 1 {
		return errors.NewRequestValidationError("inference.validate",
			fmt.Errorf("exactly one Algorithm input resource is required, got %d", algorithmCount))
	}
	if retrievalCount == 0 {
		return errors.NewRequestValidationError("inference.validate",
			fmt.Errorf("at least one retrieval resource is required"))
	}
	return nil
}

func validateDetails(d types.InputDetails) error {
	switch d.Type {
	case types.DetailsDICOMUID:
		if len(d.Studies) == 0 {
			return errors.NewRequestValidationError("inference.validateDetails", fmt.Errorf("DICOM_UID details require at least one study"))
		}
		for _, s := range d.Studies {
			if s.StudyInstanceUID == "" {
				return errors.NewRequestValidationError("inference.validateDetails", fmt.Errorf("DICOM_UID study missing StudyInstanceUID"))
			}
		}
	case types.DetailsDICOMPatientID:
		if d.PatientID == "" {
			return errors.NewRequestValidationError("inference.validateDetails", fmt.Errorf("DICOM_PATIENT_ID details require PatientID"))
		}
	case types.DetailsAccessionNumber:
		if len(d.AccessionNumbers) == 0 {
			return errors.NewRequestValidationError("inference.validateDetails", fmt.Errorf("ACCESSION_NUMBER details require at least one accession number"))
		}
	default:
		return errors.NewRequestValidationError("inference.validateDetails", fmt.Errorf("unsupported input details type %q", d.Type))
	}
	return nil
}
