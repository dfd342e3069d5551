package inference

import (
	"context"
	"encoding/json"

	"github.com/nvidia-clara/dicom-adapter/dicom"
	"github.com/nvidia-clara/dicom-adapter/dicomweb"
)

// Retriever is the DICOMweb surface InferenceRequestRetrieval needs.
// dicomweb.Client satisfies it; tests substitute a fake.
type Retriever interface {
	RetrieveStudy(ctx context.Context, studyUID string, transferSyntaxes []string) ([]*dicom.Dataset, error)
	RetrieveSeries(ctx context.Context, studyUID, seriesUID string, transferSyntaxes []string) ([]*dicom.Dataset, error)
	RetrieveInstance(ctx context.Context, studyUID, seriesUID, sopInstanceUID string, transferSyntaxes []string) (*dicom.Dataset, error)
	QIDOStudies(ctx context.Context, query dicomweb.QIDOStudiesQuery) ([]json.RawMessage, error)
}
