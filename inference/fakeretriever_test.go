package inference

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nvidia-clara/dicom-adapter/dicom"
	"github.com/nvidia-clara/dicom-adapter/dicomweb"
	"github.com/nvidia-clara/dicom-adapter/errors"
)

// fakeRetriever is an in-memory Retriever for tests, keyed by the
// same (studyUID, seriesUID, sopInstanceUID) coordinates a real
// dicomweb.Client would be addressed with.
type fakeRetriever struct {
	studies   map[string][]*dicom.Dataset
	series    map[[2]string][]*dicom.Dataset
	instances map[[3]string]*dicom.Dataset
	qido      map[string][]json.RawMessage // keyed by PatientID or AccessionNumber
	failErr   error
}

func newFakeRetriever() *fakeRetriever {
	return &fakeRetriever{
		studies:   map[string][]*dicom.Dataset{},
		series:    map[[2]string][]*dicom.Dataset{},
		instances: map[[3]string]*dicom.Dataset{},
		qido:      map[string][]json.RawMessage{},
	}
}

func (f *fakeRetriever) RetrieveStudy(ctx context.Context, studyUID string, transferSyntaxes []string) ([]*dicom.Dataset, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	datasets, ok := f.studies[studyUID]
	if !ok {
		return nil, errors.NewProtocolError("fakeRetriever.RetrieveStudy", fmt.Errorf("unknown study %s", studyUID))
	}
	return datasets, nil
}

func (f *fakeRetriever) RetrieveSeries(ctx context.Context, studyUID, seriesUID string, transferSyntaxes []string) ([]*dicom.Dataset, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	datasets, ok := f.series[[2]string{studyUID, seriesUID}]
	if !ok {
		return nil, errors.NewProtocolError("fakeRetriever.RetrieveSeries", fmt.Errorf("unknown series %s/%s", studyUID, seriesUID))
	}
	return datasets, nil
}

func (f *fakeRetriever) RetrieveInstance(ctx context.Context, studyUID, seriesUID, sopInstanceUID string, transferSyntaxes []string) (*dicom.Dataset, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	ds, ok := f.instances[[3]string{studyUID, seriesUID, sopInstanceUID}]
	if !ok {
		return nil, errors.NewProtocolError("fakeRetriever.RetrieveInstance", fmt.Errorf("unknown instance %s/%s/%s", studyUID, seriesUID, sopInstanceUID))
	}
	return ds, nil
}

func (f *fakeRetriever) QIDOStudies(ctx context.Context, query dicomweb.QIDOStudiesQuery) ([]json.RawMessage, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	key := query.PatientID
	if key == "" {
		key = query.AccessionNumber
	}
	return f.qido[key], nil
}

func qidoResultFor(studyUID string) json.RawMessage {
	raw, _ := json.Marshal(map[string]dicomJSONElement{
		studyInstanceUIDTagKey: {VR: "UI", Value: []string{studyUID}},
	})
	return raw
}
