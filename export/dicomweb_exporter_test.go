package export

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvidia-clara/dicom-adapter/dicom"
	"github.com/nvidia-clara/dicom-adapter/dicomweb"
	"github.com/nvidia-clara/dicom-adapter/types"
)

type fakeStorer struct {
	calls   [][][]byte
	results []dicomweb.STOWResult
}

func (f *fakeStorer) Store(ctx context.Context, studyUID string, files [][]byte) (dicomweb.STOWResult, error) {
	idx := len(f.calls)
	f.calls = append(f.calls, files)
	return f.results[idx], nil
}

func datasets(n int) []*dicom.Dataset {
	out := make([]*dicom.Dataset, n)
	for i := range out {
		ds := dicom.NewDataset()
		ds.AddElement(sopInstanceUIDTag, "UI", "sop")
		out[i] = ds
	}
	return out
}

func TestDICOMwebExporter_ChunksIntoGroupsOfTen(t *testing.T) {
	storer := &fakeStorer{results: []dicomweb.STOWResult{
		{StatusCode: http.StatusOK},
		{StatusCode: http.StatusOK},
	}}
	exporter := NewDICOMwebExporter(storer)

	successCount, failureCount := exporter.Export(context.Background(), OutputJob{Task: types.ExportTask{TaskID: "t1"}}, datasets(15))

	require.Len(t, storer.calls, 2)
	assert.Len(t, storer.calls[0], 10)
	assert.Len(t, storer.calls[1], 5)
	assert.Equal(t, 15, successCount)
	assert.Equal(t, 0, failureCount)
}

func TestDICOMwebExporter_NonOKGroupCountsAsFailure(t *testing.T) {
	storer := &fakeStorer{results: []dicomweb.STOWResult{
		{StatusCode: http.StatusConflict},
	}}
	exporter := NewDICOMwebExporter(storer)

	successCount, failureCount := exporter.Export(context.Background(), OutputJob{Task: types.ExportTask{TaskID: "t1"}}, datasets(3))

	assert.Equal(t, 0, successCount)
	assert.Equal(t, 3, failureCount)
}
