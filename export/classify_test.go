package export

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	domainerrors "github.com/nvidia-clara/dicom-adapter/errors"
)

func TestClassifyAssociationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"abort", domainerrors.NewAbortError(0x00, 0x01), "association aborted"},
		{"rejected", domainerrors.NewAssociationError(domainerrors.RejectSourceServiceUser, domainerrors.RejectReasonNoReasonGiven, "nope"), "association rejected"},
		{"network", domainerrors.NewNetworkError("op", errors.New("boom")), "I/O with socket inner"},
		{"other", errors.New("something else"), "other"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyAssociationError(tt.err))
		})
	}
}
