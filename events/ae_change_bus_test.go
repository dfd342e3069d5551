package events

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nvidia-clara/dicom-adapter/types"
)

func TestApplicationEntityChangeBus_PublishDeliversKindAndAE(t *testing.T) {
	bus := NewApplicationEntityChangeBus()

	var got ApplicationEntityChange
	bus.Subscribe(func(change ApplicationEntityChange) {
		got = change
	})

	ae := types.LocalApplicationEntity{Name: "clara1", AETitle: "CLARA1"}
	bus.Publish(ApplicationEntityChange{Kind: ChangeAdded, AE: ae})

	assert.Equal(t, ChangeAdded, got.Kind)
	assert.Equal(t, "CLARA1", got.AE.AETitle)
}

func TestApplicationEntityChangeBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewApplicationEntityChangeBus()

	calls := 0
	token := bus.Subscribe(func(change ApplicationEntityChange) {
		calls++
	})
	bus.Unsubscribe(token)

	bus.Publish(ApplicationEntityChange{Kind: ChangeDeleted})

	assert.Equal(t, 0, calls)
}
