package aehandler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvidia-clara/dicom-adapter/events"
	"github.com/nvidia-clara/dicom-adapter/types"
)

func testAE() types.LocalApplicationEntity {
	return types.LocalApplicationEntity{
		Name:    "clara1",
		AETitle: "CLARA1",
		IgnoredSOPClasses: map[string]struct{}{
			"1.2.840.10008.5.1.4.1.1.7": {},
		},
	}
}

func TestHandleInstance_DropsIgnoredSOPClass(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewInstanceNotificationBus()
	h := New(testAE(), dir, bus)

	var published bool
	bus.Subscribe(func(types.InstanceStorageInfo) { published = true })

	info := types.InstanceStorageInfo{SOPInstanceUID: "1.2.3", SOPClassUID: "1.2.840.10008.5.1.4.1.1.7"}
	stored, err := h.HandleInstance(context.Background(), info, []byte("data"))

	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, published)
}

func TestHandleInstance_WritesAndPublishes(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewInstanceNotificationBus()
	h := New(testAE(), dir, bus)

	received := make(chan types.InstanceStorageInfo, 1)
	bus.Subscribe(func(info types.InstanceStorageInfo) { received <- info })

	info := types.InstanceStorageInfo{SOPInstanceUID: "1.2.3", SOPClassUID: "1.2.840.10008.5.1.4.1.1.4"}
	stored, err := h.HandleInstance(context.Background(), info, []byte("payload"))
	require.NoError(t, err)
	assert.True(t, stored)

	path := h.StoragePath("1.2.3")
	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(contents))

	select {
	case got := <-received:
		assert.Equal(t, path, got.StoragePath)
		assert.Equal(t, "CLARA1", got.CalledAETitle)
	default:
		t.Fatal("expected publish")
	}
}

func TestHandleInstance_SkipsDuplicateWhenOverwriteDisabled(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewInstanceNotificationBus()
	ae := testAE()
	ae.OverwriteSameInstance = false
	h := New(ae, dir, bus)

	info := types.InstanceStorageInfo{SOPInstanceUID: "1.2.3", SOPClassUID: "1.2.840.10008.5.1.4.1.1.4"}
	_, err := h.HandleInstance(context.Background(), info, []byte("first"))
	require.NoError(t, err)

	stored, err := h.HandleInstance(context.Background(), info, []byte("second"))
	require.NoError(t, err)
	assert.False(t, stored)

	contents, err := os.ReadFile(h.StoragePath("1.2.3"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(contents))
}

func TestHandleInstance_OverwritesWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewInstanceNotificationBus()
	ae := testAE()
	ae.OverwriteSameInstance = true
	h := New(ae, dir, bus)

	info := types.InstanceStorageInfo{SOPInstanceUID: "1.2.3", SOPClassUID: "1.2.840.10008.5.1.4.1.1.4"}
	_, err := h.HandleInstance(context.Background(), info, []byte("first"))
	require.NoError(t, err)

	stored, err := h.HandleInstance(context.Background(), info, []byte("second"))
	require.NoError(t, err)
	assert.True(t, stored)

	contents, err := os.ReadFile(h.StoragePath("1.2.3"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(contents))
}

func TestReset_RemovesAndRecreatesStorageSubtree(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewInstanceNotificationBus()
	h := New(testAE(), dir, bus)

	info := types.InstanceStorageInfo{SOPInstanceUID: "1.2.3", SOPClassUID: "1.2.840.10008.5.1.4.1.1.4"}
	_, err := h.HandleInstance(context.Background(), info, []byte("data"))
	require.NoError(t, err)

	require.NoError(t, h.Reset())

	aeDir := filepath.Join(dir, "CLARA1")
	entries, err := os.ReadDir(aeDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSanitize_ReplacesUnsafeCharacters(t *testing.T) {
	assert.Equal(t, "A_B.C-D_1", Sanitize("A/B.C-D:1"))
}

func TestValidateProcessorSettings_RequiresPipelineSetting(t *testing.T) {
	ae := types.LocalApplicationEntity{
		AETitle: "CLARA1",
		ProcessorSettings: []types.KeyValue{
			{Key: "model-name", Value: "segmentation"},
		},
	}
	err := ValidateProcessorSettings(ae, map[string]bool{"model-name": true})
	assert.Error(t, err)
}

func TestValidateProcessorSettings_AcceptsKnownSettingsWithPipeline(t *testing.T) {
	ae := types.LocalApplicationEntity{
		AETitle: "CLARA1",
		ProcessorSettings: []types.KeyValue{
			{Key: "model-name", Value: "segmentation"},
			{Key: "pipeline-id", Value: "abc"},
		},
	}
	err := ValidateProcessorSettings(ae, map[string]bool{"model-name": true})
	assert.NoError(t, err)
}

func TestValidateProcessorSettings_RejectsUnrecognizedKey(t *testing.T) {
	ae := types.LocalApplicationEntity{
		AETitle: "CLARA1",
		ProcessorSettings: []types.KeyValue{
			{Key: "unknown-key", Value: "x"},
			{Key: "pipeline-id", Value: "abc"},
		},
	}
	err := ValidateProcessorSettings(ae, map[string]bool{"model-name": true})
	assert.Error(t, err)
}
