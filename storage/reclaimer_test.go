package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvidia-clara/dicom-adapter/types"
)

func TestReclaimer_RemovesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instance.dcm")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	q := NewCleanupQueue()
	q.Push(path)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewReclaimer(q)

	statuses := make(chan types.ServiceStatus, 4)
	go r.Run(ctx, func(s types.ServiceStatus) { statuses <- s })

	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, time.Second, 5*time.Millisecond)

	cancel()
}

func TestReclaimer_MissingFileIsNotAnError(t *testing.T) {
	q := NewCleanupQueue()
	q.Push("/nonexistent/path/instance.dcm")

	r := NewReclaimer(q)
	assert.NotPanics(t, func() {
		r.reclaim("/nonexistent/path/instance.dcm")
	})
}
