package health

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nvidia-clara/dicom-adapter/types"
)

func TestReporter_ReadinessRequiresAllServicesRunning(t *testing.T) {
	r := New()
	r.SetStatus("scp", types.ServiceStatusRunning)
	r.SetStatus("export", types.ServiceStatusStopped)

	assert.False(t, r.Readiness())

	r.SetStatus("export", types.ServiceStatusRunning)
	assert.True(t, r.Readiness())
}

func TestReporter_LivenessFailsOnAnyCancelled(t *testing.T) {
	r := New()
	r.SetStatus("scp", types.ServiceStatusRunning)
	assert.True(t, r.Liveness())

	r.SetStatus("reclaimer", types.ServiceStatusCancelled)
	assert.False(t, r.Liveness())
}

func TestReporter_StatusReportsAssociationCountAndServiceMap(t *testing.T) {
	r := New()
	r.SetStatus("scp", types.ServiceStatusRunning)
	r.IncrementAssociations()
	r.IncrementAssociations()
	r.DecrementAssociations()

	report := r.Status()
	assert.Equal(t, 1, report.ActiveAssociations)
	assert.Equal(t, types.ServiceStatusRunning, report.Services["scp"])
}

func TestReporter_ReadinessIsTrueWithNoServicesReportedYet(t *testing.T) {
	r := New()
	assert.True(t, r.Readiness()) // vacuously true: nothing known to be not-Running
	assert.True(t, r.Liveness())
}
