// Package health implements HealthReporter (spec.md §4.10): services
// publish a status, and readiness/liveness/status queries are derived
// from the aggregate.
package health

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvidia-clara/dicom-adapter/types"
)

var serviceStatusGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "dicom_adapter_service_status",
	Help: "Per-service status: 0 Unknown, 1 Stopped, 2 Running, 3 Cancelled",
}, []string{"service"})

var activeAssociationsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "dicom_adapter_active_associations",
	Help: "Number of currently open DIMSE associations",
})

func init() {
	prometheus.MustRegister(serviceStatusGauge, activeAssociationsGauge)
}

func statusValue(s types.ServiceStatus) float64 {
	switch s {
	case types.ServiceStatusStopped:
		return 1
	case types.ServiceStatusRunning:
		return 2
	case types.ServiceStatusCancelled:
		return 3
	default:
		return 0
	}
}

// Reporter aggregates every long-running service's last published
// status plus the active DIMSE association count.
type Reporter struct {
	mu           sync.RWMutex
	statuses     map[string]types.ServiceStatus
	associations int32
}

// New creates an empty Reporter.
func New() *Reporter {
	return &Reporter{statuses: make(map[string]types.ServiceStatus)}
}

// SetStatus records a service's current status. Intended to be passed
// as the statusFn callback long-running services like storage.Reclaimer
// already accept.
func (r *Reporter) SetStatus(service string, status types.ServiceStatus) {
	r.mu.Lock()
	r.statuses[service] = status
	r.mu.Unlock()
	serviceStatusGauge.WithLabelValues(service).Set(statusValue(status))
}

// IncrementAssociations records a newly opened DIMSE association.
func (r *Reporter) IncrementAssociations() {
	atomic.AddInt32(&r.associations, 1)
	activeAssociationsGauge.Set(float64(atomic.LoadInt32(&r.associations)))
}

// DecrementAssociations records a closed DIMSE association.
func (r *Reporter) DecrementAssociations() {
	atomic.AddInt32(&r.associations, -1)
	activeAssociationsGauge.Set(float64(atomic.LoadInt32(&r.associations)))
}

// Readiness reports healthy iff every known service is Running.
func (r *Reporter) Readiness() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, status := range r.statuses {
		if status != types.ServiceStatusRunning {
			return false
		}
	}
	return true
}

// Liveness reports healthy iff no known service is Cancelled.
func (r *Reporter) Liveness() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, status := range r.statuses {
		if status == types.ServiceStatusCancelled {
			return false
		}
	}
	return true
}

// StatusReport is the §4.10 status snapshot: active DIMSE connection
// count plus the per-service status map.
type StatusReport struct {
	ActiveAssociations int
	Services           map[string]types.ServiceStatus
}

// Status returns the current snapshot.
func (r *Reporter) Status() StatusReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	services := make(map[string]types.ServiceStatus, len(r.statuses))
	for name, status := range r.statuses {
		services[name] = status
	}
	return StatusReport{
		ActiveAssociations: int(atomic.LoadInt32(&r.associations)),
		Services:           services,
	}
}
