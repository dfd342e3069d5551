// Package platform models the outbound job-execution platform and
// results service (spec.md §6) as three interfaces — Jobs, Payloads,
// Results — each with an HTTP implementation and an in-memory fake
// used by this package's own tests.
package platform

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// newBreaker builds a circuit breaker around an outbound client named
// name, logging state transitions. Settings mirror the notification
// circuit breaker wiring used elsewhere in the retrieved pack: a small
// half-open probe budget, a short reset interval, and trip-after-3
// consecutive failures.
func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(breakerName string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", breakerName, "from", from, "to", to)
		},
	})
}
