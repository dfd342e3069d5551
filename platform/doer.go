package platform

import (
	"log/slog"

	"github.com/sony/gobreaker"
)

// gobreakerDo adapts gobreaker.CircuitBreaker's Execute (which returns
// (interface{}, error)) to the simpler "do(func() error) error" shape
// every client in this package calls through.
type gobreakerDo struct {
	cb *gobreaker.CircuitBreaker
}

func newGobreakerDo(cb *gobreaker.CircuitBreaker) *gobreakerDo {
	return &gobreakerDo{cb: cb}
}

func (g *gobreakerDo) do(fn func() error) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func resolveLogger(logger []*slog.Logger) *slog.Logger {
	if len(logger) > 0 && logger[0] != nil {
		return logger[0]
	}
	return slog.Default()
}
