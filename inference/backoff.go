package inference

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// saveBackoff reproduces the same fixed retry schedule aehandler uses
// for instance writes (spec.md §4.5): the first attempt plus up to 3
// retries, waiting 250ms, then 500ms, then 500ms before each retry.
type saveBackoff struct {
	delays []time.Duration
	i      int
}

func newSaveBackoff() *saveBackoff {
	return &saveBackoff{delays: []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond}}
}

func (b *saveBackoff) NextBackOff() time.Duration {
	if b.i >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.i]
	b.i++
	return d
}

func (b *saveBackoff) Reset() { b.i = 0 }
