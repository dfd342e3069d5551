package events

import (
	"log/slog"
	"sync"

	"github.com/nvidia-clara/dicom-adapter/types"
)

// ChangeKind discriminates the three mutations the change bus can
// publish for a configured LocalAE.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "Added"
	ChangeDeleted ChangeKind = "Deleted"
	ChangeUpdated ChangeKind = "Updated"
)

// ApplicationEntityChange is one published mutation of the LocalAE
// set.
type ApplicationEntityChange struct {
	Kind ChangeKind
	AE   types.LocalApplicationEntity
}

// ApplicationEntityHandler receives a LocalAE change.
type ApplicationEntityHandler func(change ApplicationEntityChange)

// ApplicationEntityChangeBus is an in-process publish/subscribe bus of
// Added/Deleted/Updated events for configured local AEs (spec.md §2
// component 4). The HTTP CRUD surface that mutates LocalAEs is out of
// scope (spec.md §1); this bus is the seam other code uses to react to
// those mutations, e.g. the lifecycle supervisor starting/stopping a
// JobProcessor per LocalAE.
type ApplicationEntityChangeBus struct {
	logger *slog.Logger

	mu        sync.Mutex
	nextToken SubscriptionToken
	observers map[SubscriptionToken]ApplicationEntityHandler
}

// NewApplicationEntityChangeBus creates an empty bus. logger is
// optional; when omitted, slog.Default() is used.
func NewApplicationEntityChangeBus(logger ...*slog.Logger) *ApplicationEntityChangeBus {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &ApplicationEntityChangeBus{
		logger:    l,
		observers: make(map[SubscriptionToken]ApplicationEntityHandler),
	}
}

// Subscribe registers handler and returns a token that unsubscribes
// it.
func (b *ApplicationEntityChangeBus) Subscribe(handler ApplicationEntityHandler) SubscriptionToken {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextToken++
	token := b.nextToken
	b.observers[token] = handler
	return token
}

// Unsubscribe removes the handler registered under token.
func (b *ApplicationEntityChangeBus) Unsubscribe(token SubscriptionToken) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, token)
}

// Publish notifies every currently-subscribed handler of change. This
// is the one hook spec.md §1's out-of-scope CRUD surface is expected
// to call; no CRUD router is implemented here (see SPEC_FULL.md
// Non-goals).
func (b *ApplicationEntityChangeBus) Publish(change ApplicationEntityChange) {
	snapshot := b.snapshot()
	b.logger.Debug("publishing AE change",
		"kind", change.Kind,
		"ae_title", change.AE.AETitle,
		"subscriber_count", len(snapshot))
	for _, handler := range snapshot {
		handler(change)
	}
}

func (b *ApplicationEntityChangeBus) snapshot() []ApplicationEntityHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := make([]ApplicationEntityHandler, 0, len(b.observers))
	for _, h := range b.observers {
		handlers = append(handlers, h)
	}
	return handlers
}
