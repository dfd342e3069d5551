// Package events implements the in-process publish/subscribe buses
// that decouple the DIMSE storage path from the job processor, and
// configuration mutation from whatever observes it.
package events

import (
	"log/slog"
	"sync"

	"github.com/nvidia-clara/dicom-adapter/types"
)

// SubscriptionToken is returned by Subscribe and removes the
// associated callback when passed to Unsubscribe.
type SubscriptionToken uint64

// InstanceHandler receives a stored instance notification.
type InstanceHandler func(info types.InstanceStorageInfo)

// InstanceNotificationBus is an in-process publish/subscribe bus for
// "instance stored" events (spec.md §2 component 3). The publisher
// iterates a snapshot copy of subscribers, so Subscribe/Unsubscribe
// never race a Publish already in flight.
type InstanceNotificationBus struct {
	logger *slog.Logger

	mu        sync.Mutex
	nextToken SubscriptionToken
	observers map[SubscriptionToken]InstanceHandler
}

// NewInstanceNotificationBus creates an empty bus. logger is optional;
// when omitted, slog.Default() is used.
func NewInstanceNotificationBus(logger ...*slog.Logger) *InstanceNotificationBus {
	var l *slog.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = slog.Default()
	}
	return &InstanceNotificationBus{
		logger:    l,
		observers: make(map[SubscriptionToken]InstanceHandler),
	}
}

// Subscribe registers handler and returns a token that unsubscribes
// it.
func (b *InstanceNotificationBus) Subscribe(handler InstanceHandler) SubscriptionToken {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextToken++
	token := b.nextToken
	b.observers[token] = handler
	return token
}

// Unsubscribe removes the handler registered under token. Unsubscribing
// an unknown or already-removed token is a no-op.
func (b *InstanceNotificationBus) Unsubscribe(token SubscriptionToken) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, token)
}

// Publish notifies every currently-subscribed handler that info was
// stored. Per P1, callers must publish only after the file write that
// info describes has completed.
func (b *InstanceNotificationBus) Publish(info types.InstanceStorageInfo) {
	snapshot := b.snapshot()
	b.logger.Debug("publishing instance notification",
		"sop_instance_uid", info.SOPInstanceUID,
		"subscriber_count", len(snapshot))
	for _, handler := range snapshot {
		handler(info)
	}
}

func (b *InstanceNotificationBus) snapshot() []InstanceHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := make([]InstanceHandler, 0, len(b.observers))
	for _, h := range b.observers {
		handlers = append(handlers, h)
	}
	return handlers
}
