package events

import (
	"sync"

	"github.com/jscyril/streamplayer/api"
)

const (
	kindBuffer = 16
	allBuffer  = 64
)

// Bus fans engine statuses out to subscribers using channels
type Bus struct {
	subscribers map[api.StatusKind][]chan api.PlayerStatus
	mu          sync.RWMutex
	closed      bool
}

// NewBus creates a new status bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[api.StatusKind][]chan api.PlayerStatus),
	}
}

// Subscribe returns a channel receiving statuses of the given kinds
func (b *Bus) Subscribe(kinds ...api.StatusKind) <-chan api.PlayerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan api.PlayerStatus, kindBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	for _, k := range kinds {
		b.subscribers[k] = append(b.subscribers[k], ch)
	}
	return ch
}

// SubscribeAll returns a channel receiving every status
func (b *Bus) SubscribeAll() <-chan api.PlayerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan api.PlayerStatus, allBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	for _, k := range api.AllStatusKinds() {
		b.subscribers[k] = append(b.subscribers[k], ch)
	}
	return ch
}

// Publish delivers a status to every subscriber of its kind. Subscribers
// that are not keeping up miss it.
func (b *Bus) Publish(st api.PlayerStatus) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[st.Kind] {
		select {
		case ch <- st:
		default:
		}
	}
}

// Unsubscribe removes a subscriber channel. The channel is not closed.
func (b *Bus) Unsubscribe(ch <-chan api.PlayerStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for kind, subs := range b.subscribers {
		for i, sub := range subs {
			if sub == ch {
				b.subscribers[kind] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Close closes all subscriber channels. Later subscriptions get a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	// SubscribeAll channels appear under every kind
	done := make(map[chan api.PlayerStatus]bool)
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			if !done[ch] {
				close(ch)
				done[ch] = true
			}
		}
	}
	b.subscribers = make(map[api.StatusKind][]chan api.PlayerStatus)
}
