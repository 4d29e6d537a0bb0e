// ABOUTME: In-process publish/subscribe for engine events
// ABOUTME: Non-blocking fan-out to buffered subscriber channels
package events

import (
	"sync"
)

// Publisher defines the interface for event publishing.
type Publisher interface {
	// Publish sends an event to all subscribers.
	Publish(event Event)
	// Subscribe returns a channel that receives every subsequent event.
	Subscribe() <-chan Event
	// Unsubscribe removes a subscription channel and closes it.
	Unsubscribe(ch <-chan Event)
	// Close shuts down the publisher and all subscriptions.
	Close()
}

// MemoryPublisher is an in-memory implementation of Publisher.
type MemoryPublisher struct {
	subscribers []chan Event
	mu          sync.RWMutex
	bufferSize  int
	closed      bool
}

// PublisherOption configures a MemoryPublisher.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize sets the channel buffer size for subscribers.
func WithBufferSize(size int) PublisherOption {
	return func(p *MemoryPublisher) {
		p.bufferSize = size
	}
}

// NewMemoryPublisher creates a new in-memory publisher.
func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{bufferSize: 100}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish skips subscribers whose buffers are full so the engine never blocks on a slow UI.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	for _, ch := range p.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel that receives events published after the call.
func (p *MemoryPublisher) Subscribe() <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, p.bufferSize)
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscription channel.
func (p *MemoryPublisher) Unsubscribe(ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, sub := range p.subscribers {
		if sub == ch {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close shuts down the publisher and closes all subscription channels.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
}

// SubscriberCount returns the number of live subscriptions.
func (p *MemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

func (NopPublisher) Subscribe() <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

func (NopPublisher) Unsubscribe(<-chan Event) {}

func (NopPublisher) Close() {}
