package events

import (
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 256

// Bus is a topic-based pub/sub bus. Publishing never blocks: an event is
// dropped for any subscriber whose buffer is full.
type Bus struct {
	mu      sync.RWMutex
	topics  map[string][]chan Event
	all     []chan Event
	closed  bool
	dropped atomic.Uint64
}

// NewBus creates an open bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string][]chan Event)}
}

// Subscribe returns a channel receiving events published on topic.
// A bufSize <= 0 selects the default buffer.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.add(func(ch chan Event) { b.topics[topic] = append(b.topics[topic], ch) }, bufSize)
}

// SubscribeAll returns a channel receiving events from every topic.
func (b *Bus) SubscribeAll(bufSize int) <-chan Event {
	return b.add(func(ch chan Event) { b.all = append(b.all, ch) }, bufSize)
}

func (b *Bus) add(register func(chan Event), bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	register(ch)
	return ch
}

// Publish delivers e to topic subscribers and to SubscribeAll channels.
func (b *Bus) Publish(topic string, e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.topics[topic] {
		b.offer(ch, e)
	}
	for _, ch := range b.all {
		b.offer(ch, e)
	}
}

func (b *Bus) offer(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscriber channel. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	for _, subs := range b.topics {
		for _, ch := range subs {
			close(ch)
		}
	}
	for _, ch := range b.all {
		close(ch)
	}
}
