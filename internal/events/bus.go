package events

import (
	"sync"
	"sync/atomic"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	dropped atomic.Int64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for one or more events and returns the
// channel and an unsubscribe function that closes it.
func (b *Bus) Subscribe(buffer int, topics ...Event) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	for _, e := range topics {
		b.subs[e] = append(b.subs[e], ch)
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, e := range topics {
				subs := b.subs[e]
				for i, c := range subs {
					if c == ch {
						b.subs[e] = append(subs[:i:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}
	return ch, unsub
}

// Publish fans the payload out without blocking; slow subscribers miss it.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped for full subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
