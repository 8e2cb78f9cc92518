// Package eventbus is a small in-memory fanout used to decouple the delivery
// scheduler from the journal and the external event forwarder.
//
// Publish never blocks. Subscribers get buffered channels; a slow subscriber
// loses events instead of stalling publishers.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Dropped is implemented by buses that count undelivered events.
type Dropped interface {
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch     chan Event
	prefix string
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*sub, 0, len(b.subs))
	for _, s := range b.subs {
		if s.prefix == "" || strings.HasPrefix(e.Type, s.prefix) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s.ch, e)
	}
}

func (b *memBus) deliver(ch chan Event, e Event) {
	// The channel may be closed by a concurrent unsubscribe.
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
		b.dropped.Add(1)
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	return b.subscribe(buffer, "")
}

// SubscribePrefix receives only events whose type starts with prefix.
func (b *memBus) SubscribePrefix(buffer int, prefix string) (<-chan Event, func()) {
	return b.subscribe(buffer, prefix)
}

func (b *memBus) subscribe(buffer int, prefix string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), prefix: prefix}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

// SubscribePrefix filters by type prefix when the bus supports it and falls
// back to a plain subscription otherwise.
func SubscribePrefix(b Bus, buffer int, prefix string) (<-chan Event, func()) {
	if pb, ok := b.(interface {
		SubscribePrefix(int, string) (<-chan Event, func())
	}); ok {
		return pb.SubscribePrefix(buffer, prefix)
	}
	return b.Subscribe(buffer)
}
