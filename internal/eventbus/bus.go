// Package eventbus is the in-process signal bus of the bot. Delivery outcomes
// and cycle reports are published here; the NATS forwarder mirrors them out.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the fanout engine.
const (
	TypeCycleDone         = "fanout.cycle.done"
	TypeDeliverySent      = "delivery.sent"
	TypeDeliverySkipped   = "delivery.skipped"
	TypeDeliveryFailed    = "delivery.failed"
	TypeSubscriberRemoved = "subscriber.removed"
	TypeJobDone           = "scheduler.job.done"
)

// Event is a small, JSON-serializable signal.
//
// Publish never blocks: subscribers own buffered channels and a slow one loses events.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Nop discards everything. Handy for components built without a bus.
var Nop Bus = nopBus{}

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

// MemBus fans events out to in-memory subscribers. It owns no goroutines.
type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch under us.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped counts events lost to full subscriber buffers.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }
