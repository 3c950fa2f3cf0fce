// Package events delivers fire-and-forget engine notifications to subscribers
// on a dedicated goroutine.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind names a notification.
type Kind string

const (
	AdaptationGenerated Kind = "adaptation.generated"
	AdaptationApplied   Kind = "adaptation.applied"
	FeedbackProcessed   Kind = "feedback.processed"
	ExperimentStarted   Kind = "experiment.started"
	ExperimentConcluded Kind = "experiment.concluded"
)

// Event is one notification. Payload is a value copy owned by the receiver.
type Event struct {
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// Handler receives events. Handlers run sequentially on the bus goroutine.
type Handler func(Event)

// Publisher is the sending side used by the engine and the experiment harness.
type Publisher interface {
	Publish(kind Kind, payload any)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Kind, any) {}

// DefaultBufferSize is the queue length used when none is given.
const DefaultBufferSize = 256

// Bus queues events and fans them out to every subscriber. Publish never
// blocks; events are dropped when the queue is full.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	queue    chan Event
	done     chan struct{}
	dropped  atomic.Uint64
	now      func() time.Time

	closeMu sync.RWMutex
	closed  bool
}

// NewBus starts the delivery goroutine.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	b := &Bus{
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	go b.run()
	return b
}

// Subscribe registers h for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish enqueues an event. It is a no-op after Close.
func (b *Bus) Publish(kind Kind, payload any) {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()

	if b.closed {
		return
	}
	select {
	case b.queue <- Event{Kind: kind, Time: b.now(), Payload: payload}:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops accepting events, delivers what is queued and waits for the
// delivery goroutine to exit.
func (b *Bus) Close() {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	close(b.queue)
	b.closeMu.Unlock()
	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	for ev := range b.queue {
		b.mu.RLock()
		handlers := b.handlers
		b.mu.RUnlock()
		for _, h := range handlers {
			deliver(h, ev)
		}
	}
}

// deliver isolates the bus from a panicking subscriber.
func deliver(h Handler, ev Event) {
	defer func() { _ = recover() }()
	h(ev)
}
