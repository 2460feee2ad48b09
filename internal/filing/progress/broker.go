// Package progress implements the per-run progress event channel: one
// producer (the active driver run), any number of observers.
package progress

import (
	"sync"

	"chargegate/internal/filing/models"
)

// subscriberBuffer bounds each subscriber channel. Events are a live
// progress indicator, not an audit log: a subscriber that falls this far
// behind loses events rather than stalling the run.
const subscriberBuffer = 64

// Broker owns the event stream for exactly one driver run. The orchestrator
// creates it before the run starts and closes it when the run reaches a
// terminal state, so listener lifetime is never ambiguous.
//
// Guarantees:
//   - delivery order matches emission order for every subscriber
//   - late subscribers receive only events emitted after they joined;
//     history is not replayed
//   - channel closure means "run finished", whether or not the subscriber
//     saw the terminal event
type Broker struct {
	mu     sync.Mutex
	subs   map[int]chan models.ProgressEvent
	nextID int
	closed bool
}

// NewBroker creates an open broker with no subscribers.
func NewBroker() *Broker {
	return &Broker{subs: make(map[int]chan models.ProgressEvent)}
}

// Subscribe registers an observer. The cancel func releases the
// subscription; after the broker closes, the returned channel is already
// closed.
func (b *Broker) Subscribe() (<-chan models.ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.ProgressEvent, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	key := b.nextID
	b.nextID++
	b.subs[key] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[key]; ok {
				delete(b.subs, key)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber in emission order.
// Publishing after Close is a no-op.
func (b *Broker) Publish(ev models.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close tears the channel down. Every subscriber channel is closed;
// consumers treat closure as "run finished".
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for key, ch := range b.subs {
		delete(b.subs, key)
		close(ch)
	}
}
