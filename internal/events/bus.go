// Package events implements the patrol lifecycle event bus: fan-out to
// buffered subscriber channels with non-blocking dispatch, so a slow
// consumer can never stall an execution.
package events

import (
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"webpatrol/internal/patrol"
)

const subscriberBuffer = 64

// Bus dispatches patrol events to subscribers. It satisfies the
// engine's sink interface; Emit never blocks and never fails.
type Bus struct {
	log *zap.Logger

	mu          sync.RWMutex
	subscribers []chan patrol.Event
	closed      bool

	sequence atomic.Uint64
	dropped  atomic.Uint64
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log}
}

// Subscribe returns a buffered channel receiving every event emitted
// after the call. The channel closes on Unsubscribe or bus Close.
func (b *Bus) Subscribe() <-chan patrol.Event {
	ch := make(chan patrol.Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(ch <-chan patrol.Event) {
	if ch == nil {
		return
	}
	target := reflect.ValueOf(ch).Pointer()
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if reflect.ValueOf(sub).Pointer() == target {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Emit dispatches to every subscriber, dropping for any whose buffer
// is full. Safe to call from any goroutine.
func (b *Bus) Emit(evt patrol.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.sequence.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		select {
		case sub <- evt:
		default:
			if b.dropped.Add(1)%100 == 1 {
				b.log.Warn("event subscriber buffer full, dropping",
					zap.String("type", string(evt.Type)),
					zap.Uint64("dropped_total", b.dropped.Load()))
			}
		}
	}
}

// Dropped reports how many events were discarded for full subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Emit becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = nil
}
