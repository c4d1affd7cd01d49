package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webpatrol/internal/patrol"
)

func TestBusFanOut(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Emit(patrol.Event{Type: patrol.EventPatrolStarted, TaskID: "t1"})

	for _, ch := range []<-chan patrol.Event{a, b} {
		select {
		case evt := <-ch:
			assert.Equal(t, patrol.EventPatrolStarted, evt.Type)
			assert.Equal(t, "t1", evt.TaskID)
			assert.False(t, evt.Timestamp.IsZero(), "timestamp is filled in on emit")
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestBusFullSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	_ = bus.Subscribe() // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+10; i++ {
			bus.Emit(patrol.Event{Type: patrol.EventExecutionCreated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit blocked on a full subscriber")
	}
	assert.Equal(t, uint64(10), bus.Dropped())
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Emitting after unsubscribe must not panic on the closed channel.
	bus.Emit(patrol.Event{Type: patrol.EventTaskCreated})
}

func TestBusCloseIsIdempotent(t *testing.T) {
	bus := NewBus(nil)
	ch := bus.Subscribe()

	bus.Close()
	bus.Close()

	_, open := <-ch
	require.False(t, open)

	bus.Emit(patrol.Event{Type: patrol.EventTaskCreated})
	closedSub := bus.Subscribe()
	_, open = <-closedSub
	assert.False(t, open, "subscribing after close yields a closed channel")
}
