package engine

import (
	"context"
	"sync"
)

type EventHandler func(Event)

// EventBus fans execution events out to subscribers synchronously, in
// subscription order. Handlers must not block.
type EventBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]EventHandler
	order    []int
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[int]EventHandler)}
}

// Subscribe registers handler and returns a func that removes it.
func (b *EventBus) Subscribe(handler EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.order = append(b.order, id)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.handlers[id]; !ok {
			return
		}
		delete(b.handlers, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// SubscribeExecution delivers only the events of one execution.
func (b *EventBus) SubscribeExecution(executionID string, handler EventHandler) (unsubscribe func()) {
	return b.Subscribe(func(e Event) {
		if e.ExecutionID == executionID {
			handler(e)
		}
	})
}

func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

// Channel returns a buffered channel fed by the bus until ctx is done.
// Events are dropped when the buffer is full.
func (b *EventBus) Channel(ctx context.Context, bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	var mu sync.Mutex
	closed := false
	unsubscribe := b.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
		}
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(ch)
		mu.Unlock()
	}()
	return ch
}
