package syncthing

import (
	"context"
	"sync"

	"synctray-agent/internal/logger"
)

// Handler receives notifications on the bus's dispatcher goroutine.
type Handler func(Notification)

type queued struct {
	n    Notification
	done chan struct{}
}

// Bus delivers notifications to subscribers from a single dispatcher
// goroutine. Publish never blocks; notifications are delivered in the order
// they were published. Serve and Stop make the Bus a suture service.
type Bus struct {
	log logger.Logger

	mu    sync.Mutex
	queue []queued
	wake  chan struct{}
	stop  chan struct{}

	handlersMu sync.RWMutex
	handlers   []subscription
	nextID     uint64
}

type subscription struct {
	id uint64
	h  Handler
}

func NewBus(log logger.Logger) *Bus {
	return &Bus{
		log:  log,
		wake: make(chan struct{}, 1),
	}
}

// Subscribe registers h and returns a function that removes it again.
func (b *Bus) Subscribe(h Handler) func() {
	b.handlersMu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, subscription{id: id, h: h})
	b.handlersMu.Unlock()

	return func() {
		b.handlersMu.Lock()
		defer b.handlersMu.Unlock()
		for i, s := range b.handlers {
			if s.id == id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish enqueues n for delivery.
func (b *Bus) Publish(n Notification) {
	b.enqueue(queued{n: n})
}

// Flush blocks until everything published before the call was delivered, or
// ctx is done.
func (b *Bus) Flush(ctx context.Context) error {
	done := make(chan struct{})
	b.enqueue(queued{done: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) enqueue(q queued) {
	b.mu.Lock()
	b.queue = append(b.queue, q)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Serve runs the dispatcher until Stop is called.
func (b *Bus) Serve() {
	b.mu.Lock()
	stop := make(chan struct{})
	b.stop = stop
	b.mu.Unlock()

	for {
		for {
			b.mu.Lock()
			batch := b.queue
			b.queue = nil
			b.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, q := range batch {
				if q.done != nil {
					close(q.done)
					continue
				}
				b.deliver(q.n)
			}
		}

		select {
		case <-b.wake:
		case <-stop:
			return
		}
	}
}

func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stop != nil {
		close(b.stop)
		b.stop = nil
	}
	b.mu.Unlock()
}

func (b *Bus) deliver(n Notification) {
	b.handlersMu.RLock()
	handlers := make([]Handler, len(b.handlers))
	for i, s := range b.handlers {
		handlers[i] = s.h
	}
	b.handlersMu.RUnlock()

	for _, h := range handlers {
		b.call(h, n)
	}
}

func (b *Bus) call(h Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("notification handler panicked on %s: %v", n.Kind(), r)
		}
	}()
	h(n)
}
