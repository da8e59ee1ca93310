package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultPoolSize = 10000
	defaultTimeout  = 30 * time.Second
)

type Event interface {
	Name() string
}

// Keyed events that share a key are handled one after another, in publish order.
type Keyed interface {
	Key() string
}

type Handler func(ctx context.Context, e Event) error

// Bus is an in-memory event bus.
type Bus struct {
	pool     chan struct{}
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	handlers map[string][]Handler

	seqMu sync.Mutex
	tails map[string]chan struct{}
}

// NewBus create a new event bus. Caller should call Stop for graceful shutdown the bus.
func NewBus() *Bus {
	return &Bus{
		pool:     make(chan struct{}, defaultPoolSize),
		wg:       new(sync.WaitGroup),
		handlers: make(map[string][]Handler),
		tails:    make(map[string]chan struct{}),
	}
}

// Subscribe to an event
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[name] = append(b.handlers[name], h)
}

// Publish an event. Unkeyed events are dispatched to every handler concurrently.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[e.Name()]...)
	b.mu.RUnlock()

	if len(hs) == 0 {
		return
	}

	if k, ok := e.(Keyed); ok && k.Key() != "" {
		b.dispatchOrdered(ctx, k.Key(), hs, e)
		return
	}

	for _, h := range hs {
		b.dispatch(ctx, func(ctx context.Context) {
			b.run(ctx, h, e)
		})
	}
}

// dispatchOrdered chains the event behind the previous event with the same key.
// The pool slot is taken by the publisher, so a predecessor always holds one before its successor waits.
func (b *Bus) dispatchOrdered(ctx context.Context, key string, hs []Handler, e Event) {
	done := make(chan struct{})

	b.seqMu.Lock()
	prev := b.tails[key]
	b.tails[key] = done
	b.seqMu.Unlock()

	b.dispatch(ctx, func(ctx context.Context) {
		defer func() {
			close(done)

			b.seqMu.Lock()
			if b.tails[key] == done {
				delete(b.tails, key)
			}
			b.seqMu.Unlock()
		}()

		if prev != nil {
			<-prev
		}

		for _, h := range hs {
			b.run(ctx, h, e)
		}
	})
}

func (b *Bus) dispatch(ctx context.Context, fn func(ctx context.Context)) {
	b.wg.Add(1)

	b.pool <- struct{}{}

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer func() {
			<-b.pool
			b.wg.Done()
		}()

		fn(ctx)
	}()
}

func (b *Bus) run(ctx context.Context, h Handler, e Event) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "event: handler panic",
				"event", e.Name(),
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}
	}()

	if err := h(ctx, e); err != nil {
		slog.ErrorContext(ctx, "event: handle event failed",
			"event", e.Name(),
			"error", err,
		)
	}
}

// Stop waits for all handlers to finish
func (b *Bus) Stop() {
	b.wg.Wait()
}
