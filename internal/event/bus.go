package event

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler consumes one event. Handlers must tolerate concurrent
// invocation; the bus gives no ordering guarantee across events.
type Handler func(ctx context.Context, evt Event)

// Subscription identifies one (type, handler) registration and is the
// token used to unsubscribe.
type Subscription struct {
	eventType Type
	id        uint64
}

// Bus is an in-process publish/subscribe dispatcher. Each subscribed
// handler runs in its own goroutine; a panicking handler is recovered
// and logged and never prevents other handlers or the publisher from
// continuing. There is no persistence or replay.
//
// Construct one at process start, inject it into producers and
// consumers, and Drain it at teardown.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Type]map[uint64]Handler
	nextID uint64
	closed bool

	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[Type]map[uint64]Handler),
		logger: logger,
	}
}

// Subscribe registers handler for events with exactly the given type
// tag and returns the token to unsubscribe with.
func (b *Bus) Subscribe(t Type, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[t] == nil {
		b.subs[t] = make(map[uint64]Handler)
	}
	b.subs[t][id] = handler

	b.logger.Debug("handler subscribed",
		zap.String("event_type", string(t)),
		zap.Uint64("subscription_id", id),
	)
	return Subscription{eventType: t, id: id}
}

// Unsubscribe removes a registration. Unknown tokens are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.subs[sub.eventType]; ok {
		delete(handlers, sub.id)
	}
}

// Publish dispatches evt to every handler subscribed to evt.Type.
// Dispatch is asynchronous: Publish returns once the handler
// goroutines are spawned. Handlers outlive the caller, so they run on
// a context detached from the caller's cancellation; only its values
// carry over. Publishing on a drained bus is a no-op.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Warn("publish on drained bus dropped",
			zap.String("event_type", string(evt.Type)),
		)
		return
	}
	handlers := make([]Handler, 0, len(b.subs[evt.Type]))
	for _, h := range b.subs[evt.Type] {
		handlers = append(handlers, h)
	}
	// Register with the WaitGroup before the closed check can go
	// stale, so Drain never starts waiting with these handlers
	// uncounted.
	b.wg.Add(len(handlers))
	b.mu.RUnlock()

	b.logger.Debug("event published",
		zap.String("event_type", string(evt.Type)),
		zap.String("correlation_id", evt.CorrelationID.String()),
		zap.Int("handlers", len(handlers)),
	)

	ctx = context.WithoutCancel(ctx)
	for _, h := range handlers {
		go b.dispatch(ctx, evt, h)
	}
}

func (b *Bus) dispatch(ctx context.Context, evt Event, h Handler) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("event_type", string(evt.Type)),
				zap.String("correlation_id", evt.CorrelationID.String()),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, evt)
}

// Drain stops accepting new events and waits for in-flight handlers,
// bounded by ctx.
func (b *Bus) Drain(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("event bus drained")
		return nil
	case <-ctx.Done():
		b.logger.Warn("event bus drain timed out", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
