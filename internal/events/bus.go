package events

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultHandlerTimeout bounds how long Publish waits on a single subscriber.
const DefaultHandlerTimeout = 5 * time.Second

// Handler receives published payloads. Returned errors are logged, never
// propagated to the publisher.
type Handler func(ctx context.Context, payload any) error

// Stats summarizes bus activity.
type Stats struct {
	Published uint64
	Delivered uint64
	Failed    uint64
	Panicked  uint64
	TimedOut  uint64
}

type subscription struct {
	id      uint64
	topic   Topic
	handler Handler
	active  atomic.Bool
}

// Bus delivers payloads synchronously to subscribers in subscription order.
// A failing, panicking or slow subscriber is isolated from the others.
type Bus struct {
	mu             sync.RWMutex
	subs           map[Topic][]*subscription
	nextID         atomic.Uint64
	logger         *zap.Logger
	handlerTimeout time.Duration

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
	timedOut  atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report subscriber failures.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithHandlerTimeout sets the per-subscriber wait. Zero waits indefinitely.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		b.handlerTimeout = d
	}
}

// NewBus creates a bus with the given options.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:           make(map[Topic][]*subscription),
		logger:         zap.NewNop(),
		handlerTimeout: DefaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for topic and returns the function that removes
// it. The returned function is idempotent and may be called from inside the
// handler itself; once it returns no new delivery to handler begins.
func (b *Bus) Subscribe(topic Topic, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	sub := &subscription{
		id:      b.nextID.Add(1),
		topic:   topic,
		handler: handler,
	}
	sub.active.Store(true)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	return func() { b.remove(sub) }
}

func (b *Bus) remove(sub *subscription) {
	if !sub.active.Swap(false) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sub.topic]
	for i, s := range subs {
		if s == sub {
			// Copy-on-write so in-flight publishes keep iterating their snapshot.
			next := make([]*subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, sub.topic)
			} else {
				b.subs[sub.topic] = next
			}
			return
		}
	}
}

// Publish delivers payload to every active subscriber of topic, in
// subscription order, and returns once each has finished or timed out.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any) {
	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()
	b.published.Add(1)
	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		b.deliver(ctx, sub, payload)
	}
}

// SubscriberCount returns the number of active subscribers for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Stats returns delivery counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
		Panicked:  b.panicked.Load(),
		TimedOut:  b.timedOut.Load(),
	}
}

func (b *Bus) deliver(ctx context.Context, sub *subscription, payload any) {
	if b.handlerTimeout <= 0 {
		b.record(sub, b.invoke(ctx, sub, payload))
		return
	}
	hctx, cancel := context.WithTimeout(ctx, b.handlerTimeout)
	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- b.invoke(hctx, sub, payload)
	}()
	timer := time.NewTimer(b.handlerTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		b.record(sub, err)
	case <-timer.C:
		b.timedOut.Add(1)
		b.logger.Warn("subscriber exceeded handler timeout",
			zap.Uint64("subscription", sub.id),
			zap.String("topic", string(sub.topic)),
			zap.Duration("timeout", b.handlerTimeout),
		)
	}
}

func (b *Bus) invoke(ctx context.Context, sub *subscription, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				SubscriptionID: sub.id,
				Topic:          sub.topic,
				Value:          r,
				Stack:          string(debug.Stack()),
			}
		}
	}()
	if !sub.active.Load() {
		return errUnsubscribed
	}
	return sub.handler(ctx, payload)
}

func (b *Bus) record(sub *subscription, err error) {
	if err == nil {
		b.delivered.Add(1)
		return
	}
	if errors.Is(err, errUnsubscribed) {
		return
	}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		b.panicked.Add(1)
		b.logger.Error("subscriber panicked",
			zap.Uint64("subscription", sub.id),
			zap.String("topic", string(sub.topic)),
			zap.Any("value", panicErr.Value),
			zap.String("stack", panicErr.Stack),
		)
		return
	}
	b.failed.Add(1)
	b.logger.Warn("subscriber returned error",
		zap.Uint64("subscription", sub.id),
		zap.String("topic", string(sub.topic)),
		zap.Error(err),
	)
}
