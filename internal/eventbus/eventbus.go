// Package eventbus implements a process-local, priority-queued,
// middleware-aware publish/subscribe channel used to decouple protocol
// handlers from services (auth, connection, terminal, system).
package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/webssh-gateway/backend/internal/gwerrors"
)

// Priority is one of four scheduling priorities. The dispatcher drains
// CRITICAL > HIGH > NORMAL > LOW.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

const numPriorities = 4

// Event is one published message.
type Event struct {
	Type          string
	Payload       any
	Priority      Priority
	CorrelationID string
	publishedAt   time.Time
}

// Handler processes one delivered event. A handler's failure does not
// block other handlers on the same event and is never retried by the bus.
type Handler func(Event) error

const DefaultMaxQueueSize = 10000

// Bus is the event bus.
type Bus struct {
	maxQueueSize int

	mu       sync.Mutex
	cond     *sync.Cond
	queues   [numPriorities][]Event
	queued   int
	handlers map[string][]Handler
	closed   bool

	inFlight sync.WaitGroup

	// middleware state
	dedupWindow   time.Duration
	lastByKey     map[string]time.Time
	rateWindow    time.Duration
	rateLimit     int
	rateCount     int
	rateWindowEnd time.Time
}

// Option configures optional middleware behaviour at construction time.
type Option func(*Bus)

// WithDedup drops publications with the same (type, payload) pair within
// window of a prior publication of that pair.
func WithDedup(window time.Duration) Option {
	return func(b *Bus) { b.dedupWindow = window }
}

// WithRateLimit drops publications beyond n events per 1s window.
func WithRateLimit(n int) Option {
	return func(b *Bus) { b.rateLimit = n; b.rateWindow = time.Second }
}

// New builds a Bus with the given bounded queue size (0 selects the
// default of 10 000) and starts its dispatcher loop.
func New(maxQueueSize int, opts ...Option) *Bus {
	if maxQueueSize <= 0 {
		maxQueueSize = DefaultMaxQueueSize
	}
	b := &Bus{
		maxQueueSize: maxQueueSize,
		handlers:     map[string][]Handler{},
		lastByKey:    map[string]time.Time{},
	}
	b.cond = sync.NewCond(&b.mu)
	for _, opt := range opts {
		opt(b)
	}
	go b.dispatchLoop()
	return b
}

// On registers handler for eventType.
func (b *Bus) On(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish runs ev through the middleware chain (logging, dedup, rate
// limiting) and, if accepted, enqueues it. It returns once the event has
// been scheduled — handler execution happens asynchronously.
func (b *Bus) Publish(ev Event) error {
	if ev.CorrelationID == "" {
		ev.CorrelationID = uuid.NewString()
	}
	ev.publishedAt = time.Now()

	log.Debug().Str("event_type", ev.Type).Str("correlation_id", ev.CorrelationID).
		Int("priority", int(ev.Priority)).Msg("eventbus: publish")

	b.mu.Lock()
	if b.dedupWindow > 0 {
		key := dedupKey(ev)
		if last, ok := b.lastByKey[key]; ok && ev.publishedAt.Sub(last) < b.dedupWindow {
			b.mu.Unlock()
			log.Debug().Str("event_type", ev.Type).Msg("eventbus: dropped duplicate")
			return nil
		}
		b.lastByKey[key] = ev.publishedAt
	}

	if b.rateLimit > 0 {
		if ev.publishedAt.After(b.rateWindowEnd) {
			b.rateWindowEnd = ev.publishedAt.Add(b.rateWindow)
			b.rateCount = 0
		}
		b.rateCount++
		if b.rateCount > b.rateLimit {
			b.mu.Unlock()
			log.Warn().Str("event_type", ev.Type).Msg("eventbus: dropped, rate limited")
			return nil
		}
	}

	if b.queued >= b.maxQueueSize {
		b.mu.Unlock()
		return gwerrors.New(gwerrors.KindSystem, gwerrors.CodeEventQueueFull, "event queue full")
	}

	b.queues[ev.Priority] = append(b.queues[ev.Priority], ev)
	b.queued++
	b.inFlight.Add(1)
	b.mu.Unlock()
	b.cond.Signal()
	return nil
}

func dedupKey(ev Event) string {
	return ev.Type + "|" + payloadKey(ev.Payload)
}

// payloadKey renders a best-effort stable key for common payload shapes
// without requiring payloads to implement any interface.
func payloadKey(payload any) string {
	switch v := payload.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

func (b *Bus) dispatchLoop() {
	for {
		b.mu.Lock()
		for b.queued == 0 && !b.closed {
			b.cond.Wait()
		}
		if b.closed && b.queued == 0 {
			b.mu.Unlock()
			return
		}
		ev, ok := b.popLocked()
		b.mu.Unlock()
		if !ok {
			continue
		}
		b.deliver(ev)
	}
}

// popLocked removes and returns the highest-priority queued event. Caller
// must hold b.mu.
func (b *Bus) popLocked() (Event, bool) {
	for p := numPriorities - 1; p >= 0; p-- {
		if len(b.queues[p]) > 0 {
			ev := b.queues[p][0]
			b.queues[p] = b.queues[p][1:]
			b.queued--
			return ev, true
		}
	}
	return Event{}, false
}

func (b *Bus) deliver(ev Event) {
	defer b.inFlight.Done()

	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[ev.Type]...)
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("event_type", ev.Type).
						Msg("eventbus: handler panicked")
				}
			}()
			if err := h(ev); err != nil {
				log.Error().Err(err).Str("event_type", ev.Type).
					Str("correlation_id", ev.CorrelationID).Msg("eventbus: handler error")
			}
		}(h)
	}
	wg.Wait()
}

// Flush blocks until every currently-queued and in-flight event has been
// delivered.
func (b *Bus) Flush() {
	b.inFlight.Wait()
}

// Clear removes every registered subscriber.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = map[string][]Handler{}
}

// Shutdown stops the dispatcher loop after draining the current queue.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
	b.Flush()
}
