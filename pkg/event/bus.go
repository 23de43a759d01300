// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package event provides the in-process publish/subscribe bus that the
// core uses to surface lifecycle events. Governance, metrics, and
// external surfaces subscribe here; the core never depends on them.
package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teradata-labs/weft/pkg/types"
	"go.uber.org/zap"
)

// Kind labels an event on the bus.
type Kind string

// Lifecycle event kinds emitted by the core.
const (
	WorkflowStarted       Kind = "workflow.started"
	WorkflowStepStarted   Kind = "workflow.step.started"
	WorkflowStepCompleted Kind = "workflow.step.completed"
	WorkflowStepFailed    Kind = "workflow.step.failed"
	WorkflowCompleted     Kind = "workflow.completed"
	WorkflowFailed        Kind = "workflow.failed"

	AgentTurnStarted   Kind = "agent.turn.started"
	AgentTurnCompleted Kind = "agent.turn.completed"
	AgentTurnFailed    Kind = "agent.turn.failed"

	GroupSessionStarted   Kind = "group.session.started"
	GroupMessagePosted    Kind = "group.message.posted"
	GroupConsensusReached Kind = "group.consensus.reached"
	GroupSessionEnded     Kind = "group.session.ended"

	SandboxCreated        Kind = "sandbox.created"
	SandboxDestroyed      Kind = "sandbox.destroyed"
	SandboxResourceBreach Kind = "sandbox.resource.breach"

	ReviewRequested Kind = "review.requested"
	ReviewResolved  Kind = "review.resolved"

	BusOverflow Kind = "bus.overflow"
)

// Event is an immutable lifecycle record.
type Event struct {
	// ID is the event's ULID
	ID string

	// Kind labels the event
	Kind Kind

	// Timestamp when the event was published
	Timestamp time.Time

	// CorrelationID links the event to its workflow or session
	CorrelationID string

	// Payload carries kind-specific data
	Payload map[string]interface{}
}

// Handler consumes events. Handlers run on the subscriber's own
// goroutine; a slow or panicking handler never blocks publishers.
type Handler func(Event)

// OverflowPayloadDropped is the payload key carrying the number of
// events dropped for a subscriber before a bus.overflow event.
const OverflowPayloadDropped = "dropped"

// DefaultBufferSize is the per-subscriber event buffer capacity.
const DefaultBufferSize = 256

// Bus is the in-process publish/subscribe surface.
//
// Delivery is at-least-once per subscriber. Each subscriber owns a
// bounded buffer; on overflow the oldest events are dropped and a
// bus.overflow event reports the gap.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string]*subscriber
	bufSize int
	logger  *zap.Logger
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber buffer capacity.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:    make(map[string]*subscriber),
		bufSize: DefaultBufferSize,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type subscriber struct {
	id      string
	kinds   map[Kind]bool // nil means all kinds
	handler Handler
	logger  *zap.Logger

	mu      sync.Mutex
	ring    []Event
	head    int // index of oldest buffered event
	count   int
	dropped int

	notify chan struct{}
	done   chan struct{}
}

// Subscribe registers a handler for the given kinds (all kinds when none
// are given) and returns a cancel function. The handler runs on a
// dedicated goroutine in publish order for that subscriber.
func (b *Bus) Subscribe(handler Handler, kinds ...Kind) (cancel func()) {
	sub := &subscriber{
		id:      uuid.New().String(),
		handler: handler,
		logger:  b.logger,
		ring:    make([]Event, b.bufSize),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.run()
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub.id)
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

// Publish delivers an event to all matching subscribers without blocking.
// The event id is assigned if empty; the timestamp if zero.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = types.NewID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.kinds != nil && !sub.kinds[ev.Kind] {
			continue
		}
		sub.push(ev)
	}
}

// Emit is a convenience wrapper building and publishing an event.
func (b *Bus) Emit(kind Kind, correlationID string, payload map[string]interface{}) {
	b.Publish(Event{Kind: kind, CorrelationID: correlationID, Payload: payload})
}

// Close stops delivery and waits for subscriber goroutines to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		close(s.done)
	}
	b.wg.Wait()
}

// push appends an event to the subscriber's ring, dropping the oldest
// entry when full.
func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	if s.count == len(s.ring) {
		// Drop oldest. The gap is reported via a bus.overflow event
		// once the consumer catches up.
		s.head = (s.head + 1) % len(s.ring)
		s.count--
		s.dropped++
	}
	s.ring[(s.head+s.count)%len(s.ring)] = ev
	s.count++
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pop removes the next event. When events were dropped since the last
// pop, a synthetic bus.overflow event is delivered first.
func (s *subscriber) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped > 0 {
		n := s.dropped
		s.dropped = 0
		return Event{
			ID:        types.NewID(),
			Kind:      BusOverflow,
			Timestamp: time.Now(),
			Payload:   map[string]interface{}{OverflowPayloadDropped: n},
		}, true
	}
	if s.count == 0 {
		return Event{}, false
	}
	ev := s.ring[s.head]
	s.head = (s.head + 1) % len(s.ring)
	s.count--
	return ev, true
}

func (s *subscriber) run() {
	for {
		for {
			ev, ok := s.pop()
			if !ok {
				break
			}
			s.deliver(ev)
		}
		select {
		case <-s.notify:
		case <-s.done:
			// Drain what is already buffered, then exit.
			for {
				ev, ok := s.pop()
				if !ok {
					return
				}
				s.deliver(ev)
			}
		}
	}
}

// deliver invokes the handler, swallowing panics. Subscriber failures
// never propagate to publishers.
func (s *subscriber) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event subscriber panicked",
				zap.String("subscriber_id", s.id),
				zap.String("event_kind", string(ev.Kind)),
				zap.Any("panic", r))
		}
	}()
	s.handler(ev)
}
