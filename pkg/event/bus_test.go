// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// collector accumulates delivered events behind a mutex.
type collector struct {
	mu     sync.Mutex
	events []Event
	seen   chan struct{}
}

func newCollector() *collector {
	return &collector{seen: make(chan struct{}, 1024)}
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		c.mu.Lock()
		if len(c.events) >= n {
			out := make([]Event, len(c.events))
			copy(out, c.events)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		select {
		case <-c.seen:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
}

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(WithLogger(zaptest.NewLogger(t)))
	defer bus.Close()

	c := newCollector()
	cancel := bus.Subscribe(c.handle)
	defer cancel()

	bus.Emit(WorkflowStarted, "wf-1", nil)
	bus.Emit(WorkflowStepStarted, "wf-1", map[string]interface{}{"step_id": "s1"})
	bus.Emit(WorkflowStepCompleted, "wf-1", map[string]interface{}{"step_id": "s1"})
	bus.Emit(WorkflowCompleted, "wf-1", nil)

	events := c.wait(t, 4)
	require.Len(t, events, 4)
	assert.Equal(t, WorkflowStarted, events[0].Kind)
	assert.Equal(t, WorkflowStepStarted, events[1].Kind)
	assert.Equal(t, WorkflowStepCompleted, events[2].Kind)
	assert.Equal(t, WorkflowCompleted, events[3].Kind)

	// Every event gets an id and timestamp.
	for _, ev := range events {
		assert.Len(t, ev.ID, 26)
		assert.False(t, ev.Timestamp.IsZero())
		assert.Equal(t, "wf-1", ev.CorrelationID)
	}
}

func TestBusKindFilter(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	c := newCollector()
	cancel := bus.Subscribe(c.handle, AgentTurnStarted, AgentTurnCompleted)
	defer cancel()

	bus.Emit(WorkflowStarted, "wf-1", nil)
	bus.Emit(AgentTurnStarted, "wf-1", nil)
	bus.Emit(SandboxCreated, "wf-1", nil)
	bus.Emit(AgentTurnCompleted, "wf-1", nil)

	events := c.wait(t, 2)
	require.Len(t, events, 2)
	assert.Equal(t, AgentTurnStarted, events[0].Kind)
	assert.Equal(t, AgentTurnCompleted, events[1].Kind)
}

func TestBusSlowSubscriberOverflow(t *testing.T) {
	bus := NewBus(WithBufferSize(4))
	defer bus.Close()

	release := make(chan struct{})
	c := newCollector()
	blocked := make(chan struct{})
	var once sync.Once
	cancel := bus.Subscribe(func(ev Event) {
		once.Do(func() {
			close(blocked)
			<-release
		})
		c.handle(ev)
	})
	defer cancel()

	// First event occupies the handler; the next ones overrun the buffer.
	bus.Emit(GroupMessagePosted, "g-1", map[string]interface{}{"seq": 0})
	<-blocked
	for i := 1; i <= 10; i++ {
		bus.Emit(GroupMessagePosted, "g-1", map[string]interface{}{"seq": i})
	}
	close(release)

	// Expect: the first event, then a bus.overflow, then the surviving tail.
	events := c.wait(t, 6)
	var overflows, posted int
	var droppedTotal int
	for _, ev := range events {
		switch ev.Kind {
		case BusOverflow:
			overflows++
			droppedTotal += ev.Payload[OverflowPayloadDropped].(int)
		case GroupMessagePosted:
			posted++
		}
	}
	assert.Equal(t, 1, overflows, "one overflow event per gap")
	assert.Equal(t, 6, droppedTotal, "10 published, 4 buffered")
	assert.Equal(t, 5, posted)
}

func TestBusSubscriberPanicIsSwallowed(t *testing.T) {
	bus := NewBus(WithLogger(zaptest.NewLogger(t)))
	defer bus.Close()

	cancel := bus.Subscribe(func(ev Event) {
		panic("subscriber bug")
	})
	defer cancel()

	c := newCollector()
	cancel2 := bus.Subscribe(c.handle)
	defer cancel2()

	bus.Emit(ReviewRequested, "r-1", nil)
	bus.Emit(ReviewResolved, "r-1", nil)

	// The healthy subscriber still receives everything.
	events := c.wait(t, 2)
	assert.Len(t, events, 2)
}

func TestBusCloseDrains(t *testing.T) {
	bus := NewBus()
	c := newCollector()
	bus.Subscribe(c.handle)

	for i := 0; i < 5; i++ {
		bus.Emit(SandboxCreated, "sb-1", nil)
	}
	bus.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.events, 5)

	// Publishing after close is a no-op, not a panic.
	bus.Publish(Event{Kind: SandboxDestroyed})
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	c := newCollector()
	cancel := bus.Subscribe(c.handle)

	bus.Emit(WorkflowStarted, "wf-1", nil)
	c.wait(t, 1)
	cancel()
	cancel() // idempotent

	bus.Emit(WorkflowCompleted, "wf-1", nil)
	time.Sleep(50 * time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.events, 1)
}
