// ABOUTME: Player events and the subscriber table
// ABOUTME: Events are queued and delivered in order on a dispatcher goroutine
package chunkplay

import (
	"context"
	"sync"
)

// EventName identifies an event kind
type EventName string

const (
	EventStateChange    EventName = "statechange"
	EventTimeUpdate     EventName = "timeupdate"
	EventEnded          EventName = "ended"
	EventError          EventName = "error"
	EventModeSwitched   EventName = "modeswitched"
	EventPresetSwitched EventName = "presetswitched"
)

// Event is delivered to handlers registered with Player.On. Only the fields
// relevant to Name are set.
type Event struct {
	Name EventName

	// statechange
	Old State
	New State

	// timeupdate
	CurrentTime float64
	Duration    float64

	// error
	Err error

	// modeswitched, presetswitched
	Mode   Mode
	Preset string
}

type emitter struct {
	mu       sync.Mutex
	handlers map[EventName]map[int]func(Event)
	next     int
	queue    []Event
	wake     chan struct{}
	done     chan struct{}
}

func newEmitter() *emitter {
	return &emitter{
		handlers: make(map[EventName]map[int]func(Event)),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (e *emitter) on(name EventName, handler func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.next
	e.next++
	if e.handlers[name] == nil {
		e.handlers[name] = make(map[int]func(Event))
	}
	e.handlers[name][id] = handler

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers[name], id)
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	e.queue = append(e.queue, ev)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// run delivers queued events until ctx is done, then flushes what is left
func (e *emitter) run(ctx context.Context) {
	defer close(e.done)
	for {
		if e.deliver() {
			continue
		}
		select {
		case <-e.wake:
		case <-ctx.Done():
			e.deliver()
			return
		}
	}
}

// deliver dispatches the current queue and reports whether it had events
func (e *emitter) deliver() bool {
	e.mu.Lock()
	batch := e.queue
	e.queue = nil
	e.mu.Unlock()

	for _, ev := range batch {
		for _, h := range e.snapshot(ev.Name) {
			h(ev)
		}
	}
	return len(batch) > 0
}

func (e *emitter) snapshot(name EventName) []func(Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	handlers := make([]func(Event), 0, len(e.handlers[name]))
	for _, h := range e.handlers[name] {
		handlers = append(handlers, h)
	}
	return handlers
}
