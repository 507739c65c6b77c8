// ABOUTME: Scheduler events and subscriber table
// ABOUTME: Delivers chunk transition events to registered handlers
package scheduler

import "fmt"

// EventType identifies a scheduler event
type EventType int

const (
	// ScheduleNextChunk fires when the overlap window of Index-1 begins
	ScheduleNextChunk EventType = iota
	// PlayNextChunk fires when Index-1 ended without its successor being scheduled
	PlayNextChunk
	// ChunkEnded fires when the active chunk Index finished on its own
	ChunkEnded
	// TrackEnded fires after the last chunk finished
	TrackEnded
)

func (t EventType) String() string {
	switch t {
	case ScheduleNextChunk:
		return "schedule-next-chunk"
	case PlayNextChunk:
		return "play-next-chunk"
	case ChunkEnded:
		return "chunk-ended"
	case TrackEnded:
		return "track-ended"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is a chunk transition notification. Seq identifies the PlayChunk
// call that produced it.
type Event struct {
	Type  EventType
	Index int
	Seq   uint64
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%d)", e.Type, e.Index)
}

// Subscribe registers handler for every event and returns its unsubscribe func
func (s *Scheduler) Subscribe(handler func(Event)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = handler

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Scheduler) emit(events ...Event) {
	s.subMu.Lock()
	handlers := make([]func(Event), 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.subMu.Unlock()

	for _, e := range events {
		for _, h := range handlers {
			h(e)
		}
	}
}
