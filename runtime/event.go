package runtime

import (
	"context"
	"time"
)

// EventType is the closed set of stream event tags.
type EventType string

const (
	EventStart     EventType = "start"
	EventStep      EventType = "step"
	EventFinish    EventType = "finish"
	EventCancelled EventType = "cancelled"
	EventError     EventType = "error"
)

// Terminal reports whether no event can follow t.
func (t EventType) Terminal() bool {
	return t == EventFinish || t == EventCancelled || t == EventError
}

// StepKind tells what a step event carries.
type StepKind string

const (
	// StepText carries a fragment of model output.
	StepText StepKind = "text"
	// StepToolCall is emitted before a tool runs.
	StepToolCall StepKind = "tool_call"
	// StepToolResult is emitted after a tool ran.
	StepToolResult StepKind = "tool_result"
)

// Step is the payload of a step event.
type Step struct {
	Kind      StepKind `json:"kind"`
	Iteration int      `json:"iteration"`
	Text      string   `json:"text,omitempty"`
	Tool      string   `json:"tool,omitempty"`
	CallID    string   `json:"call_id,omitempty"`
	Arguments string   `json:"arguments,omitempty"`
	Result    any      `json:"result,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Event is one element of a run's event stream.
type Event struct {
	Type      EventType      `json:"type"`
	Step      *Step          `json:"step,omitempty"`
	Response  string         `json:"response,omitempty"`
	Error     string         `json:"error,omitempty"`
	Reason    FailureReason  `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventStream delivers the events of one streaming run in order. The
// producer suspends until each event is consumed. Close abandons the stream
// and waits for the producer to exit. If the caller's context ends, the
// stream stops without a terminal event.
type EventStream struct {
	events <-chan Event
	cancel context.CancelFunc
}

// Events returns the channel of events. It is closed after the terminal event.
func (s *EventStream) Events() <-chan Event { return s.events }

// Next returns the next event, or false once the stream is exhausted.
func (s *EventStream) Next() (Event, bool) {
	ev, ok := <-s.events
	return ev, ok
}

// Close stops the producer and releases its resources. It is safe to call
// more than once and after the stream is exhausted.
func (s *EventStream) Close() {
	s.cancel()
	for range s.events {
	}
}

// Collect consumes the remaining events.
func (s *EventStream) Collect() []Event {
	var out []Event
	for ev := range s.events {
		out = append(out, ev)
	}
	s.cancel()
	return out
}

// emitter is the producer side of an EventStream.
type emitter struct {
	ctx context.Context
	ch  chan<- Event
}

func newEventStream(ctx context.Context) (*EventStream, *emitter, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Event)
	return &EventStream{events: ch, cancel: cancel}, &emitter{ctx: ctx, ch: ch}, ctx
}

// emit delivers ev unless the stream was abandoned.
func (e *emitter) emit(ev Event) bool {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case <-e.ctx.Done():
		return false
	case e.ch <- ev:
		return true
	}
}

func (e *emitter) close() { close(e.ch) }
