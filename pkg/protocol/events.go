package protocol

import (
	"sync"
	"time"

	"streampact/pkg/domain"
)

type EventType string

const (
	EventProposed                     EventType = "PROPOSED"
	EventInitiated                    EventType = "INITIATED"
	EventTerminationProposed          EventType = "TERMINATION_PROPOSED"
	EventTerminationProposalWithdrawn EventType = "TERMINATION_PROPOSAL_WITHDRAWN"
	EventRageTermination              EventType = "RAGE_TERMINATION"
	EventAgreementTerminated          EventType = "AGREEMENT_TERMINATED"
)

// Event is an append-only, externally observable notification. The protocol
// never reads these back.
type Event struct {
	Type    EventType      `json:"type"`
	At      time.Time      `json:"at"`
	SlotID  string         `json:"slot_id,omitempty"`
	Actor   domain.Party   `json:"actor,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type Sink interface {
	Emit(Event)
}

type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

func Fanout(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			if s != nil {
				s.Emit(e)
			}
		}
	})
}

// Async hands events to the sink on a worker goroutine so a slow consumer
// cannot stall a protocol call. Delivery is lossy: events are dropped once
// the buffer is full.
func Async(s Sink, buffer int) Sink {
	ch := make(chan Event, buffer)
	go func() {
		for e := range ch {
			s.Emit(e)
		}
	}()
	return SinkFunc(func(e Event) {
		select {
		case ch <- e:
		default:
		}
	})
}

// Log keeps every emitted event in order.
type Log struct {
	mu     sync.Mutex
	events []Event
}

func NewLog() *Log { return &Log{} }

func (l *Log) Emit(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
