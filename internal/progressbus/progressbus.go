// Package progressbus is an in-process, channel-based pub/sub keyed by
// requestId (§4.8), grounded on the teacher's event-emitter fan-out
// pattern: a registry of subscriber channels per key, mutex-guarded,
// broadcast-on-publish, with subscriber channels closed on the terminal
// event for that key.
package progressbus

import (
	"sync"

	"github.com/aj-archipelago/cortex/pkg/cortex"
)

const subscriberBufferSize = 32

type subscriber struct {
	ch     chan cortex.ProgressEvent
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

func (s *subscriber) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.ch)
	})
}

// Bus publishes ProgressEvents to subscribers grouped by requestId.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscriber
	seq  map[string]uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[string][]*subscriber),
		seq:  make(map[string]uint64),
	}
}

// Subscribe returns a channel of events for requestId and an unsubscribe
// function. The channel is closed automatically once a terminal event is
// published for requestId, or when unsubscribe is called, whichever comes
// first.
func (b *Bus) Subscribe(requestID string) (<-chan cortex.ProgressEvent, func()) {
	sub := &subscriber{ch: make(chan cortex.ProgressEvent, subscriberBufferSize)}

	b.mu.Lock()
	b.subs[requestID] = append(b.subs[requestID], sub)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		list := b.subs[requestID]
		for i, s := range list {
			if s == sub {
				b.subs[requestID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		sub.close()
	}

	return sub.ch, unsubscribe
}

// Publish delivers event to every current subscriber of event.RequestID,
// stamping a monotonically increasing Sequence (§8 monotonic-progress
// invariant). It closes and clears subscriber channels after a terminal
// event, enforcing the exactly-one-terminal-event invariant.
func (b *Bus) Publish(event cortex.ProgressEvent) {
	b.mu.Lock()
	b.seq[event.RequestID]++
	event.Sequence = b.seq[event.RequestID]
	subs := b.subs[event.RequestID]

	terminal := event.IsTerminal()
	if terminal {
		delete(b.subs, event.RequestID)
		delete(b.seq, event.RequestID)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			// slow subscriber: drop rather than block the publisher
		}
		if terminal {
			s.close()
		}
	}
}
