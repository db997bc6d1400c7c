package engine

import (
	"sync"

	"github.com/roach88/pondoc/internal/channel"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventLine is a request line received from a client.
	EventLine EventType = iota + 1
	// EventConnect registers a client and its sink.
	EventConnect
	// EventDisconnect drops a client and every stream it owns.
	EventDisconnect
	// EventReload replaces the document content with Data.
	EventReload
)

func (t EventType) String() string {
	switch t {
	case EventLine:
		return "line"
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventReload:
		return "reload"
	}
	return "unknown"
}

// Event is one input to the update loop.
type Event struct {
	Type   EventType
	Client channel.ClientID
	Line   string
	Sink   Sink
	Data   []byte
}

// eventQueue is a thread-safe FIFO queue for events.
//
// Network goroutines enqueue while the update loop drains the whole
// queue once per cycle. The queue is unbounded; the per-client quota
// bounds how much of it a cycle consumes.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Drain removes and returns every pending event in FIFO order.
func (q *eventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	out := q.events
	q.events = make([]Event, 0, cap(out))
	return out
}

// Wait returns a channel that signals when events may be available.
// It is closed when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close was called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
