package protocol

// EventType enumerates the three event kinds a protocol server produces,
// per spec.md §4.5/§5. Grounded in the teacher's events.EventManager
// (core/events/events.go), adapted from a handler-registration model to a
// drain queue: spec.md's single-threaded cooperative update() returns
// control to the caller once per tick, so events are queued during Update
// and handed back via DrainEvents rather than dispatched through
// synchronous callbacks mid-update.
type EventType int

const (
	EventNewConnection EventType = iota
	EventDisconnected
	EventPayload
)

// Event carries whichever payload is relevant to its Type: NewConnection
// and Payload data, or nothing for Disconnected beyond the slot/client id.
type Event struct {
	Type     EventType
	Slot     int
	ClientID uint64
	Payload  []byte
}

type eventQueue struct {
	events []Event
}

func (q *eventQueue) push(e Event) {
	q.events = append(q.events, e)
}

// drain returns and clears the queued events, preserving production order.
func (q *eventQueue) drain() []Event {
	out := q.events
	q.events = nil
	return out
}
