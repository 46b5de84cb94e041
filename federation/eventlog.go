package federation

import (
	"github.com/ruteri/dlt-service-federation/interfaces"
)

// EventLog is an append-only list of events consumed by cursor.
type EventLog struct {
	events []interfaces.Event
}

// Append assigns the next cursor to ev and stores a copy of it.
func (l *EventLog) Append(ev interfaces.Event) interfaces.Event {
	ev = ev.Clone()
	ev.Cursor = uint64(len(l.events)) + 1
	l.events = append(l.events, ev)
	return ev.Clone()
}

// Since returns up to limit events with Cursor > after. A non-positive limit
// returns everything after the cursor. The events are copies.
func (l *EventLog) Since(after uint64, limit int) []interfaces.Event {
	if after >= uint64(len(l.events)) {
		return nil
	}
	tail := l.events[after:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]interfaces.Event, len(tail))
	for i, ev := range tail {
		out[i] = ev.Clone()
	}
	return out
}

// Len returns the number of events, which is also the latest cursor.
func (l *EventLog) Len() uint64 {
	return uint64(len(l.events))
}
