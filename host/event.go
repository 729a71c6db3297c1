package host

// EventType names the signals the host delivers.
type EventType string

const (
	EventSuccess       EventType = "success"
	EventError         EventType = "error"
	EventComplete      EventType = "complete"
	EventAbort         EventType = "abort"
	EventUpgradeNeeded EventType = "upgradeneeded"
)

// Event is delivered to listeners. Request is set for request events and
// for error events bubbling to a transaction; Transaction is the transaction
// the event belongs to, if any.
type Event struct {
	Type        EventType
	Request     *Request
	Transaction *Transaction

	// OldVersion and NewVersion are set for EventUpgradeNeeded.
	OldVersion uint64
	NewVersion uint64

	defaultPrevented bool
}

// PreventDefault stops an error event from aborting its transaction.
func (e *Event) PreventDefault() { e.defaultPrevented = true }

// DefaultPrevented reports whether PreventDefault was called.
func (e *Event) DefaultPrevented() bool { return e.defaultPrevented }

// Listener receives events.
type Listener func(ev *Event)

type listeners map[EventType][]Listener

func (ls *listeners) add(t EventType, fn Listener) {
	if *ls == nil {
		*ls = make(listeners)
	}
	(*ls)[t] = append((*ls)[t], fn)
}

// fire calls the listeners registered when dispatch started.
func (ls listeners) fire(ev *Event) {
	for _, fn := range append([]Listener(nil), ls[ev.Type]...) {
		fn(ev)
	}
}
