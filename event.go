// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"fmt"
	"sync"
)

// ReadyState is the state of an [XHR] object.
type ReadyState int

const (
	// Unsent means that the object has been constructed or aborted.
	Unsent = ReadyState(iota)

	// Opened means that Open has been called.
	Opened

	// HeadersReceived means that the response headers are available.
	HeadersReceived

	// Loading means that the response body is being received.
	Loading

	// Done means that the request completed, failed, or was aborted.
	Done
)

// String implements [fmt.Stringer].
func (s ReadyState) String() string {
	switch s {
	case Unsent:
		return "UNSENT"
	case Opened:
		return "OPENED"
	case HeadersReceived:
		return "HEADERS_RECEIVED"
	case Loading:
		return "LOADING"
	case Done:
		return "DONE"
	default:
		return fmt.Sprintf("ReadyState(%d)", int(s))
	}
}

// EventType is the type of an [Event].
type EventType string

// Event types emitted by [XHR] objects.
const (
	EventReadyStateChange = EventType("readystatechange")
	EventLoadStart        = EventType("loadstart")
	EventProgress         = EventType("progress")
	EventAbort            = EventType("abort")
	EventError            = EventType("error")
	EventLoad             = EventType("load")
	EventTimeout          = EventType("timeout")
	EventLoadEnd          = EventType("loadend")
)

// Event is an event delivered to a [Listener].
type Event struct {
	// Type is the event type.
	Type EventType

	// Target is the object the listener was registered on. When the
	// event comes through a [*Proxy], Target is the proxy.
	Target any

	// LengthComputable tells whether Total is meaningful.
	LengthComputable bool

	// Loaded is the number of bytes transferred so far.
	Loaded int64

	// Total is the total number of bytes, if known.
	Total int64
}

// Listener receives events.
type Listener func(ev *Event)

// EventTarget holds handler slots (the on<event> properties) and the
// registered listener lists of an event source.
//
// The zero value is ready to use. Methods are safe for concurrent use.
type EventTarget struct {
	mu        sync.Mutex
	handlers  map[EventType]Listener
	listeners map[EventType][]*listenerEntry
}

type listenerEntry struct {
	fn Listener
}

// Handler returns the function in the handler slot for typ, or nil.
func (t *EventTarget) Handler(typ EventType) Listener {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers[typ]
}

// SetHandler replaces the handler slot for typ. A nil fn clears the slot.
func (t *EventTarget) SetHandler(typ EventType, fn Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fn == nil {
		delete(t.handlers, typ)
		return
	}
	if t.handlers == nil {
		t.handlers = make(map[EventType]Listener)
	}
	t.handlers[typ] = fn
}

// AddEventListener registers fn for typ and returns a function that
// unregisters it. Calling the returned function more than once is harmless.
func (t *EventTarget) AddEventListener(typ EventType, fn Listener) (remove func()) {
	entry := &listenerEntry{fn: fn}
	t.mu.Lock()
	if t.listeners == nil {
		t.listeners = make(map[EventType][]*listenerEntry)
	}
	t.listeners[typ] = append(t.listeners[typ], entry)
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		entries := t.listeners[typ]
		for idx, e := range entries {
			if e == entry {
				t.listeners[typ] = append(entries[:idx:idx], entries[idx+1:]...)
				return
			}
		}
	}
}

// Listeners returns a snapshot of the functions to call for typ: the
// handler slot first, then the registered listeners in order.
func (t *EventTarget) Listeners(typ EventType) []Listener {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Listener
	if fn := t.handlers[typ]; fn != nil {
		out = append(out, fn)
	}
	for _, e := range t.listeners[typ] {
		out = append(out, e.fn)
	}
	return out
}

// Dispatch calls the [Listeners] for ev.Type in order.
func (t *EventTarget) Dispatch(ev *Event) {
	for _, fn := range t.Listeners(ev.Type) {
		fn(ev)
	}
}
