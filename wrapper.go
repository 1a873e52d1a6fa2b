// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"context"
	"slices"
	"sync"
)

// Wrapper is a bundle of optional interception hooks plus a relevance predicate.
//
// Every hook field may be nil. Hooks run in wrapper registration order and
// hooks of different kinds never interleave within one connection:
//
//	OriginalSendBodyLogger → RequestChanger → (real send) →
//	OriginalResponseTextLogger → ResponseTextChanger →
//	FinalResponseTextLogger → (completion events) → AfterListeners
//
// A hook that panics or returns an error is reported through the factory's
// LogError and never affects sibling wrappers or host listeners.
type Wrapper struct {
	// Name identifies the wrapper in log labels.
	Name string

	// IsRelevantTo selects the connections this wrapper applies to. It is
	// called once per connection, at Open, on the goroutine calling Open.
	// A nil predicate never matches.
	IsRelevantTo func(conn *Connection) bool

	// OriginalSendBodyLogger observes the body passed to Send. It runs on
	// the goroutine calling Send.
	OriginalSendBodyLogger func(conn *Connection, body string)

	// RequestChanger rewrites the request before the real open and send.
	// It runs on its own goroutine and may block; ctx is cancelled when
	// the connection is superseded or aborted. The returned [Request]
	// must have a method and an URL.
	RequestChanger func(ctx context.Context, conn *Connection, req Request) (Request, error)

	// OriginalResponseTextLogger observes the unmodified response text.
	OriginalResponseTextLogger func(conn *Connection, text string)

	// ResponseTextChanger rewrites the response text. It runs on its own
	// goroutine and may block; ctx works like for RequestChanger. On error
	// the text returned by the previous stage is kept.
	ResponseTextChanger func(ctx context.Context, conn *Connection, text string) (string, error)

	// FinalResponseTextLogger observes the text exposed to the host.
	FinalResponseTextLogger func(conn *Connection, text string)

	// AfterListeners runs after the completion events were delivered.
	AfterListeners func(conn *Connection)
}

// label returns the log label for the given hook.
func (w *Wrapper) label(hook string) string {
	if w.Name == "" {
		return hook
	}
	return w.Name + "." + hook
}

// WrapperList is the caller-owned, ordered collection of wrappers.
//
// A [*ProxyFactory] holds it by reference: wrappers added or removed after
// the factory was created affect every connection opened afterwards, but
// never a connection already open. The zero value is ready to use and
// methods are safe for concurrent use.
type WrapperList struct {
	mu       sync.Mutex
	wrappers []*Wrapper
}

// NewWrapperList returns a [*WrapperList] containing the given wrappers.
func NewWrapperList(wrappers ...*Wrapper) *WrapperList {
	return &WrapperList{wrappers: slices.Clone(wrappers)}
}

// Add appends w and returns a function that removes it.
func (l *WrapperList) Add(w *Wrapper) (remove func()) {
	l.mu.Lock()
	l.wrappers = append(l.wrappers, w)
	l.mu.Unlock()
	return func() {
		l.Remove(w)
	}
}

// Remove removes the first occurrence of w and returns whether it was found.
func (l *WrapperList) Remove(w *Wrapper) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := slices.Index(l.wrappers, w)
	if idx < 0 {
		return false
	}
	l.wrappers = slices.Delete(slices.Clone(l.wrappers), idx, idx+1)
	return true
}

// Len returns the number of wrappers.
func (l *WrapperList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.wrappers)
}

// Snapshot returns a copy of the current wrappers in order.
func (l *WrapperList) Snapshot() []*Wrapper {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.wrappers)
}

// hookSet is the frozen view of the wrappers active for one connection.
type hookSet struct {
	// active contains the relevant wrappers in registration order.
	active []*Wrapper

	// requestChangers contains the active wrappers with a RequestChanger.
	requestChangers []*Wrapper

	// responseTextChangers contains the active wrappers with a ResponseTextChanger.
	responseTextChangers []*Wrapper
}

// newHookSet builds the [*hookSet] for the given active wrappers. In
// synchronous mode the changer lists are left empty.
func newHookSet(active []*Wrapper, async bool) *hookSet {
	hs := &hookSet{active: active}
	if !async {
		return hs
	}
	for _, w := range active {
		if w.RequestChanger != nil {
			hs.requestChangers = append(hs.requestChangers, w)
		}
		if w.ResponseTextChanger != nil {
			hs.responseTextChangers = append(hs.responseTextChangers, w)
		}
	}
	return hs
}

// defersRequest returns whether the real open and send wait for the request chain.
func (hs *hookSet) defersRequest() bool {
	return hs != nil && len(hs.requestChangers) > 0
}

// transformsResponse returns whether completion waits for the response chain.
func (hs *hookSet) transformsResponse() bool {
	return hs != nil && len(hs.responseTextChangers) > 0
}
