// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
)

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var (
		mu      sync.Mutex
		records []slog.Record
	)
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			mu.Lock()
			records = append(records, record)
			mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), &records
}

// recordAttrs returns the attributes of record keyed by name.
func recordAttrs(record slog.Record) map[string]slog.Value {
	attrs := make(map[string]slog.Value)
	record.Attrs(func(attr slog.Attr) bool {
		attrs[attr.Key] = attr.Value
		return true
	})
	return attrs
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network].
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// fakeNative is a scriptable [XHR] recording the calls it receives.
//
// Tests drive the response with respond, fail and timeout. Like a real
// native object it never holds its lock while firing events.
type fakeNative struct {
	events EventTarget
	upload EventTarget

	mu              sync.Mutex
	calls           []string
	state           ReadyState
	sent            bool
	status          int
	text            string
	responseType    ResponseType
	timeout         time.Duration
	withCredentials bool
	openErr         error
	sendErr         error
}

var _ XHR = &fakeNative{}

func (n *fakeNative) record(format string, args ...any) {
	n.calls = append(n.calls, fmt.Sprintf(format, args...))
}

// Calls returns a copy of the recorded calls.
func (n *fakeNative) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

func (n *fakeNative) fire(typ EventType) {
	n.events.Dispatch(&Event{Type: typ, Target: n})
}

func (n *fakeNative) Open(method, url string, async bool) error {
	n.mu.Lock()
	n.record("open %s %s %v", method, url, async)
	if n.openErr != nil {
		n.mu.Unlock()
		return n.openErr
	}
	n.state, n.sent, n.status, n.text = Opened, false, 0, ""
	n.mu.Unlock()
	n.fire(EventReadyStateChange)
	return nil
}

func (n *fakeNative) SetRequestHeader(name, value string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.record("header %s %s", name, value)
	return nil
}

func (n *fakeNative) Send(body string) error {
	n.mu.Lock()
	n.record("send %s", body)
	if n.sendErr != nil {
		n.mu.Unlock()
		return n.sendErr
	}
	n.sent = true
	n.mu.Unlock()
	n.fire(EventLoadStart)
	return nil
}

func (n *fakeNative) Abort() {
	n.mu.Lock()
	n.record("abort")
	inFlight := (n.state == Opened && n.sent) || n.state == HeadersReceived || n.state == Loading
	switch {
	case inFlight:
		n.state, n.sent, n.status, n.text = Done, false, 0, ""
		n.mu.Unlock()
		n.fire(EventReadyStateChange)
		n.fire(EventAbort)
		n.fire(EventLoadEnd)
		n.mu.Lock()
		if n.state == Done {
			n.state = Unsent
		}
		n.mu.Unlock()
	case n.state == Done:
		n.state = Unsent
		n.mu.Unlock()
	default:
		n.mu.Unlock()
	}
}

func (n *fakeNative) setState(state ReadyState, fn func()) {
	n.mu.Lock()
	n.state = state
	if fn != nil {
		fn()
	}
	n.mu.Unlock()
}

// respond completes the request with status and text like a browser would.
func (n *fakeNative) respond(status int, text string) {
	n.setState(HeadersReceived, func() { n.status = status })
	n.fire(EventReadyStateChange)
	n.setState(Loading, func() { n.text = text })
	n.fire(EventReadyStateChange)
	n.fire(EventProgress)
	n.setState(Done, func() { n.sent = false })
	n.fire(EventReadyStateChange)
	n.fire(EventLoad)
	n.fire(EventLoadEnd)
}

// fail completes the request with a network error.
func (n *fakeNative) fail() {
	n.setState(Done, func() { n.sent, n.status, n.text = false, 0, "" })
	n.fire(EventReadyStateChange)
	n.fire(EventError)
	n.fire(EventLoadEnd)
}

// expire completes the request with a timeout.
func (n *fakeNative) expire() {
	n.setState(Done, func() { n.sent, n.status, n.text = false, 0, "" })
	n.fire(EventReadyStateChange)
	n.fire(EventTimeout)
	n.fire(EventLoadEnd)
}

func (n *fakeNative) ReadyState() ReadyState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *fakeNative) Status() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *fakeNative) StatusText() string {
	if n.Status() == 200 {
		return "OK"
	}
	return ""
}

func (n *fakeNative) ResponseURL() string {
	return "https://native.example/"
}

func (n *fakeNative) GetResponseHeader(name string) (string, bool) {
	if n.ReadyState() < HeadersReceived {
		return "", false
	}
	return "native-" + name, true
}

func (n *fakeNative) GetAllResponseHeaders() string {
	if n.ReadyState() < HeadersReceived {
		return ""
	}
	return "x-native: true\r\n"
}

func (n *fakeNative) OverrideMimeType(mime string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.record("mime %s", mime)
	return nil
}

func (n *fakeNative) ResponseType() ResponseType {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.responseType
}

func (n *fakeNative) SetResponseType(rt ResponseType) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responseType = rt
	return nil
}

func (n *fakeNative) ResponseText() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.responseType.IsText() || n.state < Loading {
		return ""
	}
	return n.text
}

func (n *fakeNative) Response() any {
	if n.ResponseType().IsText() {
		return n.ResponseText()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return []byte(n.text)
}

func (n *fakeNative) Timeout() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.timeout
}

func (n *fakeNative) SetTimeout(d time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.timeout = d
	return nil
}

func (n *fakeNative) WithCredentials() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.withCredentials
}

func (n *fakeNative) SetWithCredentials(v bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.withCredentials = v
	return nil
}

func (n *fakeNative) Upload() *EventTarget {
	return &n.upload
}

func (n *fakeNative) Handler(typ EventType) Listener {
	return n.events.Handler(typ)
}

func (n *fakeNative) SetHandler(typ EventType, fn Listener) {
	n.events.SetHandler(typ, fn)
}

func (n *fakeNative) AddEventListener(typ EventType, fn Listener) (remove func()) {
	return n.events.AddEventListener(typ, fn)
}

// hookFault is an error reported through [ProxyFactory.LogError].
type hookFault struct {
	err   error
	label string
}

// faultLog collects the errors reported through [ProxyFactory.LogError].
type faultLog struct {
	mu     sync.Mutex
	faults []hookFault
}

func (l *faultLog) logError(err error, label string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = append(l.faults, hookFault{err, label})
}

// Labels returns the labels of the collected faults in order.
func (l *faultLog) Labels() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, fault := range l.faults {
		out = append(out, fault.label)
	}
	return out
}

// Faults returns a copy of the collected faults.
func (l *faultLog) Faults() []hookFault {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]hookFault(nil), l.faults...)
}

// newTestProxy returns a proxy wrapping a [*fakeNative] with the given
// wrappers, along with the fake and the collected hook faults.
func newTestProxy(wrappers ...*Wrapper) (*Proxy, *fakeNative, *faultLog) {
	native := &fakeNative{}
	factory := NewProxyFactory(NewConfig(), func(args ...any) XHR {
		return native
	}, NewWrapperList(wrappers...), DefaultSLogger())
	faults := &faultLog{}
	factory.LogError = faults.logError
	return factory.New(), native, faults
}

// eventRecorder records the event types delivered to the listeners
// installed by listenAll.
type eventRecorder struct {
	mu     sync.Mutex
	events []string
	done   chan struct{}
}

// listenAll installs a recorder for every event type on x. The done
// channel receives a value after each loadend.
func listenAll(x XHR) *eventRecorder {
	rec := &eventRecorder{done: make(chan struct{}, 16)}
	for _, typ := range []EventType{
		EventReadyStateChange, EventLoadStart, EventProgress, EventAbort,
		EventError, EventLoad, EventTimeout, EventLoadEnd,
	} {
		x.AddEventListener(typ, func(ev *Event) {
			name := string(ev.Type)
			if ev.Type == EventReadyStateChange {
				name = fmt.Sprintf("readystatechange(%d)", x.ReadyState())
			}
			rec.mu.Lock()
			rec.events = append(rec.events, name)
			rec.mu.Unlock()
			if ev.Type == EventLoadEnd {
				rec.done <- struct{}{}
			}
		})
	}
	return rec
}

// Events returns a copy of the recorded event names.
func (r *eventRecorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// waitFor waits for a value on ch or fails the test.
func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case value := <-ch:
		return value
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the event")
		panic("unreachable")
	}
}

// always is an IsRelevantTo predicate matching every connection.
func always(*Connection) bool {
	return true
}
