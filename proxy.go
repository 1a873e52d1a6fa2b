// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// eventRoute tells whether an event type is emulated by the proxy or
// delegated to the native object.
type eventRoute int

const (
	routeDelegated = eventRoute(iota)
	routeOwned
)

// eventRoutes maps event types to their route. Types not listed are delegated.
//
// Owned events are driven by the single native readystatechange handler
// so that completion can be held while response-text changers run.
var eventRoutes = map[EventType]eventRoute{
	EventReadyStateChange: routeOwned,
	EventLoad:             routeOwned,
	EventError:            routeOwned,
	EventLoadEnd:          routeOwned,
	EventLoadStart:        routeDelegated,
	EventProgress:         routeDelegated,
	EventAbort:            routeDelegated,
	EventTimeout:          routeDelegated,
}

func isOwnedEvent(typ EventType) bool {
	return eventRoutes[typ] == routeOwned
}

// Proxy is a drop-in replacement for a native [XHR] object that runs the
// applicable [*Wrapper] hooks around each request.
//
// Construct using [ProxyFactory.New].
//
// Like the native object, a Proxy is meant to be driven by a single host
// goroutine. Listeners and the hooks triggered by native events or chain
// results are delivered one at a time, in order, and may call back into
// the proxy; they may run on the goroutine that delivers them. The
// IsRelevantTo predicates and the OriginalSendBodyLogger hooks run on the
// goroutine calling Open and Send.
type Proxy struct {
	factory *ProxyFactory
	native  XHR
	queue   taskQueue
	events  EventTarget

	// current mirrors conn for native callbacks, which must not take mu.
	current atomic.Pointer[Connection]

	mu              sync.Mutex
	conn            *Connection
	hooks           *hookSet
	ctx             context.Context
	cancel          context.CancelFunc
	readyState      ReadyState
	nativeOpened    bool
	sendCalled      bool
	realSendStarted bool
	holding         bool
	finalText       string
	pendingHeaders  [][2]string
	abortHeld       *Connection

	// delegated holds the host listeners of delegated event types, which
	// are installed on the native object through rebind.
	delegated EventTarget
}

var _ XHR = &Proxy{}

// nativeSnapshot is the native state captured by the native
// readystatechange handler.
type nativeSnapshot struct {
	state        ReadyState
	status       int
	responseType ResponseType
	text         string
}

// Connection returns the current connection, or nil before the first Open.
func (p *Proxy) Connection() *Connection {
	return p.current.Load()
}

// Native returns the wrapped native object.
func (p *Proxy) Native() XHR {
	return p.native
}

// callNative runs fn while the queue refuses to drain from other goroutines.
func (p *Proxy) callNative(fn func() error) error {
	p.queue.enterNative()
	defer p.queue.leaveNative()
	return fn()
}

// Open implements [XHR].
//
// The relevant wrappers are selected here, once. When any of them has a
// RequestChanger (and async is true) the native Open is deferred until
// the request chain resolves; ReadyState reports [Opened] regardless.
func (p *Proxy) Open(method, url string, async bool) error {
	f := p.factory
	conn := newConnection(f.NewConnectionID(), method, url, async, p.native.ResponseType())
	hooks := newHookSet(f.selectWrappers(conn, f.Wrappers.Snapshot()), async)
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	var err error
	if hooks.defersRequest() {
		if p.nativeOpened {
			// silence the previous request: its events are now stale
			err = p.callNative(func() error {
				p.native.Abort()
				return nil
			})
		}
	} else {
		err = p.callNative(func() error {
			return p.native.Open(method, url, async)
		})
	}
	if err != nil {
		p.mu.Unlock()
		cancel()
		return err
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.conn = conn
	p.current.Store(conn)
	p.hooks = hooks
	p.ctx, p.cancel = ctx, cancel
	p.nativeOpened = !hooks.defersRequest()
	p.sendCalled = false
	p.realSendStarted = false
	p.holding = false
	p.finalText = ""
	p.pendingHeaders = nil
	p.abortHeld = nil
	p.readyState = Opened
	p.queue.push(func() {
		if p.isCurrent(conn) {
			p.dispatchOwned(conn, EventReadyStateChange)
		}
	})
	p.mu.Unlock()

	f.Logger.Info(
		"xhrOpen",
		slog.Int("activeWrappers", len(hooks.active)),
		slog.Bool("async", async),
		slog.String("connID", conn.ID()),
		slog.Bool("deferred", hooks.defersRequest()),
		slog.String("httpMethod", method),
		slog.String("httpUrl", url),
		slog.Time("t", f.TimeNow()),
	)

	p.queue.drain()
	return nil
}

// SetRequestHeader implements [XHR].
//
// While the native Open is deferred, headers are queued and applied right
// after it.
func (p *Proxy) SetRequestHeader(name, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.readyState != Opened || p.sendCalled {
		return ErrInvalidState
	}
	if !p.nativeOpened {
		p.pendingHeaders = append(p.pendingHeaders, [2]string{name, value})
		return nil
	}
	return p.callNative(func() error {
		return p.native.SetRequestHeader(name, value)
	})
}

// Send implements [XHR].
//
// The OriginalSendBodyLogger hooks run first. Then either the request
// chain starts on its own goroutine, or the body is sent right away.
func (p *Proxy) Send(body string) error {
	f := p.factory
	p.mu.Lock()
	conn, hooks, ctx := p.conn, p.hooks, p.ctx
	if conn == nil || p.readyState != Opened || p.sendCalled {
		p.mu.Unlock()
		return ErrInvalidState
	}
	p.sendCalled = true
	conn.setOriginalSendBody(body)
	p.mu.Unlock()

	f.Logger.Info(
		"xhrSend",
		slog.Int("bodyLength", len(body)),
		slog.String("connID", conn.ID()),
		slog.Bool("deferred", hooks.defersRequest()),
		slog.Time("t", f.TimeNow()),
	)

	f.logSendBody(conn, hooks, body)

	p.mu.Lock()
	if p.conn != conn || p.realSendStarted {
		// a body logger reopened or aborted
		p.mu.Unlock()
		p.queue.drain()
		return nil
	}
	var err error
	if hooks.defersRequest() {
		original := Request{Method: conn.Method(), URL: conn.URL(), Body: body}
		go p.runRequestChain(ctx, conn, hooks, original)
	} else {
		p.realSendStarted = true
		conn.setRequest(Request{Method: conn.Method(), URL: conn.URL(), Body: body})
		err = p.callNative(func() error {
			return p.native.Send(body)
		})
	}
	p.mu.Unlock()
	p.queue.drain()
	return err
}

// requestPending returns whether conn is current and its real send has
// not started yet.
func (p *Proxy) requestPending(conn *Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn == conn && !p.realSendStarted
}

// responsePending returns whether conn is current and its completion is held.
func (p *Proxy) responsePending(conn *Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn == conn && p.holding
}

// isCurrent returns whether conn is the current connection.
func (p *Proxy) isCurrent(conn *Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn == conn
}

// startRealSend opens and sends req on the native object. It runs as a task.
func (p *Proxy) startRealSend(conn *Connection, req Request) {
	p.mu.Lock()
	if p.conn != conn || p.realSendStarted {
		p.mu.Unlock()
		p.logStale(conn, "realSend")
		return
	}
	hooks := p.hooks
	p.realSendStarted = true
	conn.setRequest(req)
	err := p.callNative(func() error {
		if err := p.native.Open(req.Method, req.URL, true); err != nil {
			return err
		}
		p.nativeOpened = true
		for _, header := range p.pendingHeaders {
			if err := p.native.SetRequestHeader(header[0], header[1]); err != nil {
				return err
			}
		}
		return p.native.Send(req.Body)
	})
	p.pendingHeaders = nil
	p.mu.Unlock()

	if err != nil {
		p.factory.LogError(err, "realSend")
		p.complete(conn, hooks)
	}
}

// Abort implements [XHR].
//
// When the request chain is still pending, the original request is
// opened and sent on the native object right before aborting it, so that
// the native abort-driven transition fires. When completion is held by
// the response chain, the connection completes immediately as aborted.
func (p *Proxy) Abort() {
	p.mu.Lock()
	conn, hooks := p.conn, p.hooks
	if conn == nil {
		_ = p.callNative(func() error {
			p.native.Abort()
			return nil
		})
		p.mu.Unlock()
		return
	}
	// aborting an opened but unsent connection changes nothing
	if p.cancel != nil && (p.sendCalled || p.readyState != Opened) {
		p.cancel()
	}
	inFlight := p.readyState != Done && p.readyState != Unsent
	if p.sendCalled && (p.holding || inFlight) {
		conn.markAborted()
	}

	switch {
	case p.holding:
		// the native object is done already: it will not fire abort
		p.holding = false
		p.finalText = ""
		p.abortHeld = conn
		_ = p.callNative(func() error {
			p.native.Abort()
			return nil
		})
		p.queue.push(func() {
			p.complete(conn, hooks)
		})

	case p.sendCalled && !p.realSendStarted:
		p.realSendStarted = true
		body, _ := conn.OriginalSendBody()
		req := Request{Method: conn.Method(), URL: conn.URL(), Body: body}
		conn.setRequest(req)
		err := p.callNative(func() error {
			if err := p.native.Open(req.Method, req.URL, true); err != nil {
				return err
			}
			p.nativeOpened = true
			if err := p.native.Send(req.Body); err != nil {
				return err
			}
			p.native.Abort()
			return nil
		})
		if err != nil {
			p.factory.LogError(err, "abort")
			p.queue.push(func() {
				p.complete(conn, hooks)
			})
		}

	default:
		if p.readyState == Done {
			p.readyState = Unsent
		}
		_ = p.callNative(func() error {
			p.native.Abort()
			return nil
		})
	}
	p.mu.Unlock()
	p.queue.drain()
}

// onNativeReadyStateChange is the single handler installed on the native
// object. It captures the native state and enqueues its processing.
func (p *Proxy) onNativeReadyStateChange(*Event) {
	conn := p.current.Load()
	snap := nativeSnapshot{
		state:        p.native.ReadyState(),
		status:       p.native.Status(),
		responseType: p.native.ResponseType(),
	}
	if snap.state == Done && snap.responseType.IsText() {
		snap.text = p.native.ResponseText()
	}
	p.queue.push(func() {
		p.handleNativeState(conn, snap)
	})
	p.queue.drain()
}

// handleNativeState mirrors a native state change. It runs as a task.
func (p *Proxy) handleNativeState(conn *Connection, snap nativeSnapshot) {
	f := p.factory
	p.mu.Lock()
	if conn == nil || conn != p.conn || !p.nativeOpened || !p.realSendStarted {
		p.mu.Unlock()
		return
	}
	hooks, ctx := p.hooks, p.ctx

	switch snap.state {
	case HeadersReceived, Loading:
		if p.readyState == Done || p.holding || snap.state < p.readyState ||
			(snap.state == HeadersReceived && p.readyState == HeadersReceived) {
			p.mu.Unlock()
			return
		}
		if snap.state == HeadersReceived {
			conn.setStatus(snap.status)
		}
		p.readyState = snap.state
		p.mu.Unlock()
		f.Logger.Debug(
			"readyStateChange",
			slog.String("connID", conn.ID()),
			slog.String("readyState", snap.state.String()),
			slog.Time("t", f.TimeNow()),
		)
		p.dispatchOwned(conn, EventReadyStateChange)

	case Done:
		if p.readyState == Done || p.holding {
			p.mu.Unlock()
			return
		}
		conn.setStatus(snap.status)
		aborted := conn.Aborted()
		isText := snap.responseType.IsText() && !aborted
		if isText {
			conn.setOriginalResponseText(snap.text)
		}
		p.holding = isText && hooks.transformsResponse()
		if !p.holding && isText {
			p.finalText = snap.text
		}
		holding := p.holding
		p.mu.Unlock()

		if isText {
			f.logOriginalResponseText(conn, hooks, snap.text)
		}
		if holding {
			go p.runResponseChain(ctx, conn, hooks, snap.text)
			return
		}
		if isText {
			f.logFinalResponseText(conn, hooks, snap.text)
		}
		p.complete(conn, hooks)

	default:
		p.mu.Unlock()
	}
}

// finishResponse releases the completion held by the response chain. It
// runs as a task.
func (p *Proxy) finishResponse(conn *Connection, text string) {
	p.mu.Lock()
	if conn != p.conn || !p.holding {
		p.mu.Unlock()
		p.logStale(conn, "finishResponse")
		return
	}
	p.holding = false
	p.finalText = text
	hooks := p.hooks
	p.mu.Unlock()

	p.factory.logFinalResponseText(conn, hooks, text)
	p.complete(conn, hooks)
}

// complete moves conn to [Done] and delivers the completion events. It runs
// as a task: readystatechange is dispatched immediately, while load or error,
// loadend and the AfterListeners hooks follow in a later task, after any
// event the native object queued in the meantime.
func (p *Proxy) complete(conn *Connection, hooks *hookSet) {
	f := p.factory
	p.mu.Lock()
	if conn != p.conn {
		p.mu.Unlock()
		p.logStale(conn, "complete")
		return
	}
	p.readyState = Done
	abortHeld := p.abortHeld == conn
	p.abortHeld = nil
	p.mu.Unlock()

	status, aborted := conn.Status(), conn.Aborted()
	f.Logger.Info(
		"xhrDone",
		slog.Bool("aborted", aborted),
		slog.String("connID", conn.ID()),
		slog.Int("httpResponseStatusCode", status),
		slog.Time("t", f.TimeNow()),
	)

	p.dispatchOwned(conn, EventReadyStateChange)
	p.queue.push(func() {
		if !aborted {
			if status >= 200 && status < 400 {
				p.dispatchOwned(conn, EventLoad)
			} else {
				p.dispatchOwned(conn, EventError)
			}
		}
		if abortHeld {
			p.dispatchDelegated(EventAbort)
		}
		p.dispatchOwned(conn, EventLoadEnd)
		f.runAfterListeners(conn, hooks)
		if aborted {
			p.mu.Lock()
			if p.conn == conn && p.readyState == Done {
				p.readyState = Unsent
			}
			p.mu.Unlock()
		}
	})
}

// dispatchOwned delivers an owned event to the proxy listeners.
func (p *Proxy) dispatchOwned(conn *Connection, typ EventType) {
	ev := &Event{Type: typ, Target: p}
	for _, fn := range p.events.Listeners(typ) {
		p.factory.guard("listener."+string(typ), func() {
			fn(ev)
		})
	}
}

// dispatchDelegated delivers a delegated event that the native object
// cannot fire to the host listeners.
func (p *Proxy) dispatchDelegated(typ EventType) {
	ev := &Event{Type: typ, Target: p}
	for _, fn := range p.delegated.Listeners(typ) {
		p.factory.guard("listener."+string(typ), func() {
			fn(ev)
		})
	}
}

// rebind wraps a host listener for a delegated event type so that it sees
// the proxy as the event target and runs on the proxy task queue.
func (p *Proxy) rebind(fn Listener) Listener {
	return func(ev *Event) {
		conn := p.current.Load()
		rebound := *ev
		rebound.Target = p
		p.queue.push(func() {
			if !p.nativeEventIsCurrent(conn) {
				return
			}
			p.factory.guard("listener."+string(rebound.Type), func() {
				fn(&rebound)
			})
		})
		p.queue.drain()
	}
}

// nativeEventIsCurrent returns whether a native event captured for conn
// still belongs to the current, natively opened connection.
func (p *Proxy) nativeEventIsCurrent(conn *Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return conn != nil && conn == p.conn && p.nativeOpened
}

// Handler implements [XHR].
//
// For delegated event types it returns the function set by the host,
// not the rebound wrapper installed on the native object.
func (p *Proxy) Handler(typ EventType) Listener {
	if isOwnedEvent(typ) {
		return p.events.Handler(typ)
	}
	return p.delegated.Handler(typ)
}

// SetHandler implements [XHR].
func (p *Proxy) SetHandler(typ EventType, fn Listener) {
	if isOwnedEvent(typ) {
		p.events.SetHandler(typ, fn)
		return
	}
	p.delegated.SetHandler(typ, fn)
	var bound Listener
	if fn != nil {
		bound = p.rebind(fn)
	}
	p.native.SetHandler(typ, bound)
}

// AddEventListener implements [XHR].
func (p *Proxy) AddEventListener(typ EventType, fn Listener) (remove func()) {
	if isOwnedEvent(typ) {
		return p.events.AddEventListener(typ, fn)
	}
	removeNative := p.native.AddEventListener(typ, p.rebind(fn))
	removeLocal := p.delegated.AddEventListener(typ, fn)
	return func() {
		removeNative()
		removeLocal()
	}
}

// ReadyState implements [XHR].
func (p *Proxy) ReadyState() ReadyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readyState
}

// masksResponseLocked returns whether the response must stay hidden until
// the response chain completes. The caller must hold mu.
func (p *Proxy) masksResponseLocked() bool {
	return p.hooks.transformsResponse() && p.native.ResponseType().IsText()
}

// ResponseText implements [XHR].
//
// While response-text changers apply, it returns "" until [Done] and the
// transformed text afterwards.
func (p *Proxy) ResponseText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case !p.nativeOpened:
		return ""
	case p.masksResponseLocked():
		if p.readyState == Done {
			return p.finalText
		}
		return ""
	default:
		return p.native.ResponseText()
	}
}

// Response implements [XHR].
func (p *Proxy) Response() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case !p.nativeOpened:
		if p.native.ResponseType().IsText() {
			return ""
		}
		return nil
	case p.masksResponseLocked():
		if p.readyState == Done {
			return p.finalText
		}
		return ""
	default:
		return p.native.Response()
	}
}

// Status implements [XHR].
func (p *Proxy) Status() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.nativeOpened {
		return 0
	}
	return p.native.Status()
}

// StatusText implements [XHR].
func (p *Proxy) StatusText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.nativeOpened {
		return ""
	}
	return p.native.StatusText()
}

// ResponseURL implements [XHR].
func (p *Proxy) ResponseURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.nativeOpened {
		return ""
	}
	return p.native.ResponseURL()
}

// GetResponseHeader implements [XHR].
func (p *Proxy) GetResponseHeader(name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.nativeOpened {
		return "", false
	}
	return p.native.GetResponseHeader(name)
}

// GetAllResponseHeaders implements [XHR].
func (p *Proxy) GetAllResponseHeaders() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.nativeOpened {
		return ""
	}
	return p.native.GetAllResponseHeaders()
}

// OverrideMimeType implements [XHR].
func (p *Proxy) OverrideMimeType(mime string) error {
	return p.native.OverrideMimeType(mime)
}

// ResponseType implements [XHR].
func (p *Proxy) ResponseType() ResponseType {
	return p.native.ResponseType()
}

// SetResponseType implements [XHR].
func (p *Proxy) SetResponseType(rt ResponseType) error {
	if err := p.native.SetResponseType(rt); err != nil {
		return err
	}
	if conn := p.current.Load(); conn != nil {
		conn.setResponseType(rt)
	}
	return nil
}

// Timeout implements [XHR].
func (p *Proxy) Timeout() time.Duration {
	return p.native.Timeout()
}

// SetTimeout implements [XHR].
func (p *Proxy) SetTimeout(d time.Duration) error {
	return p.native.SetTimeout(d)
}

// WithCredentials implements [XHR].
func (p *Proxy) WithCredentials() bool {
	return p.native.WithCredentials()
}

// SetWithCredentials implements [XHR].
func (p *Proxy) SetWithCredentials(v bool) error {
	return p.native.SetWithCredentials(v)
}

// Upload implements [XHR].
func (p *Proxy) Upload() *EventTarget {
	return p.native.Upload()
}
