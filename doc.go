// SPDX-License-Identifier: GPL-3.0-or-later

// Package xhrproxy intercepts XMLHttpRequest-style request objects through a
// pipeline of pluggable wrappers.
//
// # Core Abstraction
//
// The package is built around the [XHR] interface, which models the
// event-driven request object of a browser: Open, SetRequestHeader, Send
// and Abort drive a ready-state machine whose transitions are observed
// through readystatechange, load, error, loadend and friends.
//
// A [*ProxyFactory] builds [*Proxy] objects that implement [XHR] on top of a
// native [XHR] returned by a [NativeConstructor]. At each Open the proxy
// creates a [*Connection] and selects the [Wrapper] instances whose
// IsRelevantTo predicate matches it. Wrapper hooks may observe the original
// body, rewrite the request before it reaches the native object, observe
// and rewrite the response text, and run after the host listeners:
//
//	OriginalSendBodyLogger → RequestChanger → (real send) →
//	OriginalResponseTextLogger → ResponseTextChanger →
//	FinalResponseTextLogger → (completion events) → AfterListeners
//
// Request and response changers are asynchronous: they run on their own
// goroutine and are folded in registration order using [ComposeAll]. While
// a changer runs, the proxy holds the corresponding transition back, so the
// host never observes the unmodified response text. With no relevant
// wrapper a proxy is indistinguishable from the native object.
//
// # Available Primitives
//
// Request objects:
//   - [*Proxy]: the intercepting request object (created via [ProxyFactory.New])
//   - [*HTTPRequest]: a native [XHR] performing round trips through an
//     [http.RoundTripper] (use [NewHTTPRequestConstructor] with a factory)
//   - [*EventTarget]: listener registry shared by both
//
// Transport:
//   - [*ConnTransport]: an [http.RoundTripper] bound to a single connection,
//     speaking HTTP/2 when negotiated through ALPN
//   - [DialConnTransport]: composes [*TCPConnectFunc] and [*TLSClientFunc]
//     into a pipeline returning a [*ConnTransport]
//
// Wire format:
//   - [NewWireResponseTextChanger]: adapts an editor of decoded chunks into
//     a ResponseTextChanger for )]}'-prefixed responses, using the
//     [github.com/bassosimone/xhrproxy/wirecodec] package
//
// Composition utilities:
//   - [Compose2] and [ComposeAll]: chain Funcs into pipelines
//   - [FuncAdapter]: wrap a function as a Func
//
// # Concurrency
//
// Each [*Proxy] serializes its event deliveries: native callbacks and
// changer completions enqueue tasks that run in order, one at a time, and
// never while a native method call is in progress. Listeners may therefore
// call back into the proxy, including re-opening it. The IsRelevantTo
// predicates and the OriginalSendBodyLogger hooks are the exception: they
// run on the goroutine calling Open and Send. Continuations of a
// superseded or aborted connection are discarded and logged at Debug level.
//
// # Observability
//
// All types support structured logging via [SLogger] (compatible with [log/slog]).
//
// By default, logging is disabled. Errors returned or raised by wrapper hooks
// are reported through [ProxyFactory.LogError], which by default emits a
// hookError event at Warn level. Error classification is configurable via
// [ErrClassifier].
//
// Lifecycle events come in *Start/*Done pairs (requestChangeStart and
// requestChangeDone, httpRoundTripStart and httpRoundTripDone, and so on).
// Completion events additionally include t0 (start time), err, and errClass.
// Use [NewSpanID] (the default [Config.NewConnectionID]) to correlate the
// events of a connection.
package xhrproxy
