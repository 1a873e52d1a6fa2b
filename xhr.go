// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import "time"

// ResponseType selects how the response body is exposed by [XHR.Response].
type ResponseType string

// Response types.
const (
	ResponseTypeDefault     = ResponseType("")
	ResponseTypeText        = ResponseType("text")
	ResponseTypeJSON        = ResponseType("json")
	ResponseTypeArrayBuffer = ResponseType("arraybuffer")
	ResponseTypeBlob        = ResponseType("blob")
)

// IsText returns whether the body is exposed as text.
func (rt ResponseType) IsText() bool {
	return rt == ResponseTypeDefault || rt == ResponseTypeText
}

// XHR is the capability surface of an asynchronous request object.
//
// Both the native object ([*HTTPRequest], or any host-provided
// implementation) and the [*Proxy] wrapping it implement XHR, so that
// host code cannot tell them apart by their public contract.
//
// Implementations must not hold internal locks while invoking listeners,
// and must not deliver events belonging to a request after Open has
// started a new one.
type XHR interface {
	// Open initializes a request. It fires readystatechange.
	Open(method, url string, async bool) error

	// SetRequestHeader adds a request header. Valid between Open and Send.
	SetRequestHeader(name, value string) error

	// Send starts the request. In synchronous mode it blocks until Done.
	Send(body string) error

	// Abort cancels the request, if any.
	Abort()

	ReadyState() ReadyState
	Status() int
	StatusText() string
	ResponseURL() string
	GetResponseHeader(name string) (string, bool)
	GetAllResponseHeaders() string
	OverrideMimeType(mime string) error

	ResponseType() ResponseType
	SetResponseType(rt ResponseType) error

	// ResponseText returns the response body as text.
	ResponseText() string

	// Response returns the body decoded according to the [ResponseType].
	Response() any

	Timeout() time.Duration
	SetTimeout(d time.Duration) error
	WithCredentials() bool
	SetWithCredentials(v bool) error

	// Upload returns the event target for upload progress events.
	Upload() *EventTarget

	Handler(typ EventType) Listener
	SetHandler(typ EventType, fn Listener)
	AddEventListener(typ EventType, fn Listener) (remove func())
}

// NativeConstructor creates the native [XHR] wrapped by a [*Proxy].
//
// The args are forwarded unchanged from [ProxyFactory.New].
type NativeConstructor func(args ...any) XHR
