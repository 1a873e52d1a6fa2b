// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/bassosimone/runtimex"
)

// Request is the request threaded through the request-changer chain.
type Request struct {
	Method string
	URL    string
	Body   string
}

// Validate returns [ErrIncompleteRequest] when Method or URL is empty.
func (r Request) Validate() error {
	switch {
	case r.Method == "":
		return fmt.Errorf("%w: missing method", ErrIncompleteRequest)
	case r.URL == "":
		return fmt.Errorf("%w: missing url", ErrIncompleteRequest)
	default:
		return nil
	}
}

// Connection tracks a single request served by a [*Proxy].
//
// A new Connection is created by each Open call and never reused. Wrappers
// receive it by reference: they can read every field, but only the proxy
// writes the core fields. Hooks can store derived values with [Connection.Annotate].
//
// The OriginalSendBody, OriginalResponseText, and Request fields are
// write-once. All methods are safe for concurrent use.
type Connection struct {
	id     string
	method string
	url    string
	params url.Values
	async  bool

	mu              sync.Mutex
	status          int
	responseType    ResponseType
	sendBody        string
	hasSendBody     bool
	responseText    string
	hasResponseText bool
	modifiedText    string
	request         Request
	hasRequest      bool
	aborted         bool
	annotations     map[string]any
}

func newConnection(id, method, rawURL string, async bool, rt ResponseType) *Connection {
	return &Connection{
		id:           id,
		method:       method,
		url:          rawURL,
		params:       parseParams(rawURL),
		async:        async,
		responseType: rt,
	}
}

// parseParams returns the query parameters of rawURL, or an empty
// mapping when rawURL cannot be parsed.
func parseParams(rawURL string) url.Values {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return url.Values{}
	}
	return parsed.Query()
}

// ID returns the unique connection identifier (a UUIDv7 by default).
func (c *Connection) ID() string {
	return c.id
}

// Method returns the method passed to Open.
func (c *Connection) Method() string {
	return c.method
}

// URL returns the URL passed to Open.
func (c *Connection) URL() string {
	return c.url
}

// Params returns a copy of the query parameters of the URL.
func (c *Connection) Params() url.Values {
	out := make(url.Values, len(c.params))
	for key, values := range c.params {
		out[key] = append([]string(nil), values...)
	}
	return out
}

// Async returns the async flag passed to Open.
func (c *Connection) Async() bool {
	return c.async
}

// Status returns the HTTP status code, or zero before headers arrive.
func (c *Connection) Status() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Connection) setStatus(status int) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// ResponseType returns the response type of the connection.
func (c *Connection) ResponseType() ResponseType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseType
}

func (c *Connection) setResponseType(rt ResponseType) {
	c.mu.Lock()
	c.responseType = rt
	c.mu.Unlock()
}

// OriginalSendBody returns the body passed to Send and whether Send was called.
func (c *Connection) OriginalSendBody() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendBody, c.hasSendBody
}

func (c *Connection) setOriginalSendBody(body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	runtimex.Assert(!c.hasSendBody)
	c.sendBody, c.hasSendBody = body, true
}

// OriginalResponseText returns the unmodified native response text and
// whether it is available. It is only set for text-typed responses.
func (c *Connection) OriginalResponseText() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseText, c.hasResponseText
}

func (c *Connection) setOriginalResponseText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	runtimex.Assert(!c.hasResponseText)
	c.responseText, c.hasResponseText = text, true
	c.modifiedText = text
}

// ModifiedResponseText returns the running value of the response-text
// changer chain: the output of the last stage that completed.
func (c *Connection) ModifiedResponseText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modifiedText
}

func (c *Connection) setModifiedResponseText(text string) {
	c.mu.Lock()
	c.modifiedText = text
	c.mu.Unlock()
}

// Request returns the request issued to the native object and whether
// it has been issued. It differs from Method, URL and OriginalSendBody
// when request changers rewrote it.
func (c *Connection) Request() (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.request, c.hasRequest
}

func (c *Connection) setRequest(req Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	runtimex.Assert(!c.hasRequest)
	c.request, c.hasRequest = req, true
}

// Aborted returns whether Abort was called after Send.
func (c *Connection) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

func (c *Connection) markAborted() {
	c.mu.Lock()
	c.aborted = true
	c.mu.Unlock()
}

// Annotate stores a value derived by a hook under key.
func (c *Connection) Annotate(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.annotations == nil {
		c.annotations = make(map[string]any)
	}
	c.annotations[key] = value
}

// Annotation returns the value stored by [Connection.Annotate].
func (c *Connection) Annotation(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, found := c.annotations[key]
	return value, found
}
