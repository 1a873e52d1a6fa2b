// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/net/http/httpguts"
)

// NewHTTPRequest returns a new [*HTTPRequest] in the [Unsent] state.
//
// The cfg argument contains the common configuration.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewHTTPRequest(cfg *Config, logger SLogger) *HTTPRequest {
	return &HTTPRequest{
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
		Transport:     cfg.Transport,
	}
}

// NewHTTPRequestConstructor returns a [NativeConstructor] creating
// [*HTTPRequest] objects. When the first constructor argument is an
// [http.RoundTripper] it replaces [Config.Transport] for that object.
func NewHTTPRequestConstructor(cfg *Config, logger SLogger) NativeConstructor {
	return func(args ...any) XHR {
		r := NewHTTPRequest(cfg, logger)
		if len(args) > 0 {
			if txp, ok := args[0].(http.RoundTripper); ok {
				r.Transport = txp
			}
		}
		return r
	}
}

// HTTPRequest is a native [XHR] implementation performing requests with
// an [http.RoundTripper].
//
// Each Open starts a new generation: callbacks of a superseded request are
// dropped. Listeners run without internal locks held. In async mode they
// run on the goroutine performing the round trip.
//
// All exported fields are safe to modify after construction but before first use.
type HTTPRequest struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewHTTPRequest] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewHTTPRequest] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewHTTPRequest] from [Config.TimeNow].
	TimeNow func() time.Time

	// Transport performs the round trips.
	//
	// Set by [NewHTTPRequest] from [Config.Transport].
	Transport http.RoundTripper

	events EventTarget
	upload EventTarget

	mu              sync.Mutex
	generation      uint64
	state           ReadyState
	method          string
	url             string
	async           bool
	header          http.Header
	sendFlag        bool
	cancel          context.CancelFunc
	timeout         time.Duration
	withCredentials bool
	responseType    ResponseType
	mimeOverride    string
	status          int
	statusText      string
	responseURL     string
	respHeader      http.Header
	body            []byte
}

var _ XHR = &HTTPRequest{}

// fire dispatches an event with r as the target.
func (r *HTTPRequest) fire(typ EventType, loaded, total int64) {
	r.events.Dispatch(&Event{
		Type:             typ,
		Target:           r,
		LengthComputable: total >= 0,
		Loaded:           loaded,
		Total:            max(total, 0),
	})
}

// resetLocked clears the response. The caller must hold mu.
func (r *HTTPRequest) resetLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.sendFlag = false
	r.status = 0
	r.statusText = ""
	r.responseURL = ""
	r.respHeader = nil
	r.body = nil
}

// Open implements [XHR].
func (r *HTTPRequest) Open(method, rawURL string, async bool) error {
	if !httpguts.ValidHeaderFieldName(method) {
		return fmt.Errorf("%w: method %q", ErrInvalidArgument, method)
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || !parsed.IsAbs() {
		return fmt.Errorf("%w: url %q", ErrInvalidArgument, rawURL)
	}

	r.mu.Lock()
	r.resetLocked()
	r.generation++
	r.method = strings.ToUpper(method)
	r.url = parsed.String()
	r.async = async
	r.header = http.Header{}
	r.state = Opened
	r.mu.Unlock()

	r.fire(EventReadyStateChange, 0, -1)
	return nil
}

// SetRequestHeader implements [XHR].
func (r *HTTPRequest) SetRequestHeader(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("%w: header %q", ErrInvalidArgument, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Opened || r.sendFlag {
		return ErrInvalidState
	}
	r.header.Add(name, value)
	return nil
}

// Send implements [XHR].
//
// In synchronous mode it returns after the completion events fired, and
// returns the round trip error, if any.
func (r *HTTPRequest) Send(body string) error {
	r.mu.Lock()
	if r.state != Opened || r.sendFlag {
		r.mu.Unlock()
		return ErrInvalidState
	}
	r.sendFlag = true
	gen := r.generation
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), r.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	r.cancel = cancel
	method, rawURL, async := r.method, r.url, r.async
	header := r.header.Clone()
	r.mu.Unlock()

	var reader io.Reader
	if body != "" && method != http.MethodGet && method != http.MethodHead {
		reader = strings.NewReader(body)
		if header.Get("Content-Type") == "" {
			header.Set("Content-Type", "text/plain;charset=UTF-8")
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err == nil {
		req.Header = header
	}

	r.fire(EventLoadStart, 0, -1)
	if reader != nil {
		r.upload.Dispatch(&Event{Type: EventLoadStart, Target: &r.upload})
	}

	if !async {
		return r.fetch(ctx, gen, req, err)
	}
	go r.fetch(ctx, gen, req, err)
	return nil
}

// fetch performs the round trip and reads the body firing the events of
// generation gen. A non-nil reqErr fails the request immediately.
func (r *HTTPRequest) fetch(ctx context.Context, gen uint64, req *http.Request, reqErr error) (err error) {
	t0 := r.TimeNow()
	var (
		status int
		loaded int64
	)
	if req != nil {
		r.Logger.Info(
			"httpRequestStart",
			slog.String("httpMethod", req.Method),
			slog.Any("httpRequestHeaders", req.Header),
			slog.String("httpUrl", req.URL.String()),
			slog.Time("t", t0),
		)
		defer func() {
			r.Logger.Info(
				"httpRequestDone",
				slog.Any("err", err),
				slog.String("errClass", r.ErrClassifier.Classify(err)),
				slog.String("httpMethod", req.Method),
				slog.Int("httpResponseStatusCode", status),
				slog.String("httpUrl", req.URL.String()),
				slog.Int64("responseBodyLength", loaded),
				slog.Time("t0", t0),
				slog.Time("t", r.TimeNow()),
			)
		}()
	}
	if reqErr != nil {
		r.fail(ctx, gen, reqErr)
		return reqErr
	}

	resp, err := r.Transport.RoundTrip(req)
	if err != nil {
		r.fail(ctx, gen, err)
		return err
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if req.Body != nil {
		r.upload.Dispatch(&Event{Type: EventLoad, Target: &r.upload})
		r.upload.Dispatch(&Event{Type: EventLoadEnd, Target: &r.upload})
	}

	if !r.advance(gen, func() {
		r.state = HeadersReceived
		r.status = resp.StatusCode
		r.statusText = strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
		r.responseURL = req.URL.String()
		if resp.Request != nil && resp.Request.URL != nil {
			r.responseURL = resp.Request.URL.String()
		}
		r.respHeader = resp.Header
	}) {
		return ErrStaleConnection
	}
	r.fire(EventReadyStateChange, 0, -1)

	total := resp.ContentLength
	buffer := make([]byte, 32<<10)
	for {
		count, readErr := resp.Body.Read(buffer)
		if count > 0 {
			chunk := buffer[:count]
			if !r.advance(gen, func() {
				r.state = Loading
				r.body = append(r.body, chunk...)
			}) {
				return ErrStaleConnection
			}
			loaded += int64(count)
			r.fire(EventReadyStateChange, loaded, total)
			r.fire(EventProgress, loaded, total)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			r.fail(ctx, gen, readErr)
			return readErr
		}
	}

	if !r.advance(gen, func() {
		r.state = Done
		r.sendFlag = false
		r.cancel()
		r.cancel = nil
	}) {
		return ErrStaleConnection
	}
	r.fire(EventReadyStateChange, loaded, total)
	r.fire(EventLoad, loaded, total)
	r.fire(EventLoadEnd, loaded, total)
	return nil
}

// advance applies fn when gen is still the current generation.
func (r *HTTPRequest) advance(gen uint64, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation || !r.sendFlag {
		return false
	}
	fn()
	return true
}

// fail moves generation gen to [Done] with a network error and fires
// either timeout or error.
func (r *HTTPRequest) fail(ctx context.Context, gen uint64, err error) {
	if !r.advance(gen, func() {
		r.resetLocked()
		r.state = Done
	}) {
		return
	}
	r.fire(EventReadyStateChange, 0, -1)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		r.fire(EventTimeout, 0, -1)
	} else {
		r.fire(EventError, 0, -1)
	}
	r.fire(EventLoadEnd, 0, -1)
}

// Abort implements [XHR].
func (r *HTTPRequest) Abort() {
	r.mu.Lock()
	inFlight := (r.state == Opened && r.sendFlag) || r.state == HeadersReceived || r.state == Loading
	switch {
	case inFlight:
		r.resetLocked()
		r.generation++
		r.state = Done
		gen, rawURL := r.generation, r.url
		r.mu.Unlock()

		r.Logger.Debug("httpRequestAbort", slog.String("httpUrl", rawURL), slog.Time("t", r.TimeNow()))
		r.fire(EventReadyStateChange, 0, -1)
		r.fire(EventAbort, 0, -1)
		r.fire(EventLoadEnd, 0, -1)

		r.mu.Lock()
		if r.generation == gen && r.state == Done {
			r.state = Unsent
		}
		r.mu.Unlock()

	case r.state == Done:
		r.resetLocked()
		r.state = Unsent
		r.mu.Unlock()

	default:
		r.mu.Unlock()
	}
}

// ReadyState implements [XHR].
func (r *HTTPRequest) ReadyState() ReadyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Status implements [XHR].
func (r *HTTPRequest) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// StatusText implements [XHR].
func (r *HTTPRequest) StatusText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusText
}

// ResponseURL implements [XHR].
func (r *HTTPRequest) ResponseURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responseURL
}

// GetResponseHeader implements [XHR].
func (r *HTTPRequest) GetResponseHeader(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	values := r.respHeader.Values(name)
	if len(values) <= 0 {
		return "", false
	}
	return strings.Join(values, ", "), true
}

// GetAllResponseHeaders implements [XHR].
//
// Names are lowercase and sorted, and each line ends with CRLF.
func (r *HTTPRequest) GetAllResponseHeaders() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.respHeader))
	for name := range r.respHeader {
		names = append(names, name)
	}
	slices.Sort(names)
	var builder strings.Builder
	for _, name := range names {
		fmt.Fprintf(&builder, "%s: %s\r\n", strings.ToLower(name), strings.Join(r.respHeader[name], ", "))
	}
	return builder.String()
}

// OverrideMimeType implements [XHR].
//
// The override selects the charset used to decode the response text.
func (r *HTTPRequest) OverrideMimeType(value string) error {
	if _, _, err := mime.ParseMediaType(value); err != nil {
		return fmt.Errorf("%w: mime type %q", ErrInvalidArgument, value)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Loading || r.state == Done {
		return ErrInvalidState
	}
	r.mimeOverride = value
	return nil
}

// ResponseType implements [XHR].
func (r *HTTPRequest) ResponseType() ResponseType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.responseType
}

// SetResponseType implements [XHR].
func (r *HTTPRequest) SetResponseType(rt ResponseType) error {
	switch rt {
	case ResponseTypeDefault, ResponseTypeText, ResponseTypeJSON, ResponseTypeArrayBuffer, ResponseTypeBlob:
	default:
		return fmt.Errorf("%w: response type %q", ErrInvalidArgument, rt)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Loading || r.state == Done {
		return ErrInvalidState
	}
	r.responseType = rt
	return nil
}

// textLocked decodes the body according to the charset of the MIME
// override or of the Content-Type. The caller must hold mu.
func (r *HTTPRequest) textLocked() string {
	contentType := r.mimeOverride
	if contentType == "" {
		contentType = r.respHeader.Get("Content-Type")
	}
	_, params, _ := mime.ParseMediaType(contentType)
	if label := params["charset"]; label != "" {
		if enc, name := charset.Lookup(label); enc != nil && name != "utf-8" {
			if decoded, err := enc.NewDecoder().Bytes(r.body); err == nil {
				return string(decoded)
			}
		}
	}
	return string(r.body)
}

// ResponseText implements [XHR].
//
// It returns "" when the response type is not text or before [Loading].
func (r *HTTPRequest) ResponseText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.responseType.IsText() || (r.state != Loading && r.state != Done) {
		return ""
	}
	return r.textLocked()
}

// Response implements [XHR].
//
// Text types return a string, [ResponseTypeJSON] the decoded value (nil
// when the body is not valid JSON), binary types a copy of the bytes.
// Non-text types are only available at [Done].
func (r *HTTPRequest) Response() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responseType.IsText() {
		if r.state != Loading && r.state != Done {
			return ""
		}
		return r.textLocked()
	}
	if r.state != Done || r.status == 0 {
		return nil
	}
	switch r.responseType {
	case ResponseTypeJSON:
		var value any
		if err := json.Unmarshal(r.body, &value); err != nil {
			return nil
		}
		return value
	default:
		return slices.Clone(r.body)
	}
}

// Timeout implements [XHR].
func (r *HTTPRequest) Timeout() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timeout
}

// SetTimeout implements [XHR]. The timeout applies to the next Send.
func (r *HTTPRequest) SetTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
	return nil
}

// WithCredentials implements [XHR].
func (r *HTTPRequest) WithCredentials() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.withCredentials
}

// SetWithCredentials implements [XHR].
func (r *HTTPRequest) SetWithCredentials(v bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if (r.state != Unsent && r.state != Opened) || r.sendFlag {
		return ErrInvalidState
	}
	r.withCredentials = v
	return nil
}

// Upload implements [XHR].
func (r *HTTPRequest) Upload() *EventTarget {
	return &r.upload
}

// Handler implements [XHR].
func (r *HTTPRequest) Handler(typ EventType) Listener {
	return r.events.Handler(typ)
}

// SetHandler implements [XHR].
func (r *HTTPRequest) SetHandler(typ EventType, fn Listener) {
	r.events.SetHandler(typ, fn)
}

// AddEventListener implements [XHR].
func (r *HTTPRequest) AddEventListener(typ EventType, fn Listener) (remove func()) {
	return r.events.AddEventListener(typ, fn)
}
