// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

func newPanicError(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("%w: %w", ErrHookPanic, err)
	}
	return fmt.Errorf("%w: %v", ErrHookPanic, v)
}

// guard runs fn and reports a panic through LogError.
func (f *ProxyFactory) guard(label string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			f.LogError(newPanicError(r), label)
		}
	}()
	fn()
}

// selectWrappers returns the wrappers relevant to conn. A predicate
// that is nil or panics counts as not relevant.
func (f *ProxyFactory) selectWrappers(conn *Connection, wrappers []*Wrapper) (active []*Wrapper) {
	for _, w := range wrappers {
		if w == nil {
			continue
		}
		if w.IsRelevantTo == nil {
			f.LogError(errors.New("xhrproxy: wrapper without IsRelevantTo"), w.label("isRelevantTo"))
			continue
		}
		relevant := false
		f.guard(w.label("isRelevantTo"), func() {
			relevant = w.IsRelevantTo(conn)
		})
		if relevant {
			active = append(active, w)
		}
	}
	return
}

// logSendBody runs the OriginalSendBodyLogger hooks.
func (f *ProxyFactory) logSendBody(conn *Connection, hooks *hookSet, body string) {
	for _, w := range hooks.active {
		if w.OriginalSendBodyLogger != nil {
			f.guard(w.label("originalSendBodyLogger"), func() {
				w.OriginalSendBodyLogger(conn, body)
			})
		}
	}
}

// logOriginalResponseText runs the OriginalResponseTextLogger hooks.
func (f *ProxyFactory) logOriginalResponseText(conn *Connection, hooks *hookSet, text string) {
	for _, w := range hooks.active {
		if w.OriginalResponseTextLogger != nil {
			f.guard(w.label("originalResponseTextLogger"), func() {
				w.OriginalResponseTextLogger(conn, text)
			})
		}
	}
}

// logFinalResponseText runs the FinalResponseTextLogger hooks.
func (f *ProxyFactory) logFinalResponseText(conn *Connection, hooks *hookSet, text string) {
	for _, w := range hooks.active {
		if w.FinalResponseTextLogger != nil {
			f.guard(w.label("finalResponseTextLogger"), func() {
				w.FinalResponseTextLogger(conn, text)
			})
		}
	}
}

// runAfterListeners runs the AfterListeners hooks.
func (f *ProxyFactory) runAfterListeners(conn *Connection, hooks *hookSet) {
	for _, w := range hooks.active {
		if w.AfterListeners != nil {
			f.guard(w.label("afterListeners"), func() {
				w.AfterListeners(conn)
			})
		}
	}
}

// callRequestChanger invokes the hook converting a panic into an error.
func callRequestChanger(ctx context.Context, w *Wrapper, conn *Connection, req Request) (out Request, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return w.RequestChanger(ctx, conn, req)
}

// callResponseTextChanger invokes the hook converting a panic into an error.
func callResponseTextChanger(ctx context.Context, w *Wrapper, conn *Connection, text string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return w.ResponseTextChanger(ctx, conn, text)
}

// labeledError remembers which hook produced an error.
type labeledError struct {
	label string
	err   error
}

func (e *labeledError) Error() string {
	return e.label + ": " + e.err.Error()
}

func (e *labeledError) Unwrap() error {
	return e.err
}

// requestChain builds the left fold of the request changers of conn.
//
// Each stage first checks that conn is still pending (current and not yet
// sent), then invokes the hook and validates its result.
func (p *Proxy) requestChain(conn *Connection, wrappers []*Wrapper) Func[Request, Request] {
	stages := make([]Func[Request, Request], 0, len(wrappers))
	for _, w := range wrappers {
		stages = append(stages, FuncAdapter[Request, Request](func(ctx context.Context, req Request) (Request, error) {
			if !p.requestPending(conn) {
				return Request{}, ErrStaleConnection
			}
			label := w.label("requestChanger")
			out, err := callRequestChanger(ctx, w, conn, req)
			if err != nil {
				return Request{}, &labeledError{label, err}
			}
			if err := out.Validate(); err != nil {
				return Request{}, &labeledError{label, err}
			}
			return out, nil
		}))
	}
	return ComposeAll(stages...)
}

// runRequestChain runs the request chain of conn and enqueues the real send.
//
// This method runs on its own goroutine.
func (p *Proxy) runRequestChain(ctx context.Context, conn *Connection, hooks *hookSet, original Request) {
	f := p.factory
	t0 := f.TimeNow()
	f.Logger.Info(
		"requestChangeStart",
		slog.String("connID", conn.ID()),
		slog.String("httpMethod", original.Method),
		slog.String("httpUrl", original.URL),
		slog.Int("requestChangers", len(hooks.requestChangers)),
		slog.Time("t", t0),
	)

	req, err := p.requestChain(conn, hooks.requestChangers).Call(ctx, original)

	f.Logger.Info(
		"requestChangeDone",
		slog.String("connID", conn.ID()),
		slog.Any("err", err),
		slog.String("errClass", f.ErrClassifier.Classify(err)),
		slog.String("httpMethod", req.Method),
		slog.String("httpUrl", req.URL),
		slog.Time("t0", t0),
		slog.Time("t", f.TimeNow()),
	)

	switch {
	case errors.Is(err, ErrStaleConnection) || ctx.Err() != nil:
		p.logStale(conn, "requestChanger")
		return
	case err != nil:
		var le *labeledError
		label := "requestChanger"
		if errors.As(err, &le) {
			label, err = le.label, le.err
		}
		f.LogError(err, label)
		req = original
	}

	p.queue.push(func() {
		p.startRealSend(conn, req)
	})
	p.queue.drain()
}

// runResponseChain runs the response-text changers of conn seeded with
// text and enqueues the held completion.
//
// This method runs on its own goroutine.
func (p *Proxy) runResponseChain(ctx context.Context, conn *Connection, hooks *hookSet, text string) {
	f := p.factory
	t0 := f.TimeNow()
	f.Logger.Info(
		"responseTextChangeStart",
		slog.String("connID", conn.ID()),
		slog.Int("responseTextChangers", len(hooks.responseTextChangers)),
		slog.Int("responseTextLength", len(text)),
		slog.Time("t", t0),
	)

	var err error
	for _, w := range hooks.responseTextChangers {
		if ctx.Err() != nil || !p.responsePending(conn) {
			err = ErrStaleConnection
			break
		}
		out, hookErr := callResponseTextChanger(ctx, w, conn, text)
		if hookErr != nil {
			f.LogError(hookErr, w.label("responseTextChanger"))
			continue
		}
		text = out
		conn.setModifiedResponseText(text)
	}

	f.Logger.Info(
		"responseTextChangeDone",
		slog.String("connID", conn.ID()),
		slog.Any("err", err),
		slog.String("errClass", f.ErrClassifier.Classify(err)),
		slog.Int("responseTextLength", len(text)),
		slog.Time("t0", t0),
		slog.Time("t", f.TimeNow()),
	)

	if err != nil {
		p.logStale(conn, "responseTextChanger")
		return
	}
	p.queue.push(func() {
		p.finishResponse(conn, text)
	})
	p.queue.drain()
}

// logStale records a continuation that found its connection superseded.
func (p *Proxy) logStale(conn *Connection, where string) {
	p.factory.Logger.Debug(
		"staleContinuation",
		slog.String("connID", conn.ID()),
		slog.String("where", where),
		slog.Time("t", p.factory.TimeNow()),
	)
}
