// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"log/slog"
	"time"
)

// NewProxyFactory returns a new [*ProxyFactory].
//
// The cfg argument contains the common configuration.
//
// The native argument constructs the [XHR] objects to wrap.
//
// The wrappers argument is held by reference: later edits affect the
// connections opened afterwards.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewProxyFactory(cfg *Config, native NativeConstructor, wrappers *WrapperList, logger SLogger) *ProxyFactory {
	f := &ProxyFactory{
		ErrClassifier:   cfg.ErrClassifier,
		Logger:          logger,
		Native:          native,
		NewConnectionID: cfg.NewConnectionID,
		TimeNow:         cfg.TimeNow,
		Wrappers:        wrappers,
	}
	f.LogError = f.logHookError
	return f
}

// ProxyFactory creates [*Proxy] instances sharing a [*WrapperList].
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [ProxyFactory.New].
type ProxyFactory struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewProxyFactory] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// LogError receives hook faults, contract violations and listener
	// panics, labeled by the hook that caused them. It may be called from
	// chain goroutines.
	//
	// Set by [NewProxyFactory] to a function emitting a hookError event
	// at Warn level through Logger.
	LogError func(err error, label string)

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewProxyFactory] to the user-provided logger.
	Logger SLogger

	// Native constructs the native [XHR] wrapped by each proxy.
	//
	// Set by [NewProxyFactory] to the user-provided constructor.
	Native NativeConstructor

	// NewConnectionID returns the identifier of each new [*Connection].
	//
	// Set by [NewProxyFactory] from [Config.NewConnectionID].
	NewConnectionID func() string

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewProxyFactory] from [Config.TimeNow].
	TimeNow func() time.Time

	// Wrappers is the shared wrapper collection.
	//
	// Set by [NewProxyFactory] to the user-provided list.
	Wrappers *WrapperList
}

// New constructs the native object forwarding args and wraps it.
func (f *ProxyFactory) New(args ...any) *Proxy {
	p := &Proxy{
		factory: f,
		native:  f.Native(args...),
	}
	p.queue.onPanic = func(v any) {
		f.LogError(newPanicError(v), "task")
	}
	p.native.SetHandler(EventReadyStateChange, p.onNativeReadyStateChange)
	return p
}

func (f *ProxyFactory) logHookError(err error, label string) {
	f.Logger.Warn(
		"hookError",
		slog.Any("err", err),
		slog.String("errClass", f.ErrClassifier.Classify(err)),
		slog.String("hook", label),
		slog.Time("t", f.TimeNow()),
	)
}
