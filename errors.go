// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import "errors"

// ErrInvalidState indicates that an [XHR] method was called in a state that
// does not allow it (e.g., Send before Open, or Send twice).
var ErrInvalidState = errors.New("xhrproxy: invalid state")

// ErrIncompleteRequest indicates that a request changer returned a [Request]
// lacking the method or the URL.
var ErrIncompleteRequest = errors.New("xhrproxy: incomplete request")

// ErrHookPanic wraps the value recovered from a panicking wrapper hook
// or event listener.
var ErrHookPanic = errors.New("xhrproxy: hook panicked")

// ErrStaleConnection indicates that a deferred continuation belongs to a
// connection that has been superseded by a newer Open or by Abort.
//
// It is never reported through LogError: staleness is a silent no-op.
var ErrStaleConnection = errors.New("xhrproxy: stale connection")

// ErrInvalidArgument indicates a malformed method, URL or header passed
// to an [XHR] method.
var ErrInvalidArgument = errors.New("xhrproxy: invalid argument")
