// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying a span.
//
// Each [*Connection] is a span: every log event emitted while serving it
// carries the same connID, which makes it easy to follow one request
// through the wrapper hooks, the chains and the native events.
//
// This function panics if the system random number generator fails,
// which should only happen under extraordinary circumstances.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
