// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import "context"

// Func is a generic operation that accepts an input and returns a result.
//
// The request-changer chain is built by composing one Func per wrapper
// using [ComposeAll], so that each stage receives the [Request] produced
// by the previous stage and the first failing stage stops the fold.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func] implementation.
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
