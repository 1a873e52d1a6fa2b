//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/ooni/probe-cli/blob/v3.20.0/internal/x/dslx/fxcore.go
//

package xhrproxy

import "context"

// Compose2 chains two [Func] instances together into a pipeline.
//
// The output of op1 becomes the input to op2. If op1 returns an error,
// op2 is not called and the error is returned immediately.
func Compose2[A, B, C any](op1 Func[A, B], op2 Func[B, C]) Func[A, C] {
	return &compose2[A, B, C]{op1, op2}
}

type compose2[A, B, C any] struct {
	op1 Func[A, B]
	op2 Func[B, C]
}

func (c *compose2[A, B, C]) Call(ctx context.Context, input A) (C, error) {
	res, err := c.op1.Call(ctx, input)
	if err != nil {
		var zero C
		return zero, err
	}
	return c.op2.Call(ctx, res)
}

// ComposeAll folds zero or more endomorphic [Func] stages left to right.
//
// With no stages, the returned [Func] returns its input unchanged.
func ComposeAll[A any](ops ...Func[A, A]) Func[A, A] {
	var out Func[A, A] = identity[A]{}
	for _, op := range ops {
		out = Compose2(out, op)
	}
	return out
}

type identity[A any] struct{}

func (identity[A]) Call(ctx context.Context, input A) (A, error) {
	return input, nil
}
