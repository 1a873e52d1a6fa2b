// SPDX-License-Identifier: GPL-3.0-or-later

package xhrproxy

import (
	"context"

	"github.com/bassosimone/xhrproxy/wirecodec"
)

// WireTextEditor edits the decoded chunks of a )]}'-prefixed response.
type WireTextEditor func(ctx context.Context, conn *Connection, chunks []any) ([]any, error)

// NewWireResponseTextChanger adapts edit into a [Wrapper] ResponseTextChanger.
//
// The returned function decodes the text with [wirecodec.Decode], passes
// the chunks to edit and encodes the result with the options detected
// while decoding, so the response keeps its original framing. Decoding
// and encoding errors are returned, which keeps the previous text.
func NewWireResponseTextChanger(edit WireTextEditor) func(ctx context.Context, conn *Connection, text string) (string, error) {
	return func(ctx context.Context, conn *Connection, text string) (string, error) {
		chunks, opts, err := wirecodec.Decode(text)
		if err != nil {
			return "", err
		}
		chunks, err = edit(ctx, conn, chunks)
		if err != nil {
			return "", err
		}
		return wirecodec.Encode(chunks, opts)
	}
}
