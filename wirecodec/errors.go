// SPDX-License-Identifier: GPL-3.0-or-later

package wirecodec

import "errors"

var (
	// ErrMissingPrefix indicates that the message does not start with the
	// expected header lines.
	ErrMissingPrefix = errors.New("wirecodec: missing )]}' prefix")

	// ErrMissingLength indicates a chunk without a length line in a message
	// that requires length framing.
	ErrMissingLength = errors.New("wirecodec: missing chunk length")

	// ErrTruncatedChunk indicates a length line larger than the remaining text.
	ErrTruncatedChunk = errors.New("wirecodec: truncated chunk")

	// ErrUnterminatedString indicates a quoted string without closing quote.
	ErrUnterminatedString = errors.New("wirecodec: unterminated string")

	// ErrNotArray indicates a chunk that is not a single array.
	ErrNotArray = errors.New("wirecodec: chunk is not an array")

	// ErrAmbiguousFraming indicates an attempt to encode more than one
	// chunk without length framing.
	ErrAmbiguousFraming = errors.New("wirecodec: multiple chunks require lengths")

	// ErrUnsupportedValue indicates a value that has no wire representation.
	ErrUnsupportedValue = errors.New("wirecodec: unsupported value")
)
