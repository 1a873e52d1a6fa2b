// SPDX-License-Identifier: GPL-3.0-or-later

package wirecodec

import "strings"

// DecodeArray parses a single array literal without message framing.
//
// It accepts the same syntax as a chunk: single-quoted strings, elided
// elements and embedded line breaks.
func DecodeArray(text string) ([]any, error) {
	array, _, err := decodeChunk(text)
	if err != nil {
		return nil, err
	}
	return array, nil
}

// EncodeArray serializes value as a single-line array literal without
// message framing. Only [Options.IncludeExplicitNulls] affects the output.
func EncodeArray(value []any, opts Options) (string, error) {
	var b strings.Builder
	if err := encodeValue(&b, value, opts); err != nil {
		return "", err
	}
	return b.String(), nil
}
