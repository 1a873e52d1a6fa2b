// SPDX-License-Identifier: GPL-3.0-or-later

// Package wirecodec decodes and encodes the quasi-JSON wire format used by
// some web backends in responses that a [github.com/bassosimone/xhrproxy]
// wrapper may want to inspect or rewrite.
//
// A message starts with the )]}' anti-hijacking line and carries one or
// more chunks. Each chunk is an array literal that may use single-quoted
// strings and elided elements (as in [1,,2]). Chunks are either framed by
// a decimal byte length on the preceding line, or the message holds a
// single chunk spanning the rest of the text. Suggestion-mode messages
// start with a "5" marker line and always use length framing with CRLF
// after the length.
//
// [Decode] returns the chunks as []any values, where arrays are []any,
// strings are string, numbers are [encoding/json.Number], booleans are
// bool and null (or an elided element) is nil, together with the
// [Options] describing the framing. [Encode] with the same [Options]
// reproduces the original bytes for canonically encoded messages:
// double-quoted strings escaping <, >, & and = as \u00XX sequences.
package wirecodec
