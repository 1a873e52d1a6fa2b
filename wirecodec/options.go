// SPDX-License-Identifier: GPL-3.0-or-later

package wirecodec

// Options describes the framing variants detected by [Decode].
//
// Pass the same Options to [Encode] to reproduce the original framing.
type Options struct {
	// IncludeLengths tells whether chunks are preceded by a length line.
	IncludeLengths bool

	// SuggestionMode tells whether the message uses the suggestion header.
	// Suggestion-mode messages always carry lengths.
	SuggestionMode bool

	// NoArrayNewLines tells whether top-level chunk arrays are written on a
	// single line. When false, each element after the first starts a new
	// line with a comma and the closing bracket sits on its own line.
	NoArrayNewLines bool

	// IncludeExplicitNulls tells whether nil is written as null. When
	// false, nil array elements are elided.
	IncludeExplicitNulls bool
}
