// SPDX-License-Identifier: GPL-3.0-or-later

package wirecodec

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

const (
	// securityPrefix is the anti-hijacking line.
	securityPrefix = ")]}'\n"

	// suggestionMarker precedes the security prefix in suggestion mode.
	suggestionMarker = "5\n"
)

// arrayNewLine matches a line starting with an array continuation.
var arrayNewLine = regexp.MustCompile(`(?m)^[,\]]`)

// Decode parses text into its chunks and the [Options] describing how
// text was framed.
//
// Each element of the returned slice is the []any of a chunk.
func Decode(text string) ([]any, Options, error) {
	var opts Options
	rest, ok := strings.CutPrefix(text, suggestionMarker)
	switch {
	case ok:
		opts.SuggestionMode = true
		if rest, ok = strings.CutPrefix(rest, securityPrefix); !ok {
			return nil, Options{}, ErrMissingPrefix
		}
	default:
		if rest, ok = strings.CutPrefix(text, securityPrefix+"\n"); !ok {
			return nil, Options{}, ErrMissingPrefix
		}
	}

	var (
		value  = []any{}
		elided bool
	)
	opts.NoArrayNewLines = true
	for index := 0; len(rest) > 0; index++ {
		var chunk string
		length, after, framed := readLength(rest, opts.SuggestionMode)
		switch {
		case framed:
			if index == 0 {
				opts.IncludeLengths = true
			}
			if length > len(after) {
				return nil, Options{}, fmt.Errorf("%w: chunk %d wants %d bytes, %d left",
					ErrTruncatedChunk, index, length, len(after))
			}
			chunk, rest = after[:length], after[length:]

		case opts.SuggestionMode || opts.IncludeLengths:
			return nil, Options{}, fmt.Errorf("%w: chunk %d", ErrMissingLength, index)

		default:
			chunk, rest = rest, ""
		}

		if arrayNewLine.MatchString(chunk) {
			opts.NoArrayNewLines = false
		}
		decoded, chunkElided, err := decodeChunk(chunk)
		if err != nil {
			return nil, Options{}, fmt.Errorf("chunk %d: %w", index, err)
		}
		elided = elided || chunkElided
		value = append(value, decoded)
	}
	opts.IncludeExplicitNulls = !elided
	return value, opts, nil
}

// readLength parses a leading length line. In suggestion mode the line
// must end with CRLF, otherwise with LF.
func readLength(text string, suggestion bool) (int, string, bool) {
	line, after, found := strings.Cut(text, "\n")
	if !found {
		return 0, "", false
	}
	if suggestion {
		var ok bool
		if line, ok = strings.CutSuffix(line, "\r"); !ok {
			return 0, "", false
		}
	}
	if line == "" || strings.TrimLeft(line, "0123456789") != "" {
		return 0, "", false
	}
	length, err := strconv.Atoi(line)
	if err != nil {
		return 0, "", false
	}
	return length, after, true
}

// decodeChunk normalizes and parses a single chunk.
func decodeChunk(chunk string) ([]any, bool, error) {
	normal, elided, err := normalize(chunk)
	if err != nil {
		return nil, false, err
	}

	dec := json.NewDecoder(strings.NewReader(normal))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, false, ErrNotArray
		}
		return nil, false, err
	}
	array, ok := value.([]any)
	if !ok {
		return nil, false, ErrNotArray
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false, fmt.Errorf("%w: trailing data", ErrNotArray)
	}
	return array, elided, nil
}
