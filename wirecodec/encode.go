// SPDX-License-Identifier: GPL-3.0-or-later

package wirecodec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Encode serializes chunks according to opts.
//
// Every element of chunks must be a []any. Multiple chunks require
// [Options.IncludeLengths] or [Options.SuggestionMode].
func Encode(chunks []any, opts Options) (string, error) {
	lengths := opts.IncludeLengths || opts.SuggestionMode
	if !lengths && len(chunks) > 1 {
		return "", ErrAmbiguousFraming
	}

	var b strings.Builder
	if opts.SuggestionMode {
		b.WriteString(suggestionMarker + securityPrefix)
	} else {
		b.WriteString(securityPrefix + "\n")
	}
	for index, chunk := range chunks {
		array, ok := chunk.([]any)
		if !ok {
			return "", fmt.Errorf("chunk %d: %w", index, ErrNotArray)
		}
		text, err := encodeChunk(array, opts)
		if err != nil {
			return "", fmt.Errorf("chunk %d: %w", index, err)
		}
		if lengths {
			b.WriteString(strconv.Itoa(len(text)))
			if opts.SuggestionMode {
				b.WriteString("\r\n")
			} else {
				b.WriteString("\n")
			}
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// encodeChunk serializes a top-level chunk array.
func encodeChunk(array []any, opts Options) (string, error) {
	var b strings.Builder
	switch {
	case opts.NoArrayNewLines:
		if err := encodeValue(&b, array, opts); err != nil {
			return "", err
		}
	default:
		b.WriteByte('[')
		for idx, elem := range array {
			if idx > 0 {
				b.WriteString("\n,")
			}
			if err := encodeElement(&b, elem, opts); err != nil {
				return "", err
			}
		}
		b.WriteString("\n]")
	}
	if !opts.SuggestionMode {
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// encodeElement serializes an array element, eliding nil unless
// [Options.IncludeExplicitNulls] is set.
func encodeElement(b *strings.Builder, elem any, opts Options) error {
	if elem == nil && !opts.IncludeExplicitNulls {
		return nil
	}
	return encodeValue(b, elem, opts)
}

func encodeValue(b *strings.Builder, value any, opts Options) error {
	switch v := value.(type) {
	case nil:
		b.WriteString("null")

	case []any:
		b.WriteByte('[')
		for idx, elem := range v {
			if idx > 0 {
				b.WriteByte(',')
			}
			if err := encodeElement(b, elem, opts); err != nil {
				return err
			}
		}
		b.WriteByte(']')

	case string:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b.WriteString(strings.ReplaceAll(string(data), "=", `\u003d`))

	case json.Number:
		if _, err := strconv.ParseFloat(string(v), 64); err != nil {
			return fmt.Errorf("%w: number %q", ErrUnsupportedValue, string(v))
		}
		b.WriteString(string(v))

	case bool:
		b.WriteString(strconv.FormatBool(v))

	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %v", ErrUnsupportedValue, v)
		}
		data, _ := json.Marshal(v)
		b.Write(data)

	case int:
		b.WriteString(strconv.Itoa(v))

	case int64:
		b.WriteString(strconv.FormatInt(v, 10))

	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}
	return nil
}
