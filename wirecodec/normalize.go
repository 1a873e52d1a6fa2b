// SPDX-License-Identifier: GPL-3.0-or-later

package wirecodec

import "strings"

// normalize rewrites a chunk into strict JSON.
//
// Outside of strings it drops CR, LF and TAB and fills elided array
// elements with null. Single-quoted strings become double-quoted ones.
// The returned bool tells whether any element was elided.
func normalize(chunk string) (string, bool, error) {
	var (
		b      strings.Builder
		elided bool
		last   byte // last significant byte written outside strings
	)
	b.Grow(len(chunk))
	for i := 0; i < len(chunk); {
		c := chunk[i]
		switch {
		case c == '\r' || c == '\n' || c == '\t':
			i++

		case c == ' ':
			b.WriteByte(c)
			i++

		case c == '"':
			end, err := scanDoubleQuoted(chunk, i)
			if err != nil {
				return "", false, err
			}
			b.WriteString(chunk[i:end])
			last, i = '"', end

		case c == '\'':
			end, err := convertSingleQuoted(&b, chunk, i)
			if err != nil {
				return "", false, err
			}
			last, i = '"', end

		default:
			if (c == ',' && (last == '[' || last == ',')) || (c == ']' && last == ',') {
				b.WriteString("null")
				elided = true
			}
			b.WriteByte(c)
			last = c
			i++
		}
	}
	return b.String(), elided, nil
}

// scanDoubleQuoted returns the offset just past the string starting at
// text[start].
func scanDoubleQuoted(text string, start int) (int, error) {
	for i := start + 1; i < len(text); i++ {
		switch text[i] {
		case '\\':
			i++
		case '"':
			return i + 1, nil
		}
	}
	return 0, ErrUnterminatedString
}

// convertSingleQuoted writes the single-quoted string starting at
// text[start] as a JSON string and returns the offset just past it.
func convertSingleQuoted(b *strings.Builder, text string, start int) (int, error) {
	b.WriteByte('"')
	for i := start + 1; i < len(text); {
		c := text[i]
		switch c {
		case '\'':
			b.WriteByte('"')
			return i + 1, nil

		case '"':
			b.WriteString(`\"`)
			i++

		case '\n':
			b.WriteString(`\n`)
			i++

		case '\r':
			b.WriteString(`\r`)
			i++

		case '\t':
			b.WriteString(`\t`)
			i++

		case '\\':
			if i+1 >= len(text) {
				return 0, ErrUnterminatedString
			}
			switch next := text[i+1]; {
			case next == '\'':
				b.WriteByte('\'')
				i += 2
			case next == 'x' && i+3 < len(text) && isHex(text[i+2]) && isHex(text[i+3]):
				b.WriteString(`\u00`)
				b.WriteString(text[i+2 : i+4])
				i += 4
			default:
				b.WriteByte('\\')
				b.WriteByte(next)
				i += 2
			}

		default:
			b.WriteByte(c)
			i++
		}
	}
	return 0, ErrUnterminatedString
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
