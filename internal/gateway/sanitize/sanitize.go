// Package sanitize implements the first gateway stage: payload size and media
// type enforcement, and in-place cleaning of JSON, form and query values.
package sanitize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// String strips NUL and other control characters (keeping \n, \r and \t)
// and trims surrounding whitespace. String(String(s)) == String(s).
func String(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(cleaned)
}

var errTrailingData = errors.New("unexpected data after top-level value")

// frame tracks one open object or array while re-encoding.
type frame struct {
	object    bool
	expectKey bool
	n         int
}

// JSON rewrites a JSON document, sanitizing every string value. Object keys,
// key order, number literals and structure are preserved. The output is
// compact. Malformed input returns an error.
func JSON(in []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(in))
	dec.UseNumber()

	var (
		out   bytes.Buffer
		stack []frame
		done  bool
	)
	enc := newStringEncoder()

	afterValue := func() {
		if len(stack) == 0 {
			done = true
			return
		}
		top := &stack[len(stack)-1]
		top.n++
		if top.object {
			top.expectKey = true
		}
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if done {
			return nil, errTrailingData
		}

		if d, ok := tok.(json.Delim); ok && (d == '}' || d == ']') {
			stack = stack[:len(stack)-1]
			out.WriteByte(byte(d))
			afterValue()
			continue
		}

		isKey := false
		if len(stack) > 0 {
			top := &stack[len(stack)-1]
			switch {
			case top.object && top.expectKey:
				if top.n > 0 {
					out.WriteByte(',')
				}
				isKey = true
				top.expectKey = false
			case top.object:
				out.WriteByte(':')
			case top.n > 0:
				out.WriteByte(',')
			}
		}

		switch t := tok.(type) {
		case json.Delim:
			out.WriteByte(byte(t))
			stack = append(stack, frame{object: t == '{', expectKey: t == '{'})
			continue
		case string:
			if isKey {
				enc.write(&out, t)
				continue
			}
			enc.write(&out, String(t))
		case json.Number:
			out.WriteString(t.String())
		case bool:
			if t {
				out.WriteString("true")
			} else {
				out.WriteString("false")
			}
		case nil:
			out.WriteString("null")
		default:
			return nil, fmt.Errorf("unexpected token %T", tok)
		}
		afterValue()
	}

	if !done {
		return nil, io.ErrUnexpectedEOF
	}
	return out.Bytes(), nil
}

// stringEncoder encodes JSON strings without HTML escaping so sanitized
// output stays byte-identical across passes.
type stringEncoder struct {
	buf bytes.Buffer
	enc *json.Encoder
}

func newStringEncoder() *stringEncoder {
	e := &stringEncoder{}
	e.enc = json.NewEncoder(&e.buf)
	e.enc.SetEscapeHTML(false)
	return e
}

func (e *stringEncoder) write(out *bytes.Buffer, s string) {
	e.buf.Reset()
	_ = e.enc.Encode(s)
	out.Write(bytes.TrimSuffix(e.buf.Bytes(), []byte{'\n'}))
}
