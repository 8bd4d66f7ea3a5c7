// Package canon produces a stable JSON encoding used as hashing input.
//
// Object keys are sorted by their UTF-8 bytes at every nesting level, array
// order is kept, explicit nulls are kept and absent fields stay absent.
// Numbers keep the decimal text they arrived with, so normalizing an already
// canonical document is a fixed point. HTML characters are not escaped.
package canon

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"unicode/utf8"
)

// ErrInvalidJSON is returned when the input cannot be decoded as a single JSON value.
var ErrInvalidJSON = errors.New("canon: invalid JSON")

// Marshal encodes v with encoding/json and returns its canonical form.
// Use json.RawMessage to canonicalize text that is already JSON.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	return Normalize(raw)
}

// Normalize canonicalizes raw JSON text.
func Normalize(data []byte) ([]byte, error) {
	value, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Encode(value)
}

// Decode parses exactly one JSON value, keeping numbers as json.Number.
// Input that is not valid UTF-8 is rejected rather than repaired, since
// encoding/json would fold distinct byte sequences into U+FFFD.
func Decode(data []byte) (any, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: input is not valid UTF-8", ErrInvalidJSON)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: unexpected data after value", ErrInvalidJSON)
	}
	return value, nil
}

// Encode writes a decoded value (as produced by Decode) in canonical form.
func Encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(v.String())
	case string:
		return encodeString(buf, v)
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := encode(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		// float64 and friends only show up when callers build values by hand.
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("canon: unsupported value %T: %w", value, err)
		}
		nested, err := Decode(raw)
		if err != nil {
			return err
		}
		return encode(buf, nested)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}
