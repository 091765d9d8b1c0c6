package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Context is the opaque byte sequence the remote service attaches to an
// interrupt. It is echoed back unmodified on the call that consumes the
// interrupt and is never inspected.
//
// Its JSON form is an array of byte values, which is the layout the
// persisted redirect state uses.
type Context []byte

// Clone returns an independent copy.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	copy(out, c)
	return out
}

// Equal reports whether both contexts hold the same bytes.
func (c Context) Equal(other Context) bool {
	return bytes.Equal(c, other)
}

// MarshalJSON encodes the context as an array of numbers.
func (c Context) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(c))
	for i, b := range c {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}

// UnmarshalJSON decodes an array of numbers in the range 0..255.
func (c *Context) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = nil
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	out := make(Context, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("context: value %d at index %d is not a byte", v, i)
		}
		out[i] = byte(v)
	}
	*c = out
	return nil
}
