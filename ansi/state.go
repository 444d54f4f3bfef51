package ansi

import (
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Style is the SGR text style in effect.
type Style struct {
	Fg        string `msgpack:"fg,omitempty"`
	Bg        string `msgpack:"bg,omitempty"`
	Bold      bool   `msgpack:"b,omitempty"`
	Faint     bool   `msgpack:"f,omitempty"`
	Italic    bool   `msgpack:"i,omitempty"`
	Underline bool   `msgpack:"u,omitempty"`
}

// Plain reports whether no styling is active.
func (s Style) Plain() bool {
	return s == Style{}
}

// State is the resumable rendering state: the byte offset already rendered,
// the active style and the stack of sections opened but not yet closed.
//
// A State crosses request boundaries in encoded form (see Encode).
type State struct {
	Offset   int64    `msgpack:"o"`
	Style    Style    `msgpack:"s"`
	Sections []string `msgpack:"x,omitempty"`
}

// Encode serializes the state into an opaque URL-safe token.
func (s State) Encode() (string, error) {
	data, err := msgpack.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encode render state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeState parses a token produced by Encode.
func DecodeState(token string) (State, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return State{}, fmt.Errorf("decode render state: %w", err)
	}
	var s State
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode render state: %w", err)
	}
	if s.Offset < 0 {
		return State{}, fmt.Errorf("decode render state: negative offset %d", s.Offset)
	}
	return s, nil
}
