package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

var (
	ErrInvalidParams = errors.New("invalid rpc params")
	ErrMissingParam  = errors.New("missing rpc param")
)

// Params are the decoded arguments of a remote call. Values stay raw until a
// handler asks for them with the type it expects.
type Params struct {
	Args   []json.RawMessage
	Kwargs map[string]json.RawMessage
}

type wireParams struct {
	Args   *[]json.RawMessage          `json:"a"`
	Kwargs *map[string]json.RawMessage `json:"k"`
}

// Encode packs args and kwargs as compact JSON of the form {"a":[...],"k":{...}}.
// The output is pure 7-bit ASCII; anything else is written as a \uXXXX escape.
func Encode(args []any, kwargs map[string]any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(struct {
		Args   []any          `json:"a"`
		Kwargs map[string]any `json:"k"`
	}{args, kwargs})
	if err != nil {
		return nil, fmt.Errorf("encoding rpc params: %w", err)
	}
	return escapeNonASCII(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// escapeNonASCII rewrites every multi-byte rune in data as a JSON \u escape,
// using surrogate pairs outside the basic multilingual plane. Non-ASCII bytes
// only ever occur inside JSON strings, so this does not change the value.
func escapeNonASCII(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for len(data) > 0 {
		if data[0] < utf8.RuneSelf {
			out = append(out, data[0])
			data = data[1:]
			continue
		}

		r, size := utf8.DecodeRune(data)
		data = data[size:]
		if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			out = fmt.Appendf(out, `\u%04x\u%04x`, r1, r2)
		} else {
			out = fmt.Appendf(out, `\u%04x`, r)
		}
	}
	return out
}

// Decode parses params produced by Encode. Both the "a" and "k" members are required.
func Decode(data []byte) (*Params, error) {
	var w wireParams
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if w.Args == nil || w.Kwargs == nil {
		return nil, fmt.Errorf("%w: expected both \"a\" and \"k\" members", ErrInvalidParams)
	}
	return &Params{Args: *w.Args, Kwargs: *w.Kwargs}, nil
}

// Arg decodes the positional argument at index i into v.
func (p *Params) Arg(i int, v any) error {
	if i < 0 || i >= len(p.Args) {
		return fmt.Errorf("%w: positional argument %d (got %d)", ErrMissingParam, i, len(p.Args))
	}
	if err := json.Unmarshal(p.Args[i], v); err != nil {
		return fmt.Errorf("%w: positional argument %d: %v", ErrInvalidParams, i, err)
	}
	return nil
}

// Kwarg decodes the keyword argument name into v.
func (p *Params) Kwarg(name string, v any) error {
	raw, ok := p.Kwargs[name]
	if !ok {
		return fmt.Errorf("%w: keyword argument %q", ErrMissingParam, name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: keyword argument %q: %v", ErrInvalidParams, name, err)
	}
	return nil
}

// HasKwarg reports whether the keyword argument name was passed.
func (p *Params) HasKwarg(name string) bool {
	_, ok := p.Kwargs[name]
	return ok
}
