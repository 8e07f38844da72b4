// Package rpc holds the contract between a networked method call on one peer
// and its execution on another: where the call runs, how its arguments are
// packed and which handler executes it.
package rpc

import (
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

var (
	ErrDuplicateMethod = errors.New("rpc method already registered")
	ErrInvalidMethod   = errors.New("invalid rpc method")
	ErrTargetType      = errors.New("rpc target has the wrong type")
)

// Handler executes one remote call against target, the component that the
// call was addressed to.
type Handler func(call *Call, target any, p *Params) error

// Method is a registered remote procedure.
type Method struct {
	Kind      string
	Name      string
	Recipient Recipient
	Handler   Handler
}

type methodKey struct {
	kind string
	name string
}

// Table maps (component kind, method name) to the handler that executes it.
// It is filled at startup and only read afterwards.
type Table struct {
	methods map[methodKey]*Method
}

func NewTable() *Table {
	return &Table{methods: make(map[methodKey]*Method)}
}

// Register adds a method to the table. Names must be non-empty 7-bit ASCII
// since they travel in ToServerExecuteRPC datagrams.
func (t *Table) Register(kind, name string, recipient Recipient, handler Handler) error {
	switch {
	case kind == "":
		return fmt.Errorf("%w: empty component kind", ErrInvalidMethod)
	case name == "" || !isASCII(name):
		return fmt.Errorf("%w: method name %q must be non-empty ASCII", ErrInvalidMethod, name)
	case !recipient.Valid():
		return fmt.Errorf("%w: %s.%s has %s", ErrInvalidMethod, kind, name, recipient)
	case handler == nil:
		return fmt.Errorf("%w: %s.%s has no handler", ErrInvalidMethod, kind, name)
	}

	key := methodKey{kind, name}
	if _, ok := t.methods[key]; ok {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateMethod, kind, name)
	}
	t.methods[key] = &Method{Kind: kind, Name: name, Recipient: recipient, Handler: handler}
	return nil
}

// MustRegister is Register for use during startup; it panics on error.
func (t *Table) MustRegister(kind, name string, recipient Recipient, handler Handler) {
	if err := t.Register(kind, name, recipient, handler); err != nil {
		panic(err)
	}
}

func (t *Table) Lookup(kind, name string) (*Method, bool) {
	m, ok := t.methods[methodKey{kind, name}]
	return m, ok
}

// Methods returns every registered method ordered by kind and then name.
func (t *Table) Methods() []Method {
	out := make([]Method, 0, len(t.methods))
	for _, m := range t.methods {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Bind adapts a handler written against a concrete component type.
func Bind[T any](fn func(call *Call, target T, p *Params) error) Handler {
	return func(call *Call, target any, p *Params) error {
		typed, ok := target.(T)
		if !ok {
			return fmt.Errorf("%w: %T", ErrTargetType, target)
		}
		return fn(call, typed, p)
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
