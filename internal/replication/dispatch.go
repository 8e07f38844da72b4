package replication

import (
	"fmt"

	"github.com/dcrodman/roost/internal/rpc"
)

// AttachEntity stamps every networked component of e with id and owner.
func AttachEntity(host Host, e Entity, id NetworkEntityID, owner ConnectionID) error {
	for _, c := range e.NetworkedComponents() {
		net := c.Net()
		if net.Attached() && net.Owner() != owner {
			return fmt.Errorf("%w: %s is owned by %v, entity by %v", ErrOwnerMismatch, c.Kind(), net.Owner(), owner)
		}
		if err := net.Attach(host, id, owner, c); err != nil {
			return err
		}
	}
	return nil
}

// Target is a resolved destination of a remote call.
type Target struct {
	Record    *NetworkedEntity
	Component Networked
	Method    *rpc.Method
}

// Resolve finds the entity, component and registered method a remote call is
// addressed to.
func Resolve(m *Map, table *rpc.Table, id NetworkEntityID, componentID uint8, method string) (*Target, error) {
	record, ok := m.Get(id)
	if !ok {
		return nil, &LookupError{What: LookupEntity, Name: fmt.Sprint(id)}
	}

	c, ok := record.Entity.ComponentByID(componentID)
	if !ok {
		return nil, &LookupError{What: LookupComponent, Name: fmt.Sprintf("%d on entity %d", componentID, id)}
	}
	networked, ok := c.(Networked)
	if !ok {
		return nil, &LookupError{What: LookupComponent, Name: fmt.Sprintf("%d on entity %d (not networked)", componentID, id)}
	}

	registered, ok := table.Lookup(networked.Kind(), method)
	if !ok {
		return nil, &LookupError{What: LookupMethod, Name: networked.Kind() + "." + method}
	}
	return &Target{Record: record, Component: networked, Method: registered}, nil
}

// Owner is the owner of the targeted component.
func (t *Target) Owner() ConnectionID {
	return t.Component.Net().Owner()
}

// Execute decodes params and runs the handler under call.
func (t *Target) Execute(call *rpc.Call, params []byte) error {
	p, err := rpc.Decode(params)
	if err != nil {
		return fmt.Errorf("%s.%s on entity %d: %w", t.Method.Kind, t.Method.Name, t.Record.ID, err)
	}
	if err := t.Method.Handler(call, t.Component, p); err != nil {
		return fmt.Errorf("%s.%s on entity %d: %w", t.Method.Kind, t.Method.Name, t.Record.ID, err)
	}
	return nil
}

// Dispatch resolves and executes an inbound remote call.
func Dispatch(m *Map, table *rpc.Table, call *rpc.Call, id NetworkEntityID, componentID uint8, method string, params []byte) error {
	target, err := Resolve(m, table, id, componentID, method)
	if err != nil {
		return err
	}
	return target.Execute(call, params)
}
