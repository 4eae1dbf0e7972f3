// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package object

import (
	"context"
	"fmt"
	"sync"

	"github.com/luxfi/metarpc/signature"
	"github.com/luxfi/metarpc/typesys"
)

// Setter is consulted before a property changes. Returning false keeps
// the current value without notifying subscribers.
type Setter func(current, next typesys.Value) (bool, error)

// Property is a typed value with a change signal. The zero value takes
// its type from the first value set.
type Property struct {
	signal SignalBase

	mu     sync.RWMutex
	typ    typesys.Type
	value  typesys.Value
	setter Setter
}

// NewProperty returns a property of t holding t's zero value.
func NewProperty(t typesys.Type) *Property {
	p := &Property{}
	p.ensure(t)
	return p
}

func (p *Property) ensure(t typesys.Type) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.typ != nil {
		return
	}
	p.typ = t
	p.value = typesys.New(t)
	p.signal.ensure(signature.TupleOf([]signature.Signature{t.Signature()}, "", nil))
}

// SetSetter installs fn as the change filter.
func (p *Property) SetSetter(fn Setter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setter = fn
}

// Type returns the value type, nil before the first Set of a zero
// Property.
func (p *Property) Type() typesys.Type {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.typ
}

// Signal returns the change signal.
func (p *Property) Signal() *SignalBase { return &p.signal }

// Value returns a copy of the current value.
func (p *Property) Value() typesys.Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.value.IsValid() {
		return typesys.Value{}
	}
	return p.value.Clone()
}

// Set converts v to the property type, stores it and notifies
// subscribers with the new value.
func (p *Property) Set(ctx context.Context, v typesys.Value) error {
	if !v.IsValid() {
		return fmt.Errorf("%w: setting property to an invalid value", typesys.ErrInvalidValue)
	}
	if p.Type() == nil {
		p.ensure(v.Type())
	}

	p.mu.Lock()
	next, err := v.ConvertCopy(p.typ)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if p.setter != nil {
		ok, err := p.setter(p.value.Reference(), next.Reference())
		if err != nil || !ok {
			p.mu.Unlock()
			return err
		}
	}
	old := p.value
	p.value = next
	notify := p.value.Clone()
	p.mu.Unlock()

	old.Destroy()
	p.signal.Trigger(ctx, typesys.Values{notify})
	return nil
}

// Get converts the current value to T.
func Get[T any](p *Property) (T, error) {
	return typesys.As[T](p.Value())
}
