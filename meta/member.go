// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package meta

import (
	"fmt"

	"github.com/luxfi/metarpc/signature"
)

// Category distinguishes the three member kinds of a MetaObject.
type Category int

const (
	CategoryMethod Category = iota
	CategorySignal
	CategoryProperty
)

func (c Category) String() string {
	switch c {
	case CategoryMethod:
		return "method"
	case CategorySignal:
		return "signal"
	case CategoryProperty:
		return "property"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// MetaMethodParameter documents one method parameter.
type MetaMethodParameter struct {
	Name        string
	Description string
}

// MetaMethod describes a callable member.
type MetaMethod struct {
	UID                 uint32
	ReturnSignature     signature.Signature
	Name                string
	ParametersSignature signature.Signature
	Description         string
	Parameters          []MetaMethodParameter
	ReturnDescription   string
}

// String returns the canonical "name::(params)" form.
func (m MetaMethod) String() string {
	return m.Name + "::" + m.ParametersSignature.String()
}

// MetaSignal describes a signal member.
type MetaSignal struct {
	UID       uint32
	Name      string
	Signature signature.Signature
}

func (s MetaSignal) String() string {
	return s.Name + "::" + s.Signature.String()
}

// MetaProperty describes a property member. Every property is paired with
// a signal of the same uid that fires on change.
type MetaProperty struct {
	UID       uint32
	Name      string
	Signature signature.Signature
}

func (p MetaProperty) String() string {
	return p.Name + "::" + p.Signature.String()
}

// MemberOption customises a member at registration.
type MemberOption func(*memberOptions)

type memberOptions struct {
	id                *uint32
	description       string
	parameters        []MetaMethodParameter
	returnDescription string
}

// WithID registers the member at a fixed uid instead of the next free one.
func WithID(id uint32) MemberOption {
	return func(o *memberOptions) { o.id = &id }
}

// WithDescription attaches a method description.
func WithDescription(desc string) MemberOption {
	return func(o *memberOptions) { o.description = desc }
}

// WithParameters documents method parameters.
func WithParameters(params ...MetaMethodParameter) MemberOption {
	return func(o *memberOptions) { o.parameters = params }
}

// WithReturnDescription documents the method result.
func WithReturnDescription(desc string) MemberOption {
	return func(o *memberOptions) { o.returnDescription = desc }
}
