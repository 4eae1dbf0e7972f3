// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package meta

import (
	"fmt"

	"github.com/luxfi/metarpc/signature"
)

// MethodData is the serializable form of a MetaMethod.
type MethodData struct {
	UID                 uint32                `meta:"uid"`
	ReturnSignature     string                `meta:"returnSignature"`
	Name                string                `meta:"name"`
	ParametersSignature string                `meta:"parametersSignature"`
	Description         string                `meta:"description"`
	Parameters          []MetaMethodParameter `meta:"parameters"`
	ReturnDescription   string                `meta:"returnDescription"`
}

func (MethodData) TupleName() string { return "MetaMethod" }

// SignalData is the serializable form of a MetaSignal.
type SignalData struct {
	UID       uint32 `meta:"uid"`
	Name      string `meta:"name"`
	Signature string `meta:"signature"`
}

func (SignalData) TupleName() string { return "MetaSignal" }

// PropertyData is the serializable form of a MetaProperty.
type PropertyData struct {
	UID       uint32 `meta:"uid"`
	Name      string `meta:"name"`
	Signature string `meta:"signature"`
}

func (PropertyData) TupleName() string { return "MetaProperty" }

// ObjectData is the serializable form of a MetaObject. Its tuple layout is
// the one exchanged on the wire.
type ObjectData struct {
	Methods     map[uint32]MethodData   `meta:"methods"`
	Signals     map[uint32]SignalData   `meta:"signals"`
	Properties  map[uint32]PropertyData `meta:"properties"`
	Description string                  `meta:"description"`
}

func (ObjectData) TupleName() string { return "MetaObject" }

// Data returns the serializable form of m.
func (m *MetaObject) Data() ObjectData {
	d := ObjectData{
		Methods:     make(map[uint32]MethodData),
		Signals:     make(map[uint32]SignalData),
		Properties:  make(map[uint32]PropertyData),
		Description: m.Description(),
	}
	for id, mm := range m.Methods() {
		d.Methods[id] = MethodData{
			UID:                 mm.UID,
			ReturnSignature:     mm.ReturnSignature.String(),
			Name:                mm.Name,
			ParametersSignature: mm.ParametersSignature.String(),
			Description:         mm.Description,
			Parameters:          append([]MetaMethodParameter{}, mm.Parameters...),
			ReturnDescription:   mm.ReturnDescription,
		}
	}
	for id, ms := range m.Signals() {
		d.Signals[id] = SignalData{UID: ms.UID, Name: ms.Name, Signature: ms.Signature.String()}
	}
	for id, mp := range m.Properties() {
		d.Properties[id] = PropertyData{UID: mp.UID, Name: mp.Name, Signature: mp.Signature.String()}
	}
	return d
}

// FromData rebuilds a MetaObject. Member uids are kept as sent.
func FromData(d ObjectData) (*MetaObject, error) {
	m := New(d.Description)
	next := StartID
	bump := func(id uint32) {
		if id >= next {
			next = id + 1
		}
	}
	for id, md := range d.Methods {
		ret, err := signature.Parse(md.ReturnSignature)
		if err != nil {
			return nil, fmt.Errorf("method %d return signature: %w", id, err)
		}
		params, err := signature.Parse(md.ParametersSignature)
		if err != nil {
			return nil, fmt.Errorf("method %d parameters signature: %w", id, err)
		}
		m.methods.put(MetaMethod{
			UID:                 id,
			ReturnSignature:     ret,
			Name:                md.Name,
			ParametersSignature: params,
			Description:         md.Description,
			Parameters:          md.Parameters,
			ReturnDescription:   md.ReturnDescription,
		})
		bump(id)
	}
	for id, sd := range d.Signals {
		sig, err := signature.Parse(sd.Signature)
		if err != nil {
			return nil, fmt.Errorf("signal %d signature: %w", id, err)
		}
		m.signals.put(MetaSignal{UID: id, Name: sd.Name, Signature: sig})
		bump(id)
	}
	for id, pd := range d.Properties {
		sig, err := signature.Parse(pd.Signature)
		if err != nil {
			return nil, fmt.Errorf("property %d signature: %w", id, err)
		}
		m.properties.put(MetaProperty{UID: id, Name: pd.Name, Signature: sig})
		bump(id)
	}
	m.nextID = next
	return m, nil
}
