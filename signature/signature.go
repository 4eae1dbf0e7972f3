// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package signature implements the compact textual type grammar used to
// describe values on the wire and to match method overloads.
//
// # Grammar
//
//	scalar   b c C w W i I l L f d s r m o v X
//	list     [T]
//	map      {KV}
//	tuple    (T1...Tn)<ClassName,field1,...,fieldn>   annotation optional
//	optional +T
//	varargs  #T
//	kwargs   ~T
//	pointer  *T
//
// A Signature is immutable and cheap to copy.
package signature

import (
	"errors"
	"fmt"
	"strings"
)

// Type is the leading code of a signature element.
type Type byte

const (
	None     Type = 0
	Void     Type = 'v'
	Bool     Type = 'b'
	Int8     Type = 'c'
	UInt8    Type = 'C'
	Int16    Type = 'w'
	UInt16   Type = 'W'
	Int32    Type = 'i'
	UInt32   Type = 'I'
	Int64    Type = 'l'
	UInt64   Type = 'L'
	Float    Type = 'f'
	Double   Type = 'd'
	String   Type = 's'
	Raw      Type = 'r'
	Dynamic  Type = 'm'
	Object   Type = 'o'
	Unknown  Type = 'X'
	List     Type = '['
	ListEnd  Type = ']'
	Map      Type = '{'
	MapEnd   Type = '}'
	Tuple    Type = '('
	TupleEnd Type = ')'
	Optional Type = '+'
	VarArgs  Type = '#'
	KwArgs   Type = '~'
	Pointer  Type = '*'
)

const scalarCodes = "vbcCwWiIlLfdsrmoX"

// ErrInvalid is returned for malformed signature strings.
var ErrInvalid = errors.New("signature: invalid signature")

// ParseError describes where a signature string failed to parse.
type ParseError struct {
	Input  string
	Offset int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("signature: invalid signature %q at offset %d: %s", e.Input, e.Offset, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrInvalid }

// Signature is a parsed signature element.
type Signature struct {
	typ        Type
	children   []Signature
	annotation string
	text       string
}

// Parse parses a single signature element. The empty string parses to the
// invalid (None) signature without error.
func Parse(s string) (Signature, error) {
	if s == "" {
		return Signature{}, nil
	}
	p := &parser{input: s}
	sig, err := p.element()
	if err != nil {
		return Signature{}, err
	}
	if p.pos != len(s) {
		return Signature{}, p.fail("trailing characters")
	}
	return sig, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Signature {
	sig, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return sig
}

// FromType returns the signature of a scalar code.
func FromType(t Type) Signature {
	if !strings.ContainsRune(scalarCodes, rune(t)) {
		return Signature{}
	}
	return Signature{typ: t, text: string(rune(t))}
}

// ListOf returns [elem].
func ListOf(elem Signature) Signature {
	return build(List, "", elem)
}

// MapOf returns {key value}.
func MapOf(key, value Signature) Signature {
	return build(Map, "", key, value)
}

// TupleOf returns (members...) with an optional class name and field names.
func TupleOf(members []Signature, className string, fieldNames []string) Signature {
	annotation := ""
	if className != "" || len(fieldNames) > 0 {
		annotation = strings.Join(append([]string{className}, fieldNames...), ",")
	}
	return build(Tuple, annotation, members...)
}

// OptionalOf returns +value.
func OptionalOf(value Signature) Signature {
	return build(Optional, "", value)
}

// VarArgsOf returns #elem.
func VarArgsOf(elem Signature) Signature {
	return build(VarArgs, "", elem)
}

// PointerOf returns *pointee.
func PointerOf(pointee Signature) Signature {
	return build(Pointer, "", pointee)
}

func build(t Type, annotation string, children ...Signature) Signature {
	for _, c := range children {
		if !c.IsValid() {
			return Signature{}
		}
	}
	sig := Signature{typ: t, children: children, annotation: annotation}
	sig.text = sig.format()
	return sig
}

func (s Signature) format() string {
	var b strings.Builder
	switch s.typ {
	case List:
		b.WriteByte('[')
		b.WriteString(s.children[0].text)
		b.WriteByte(']')
	case Map:
		b.WriteByte('{')
		b.WriteString(s.children[0].text)
		b.WriteString(s.children[1].text)
		b.WriteByte('}')
	case Tuple:
		b.WriteByte('(')
		for _, c := range s.children {
			b.WriteString(c.text)
		}
		b.WriteByte(')')
	case Optional, VarArgs, KwArgs, Pointer:
		b.WriteByte(byte(s.typ))
		b.WriteString(s.children[0].text)
	default:
		b.WriteByte(byte(s.typ))
	}
	if s.annotation != "" {
		b.WriteByte('<')
		b.WriteString(s.annotation)
		b.WriteByte('>')
	}
	return b.String()
}

// IsValid reports whether the signature describes a type.
func (s Signature) IsValid() bool { return s.typ != None }

// Type returns the leading code.
func (s Signature) Type() Type { return s.typ }

// String returns the textual form.
func (s Signature) String() string { return s.text }

// Children returns the nested element signatures.
func (s Signature) Children() []Signature { return s.children }

// HasChildren reports whether the element is a container.
func (s Signature) HasChildren() bool { return len(s.children) > 0 }

// Annotation returns the raw <...> annotation content.
func (s Signature) Annotation() string { return s.annotation }

// ClassName returns the first annotation entry of a tuple.
func (s Signature) ClassName() string {
	if s.annotation == "" {
		return ""
	}
	name, _, _ := strings.Cut(s.annotation, ",")
	return name
}

// FieldNames returns the field names carried by a tuple annotation, or nil.
func (s Signature) FieldNames() []string {
	_, rest, ok := strings.Cut(s.annotation, ",")
	if !ok {
		return nil
	}
	return strings.Split(rest, ",")
}

// WithoutAnnotations returns the signature with every annotation stripped.
func (s Signature) WithoutAnnotations() Signature {
	if !s.IsValid() {
		return s
	}
	if len(s.children) == 0 {
		return FromType(s.typ)
	}
	children := make([]Signature, len(s.children))
	for i, c := range s.children {
		children[i] = c.WithoutAnnotations()
	}
	return build(s.typ, "", children...)
}

// Equal compares the textual forms.
func (s Signature) Equal(o Signature) bool { return s.text == o.text }

// IsNumeric reports whether t is a boolean, integer or floating code.
func IsNumeric(t Type) bool {
	return strings.IndexByte("bcCwWiIlLfd", byte(t)) >= 0
}

// IsInteger reports whether t is an integer code (bool excluded).
func IsInteger(t Type) bool {
	return strings.IndexByte("cCwWiIlL", byte(t)) >= 0
}

type parser struct {
	input string
	pos   int
}

func (p *parser) fail(reason string) error {
	return &ParseError{Input: p.input, Offset: p.pos, Reason: reason}
}

func (p *parser) peek() (byte, bool) {
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

func (p *parser) element() (Signature, error) {
	c, ok := p.peek()
	if !ok {
		return Signature{}, p.fail("unexpected end")
	}
	p.pos++
	var sig Signature
	switch t := Type(c); t {
	case List:
		elem, err := p.element()
		if err != nil {
			return Signature{}, err
		}
		if err := p.expect(ListEnd); err != nil {
			return Signature{}, err
		}
		sig = Signature{typ: List, children: []Signature{elem}}
	case Map:
		key, err := p.element()
		if err != nil {
			return Signature{}, err
		}
		value, err := p.element()
		if err != nil {
			return Signature{}, err
		}
		if err := p.expect(MapEnd); err != nil {
			return Signature{}, err
		}
		sig = Signature{typ: Map, children: []Signature{key, value}}
	case Tuple:
		var members []Signature
		for {
			c, ok := p.peek()
			if !ok {
				return Signature{}, p.fail("unterminated tuple")
			}
			if Type(c) == TupleEnd {
				p.pos++
				break
			}
			m, err := p.element()
			if err != nil {
				return Signature{}, err
			}
			members = append(members, m)
		}
		sig = Signature{typ: Tuple, children: members}
	case Optional, VarArgs, KwArgs, Pointer:
		inner, err := p.element()
		if err != nil {
			return Signature{}, err
		}
		sig = Signature{typ: t, children: []Signature{inner}}
	default:
		if !strings.ContainsRune(scalarCodes, rune(c)) {
			p.pos--
			return Signature{}, p.fail(fmt.Sprintf("unknown type code %q", c))
		}
		sig = Signature{typ: t}
	}
	if c, ok := p.peek(); ok && c == '<' {
		annotation, err := p.annotation()
		if err != nil {
			return Signature{}, err
		}
		sig.annotation = annotation
	}
	sig.text = sig.format()
	return sig, nil
}

func (p *parser) expect(t Type) error {
	c, ok := p.peek()
	if !ok || Type(c) != t {
		return p.fail(fmt.Sprintf("expected %q", byte(t)))
	}
	p.pos++
	return nil
}

func (p *parser) annotation() (string, error) {
	start := p.pos + 1
	depth := 0
	for ; p.pos < len(p.input); p.pos++ {
		switch p.input[p.pos] {
		case '<':
			depth++
		case '>':
			depth--
			if depth == 0 {
				p.pos++
				return p.input[start : p.pos-1], nil
			}
		}
	}
	return "", p.fail("unterminated annotation")
}
