// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package signature

import "strings"

// Scores returned by IsConvertibleTo. Compound signatures multiply the
// scores of their children.
const (
	ScoreExact       = 1.0
	ScoreWiden       = 0.95
	ScoreIntToInt    = 0.9
	ScoreNarrow      = 0.85
	ScoreIntToFloat  = 0.8
	ScoreContainer   = 0.9
	ScoreToOptional  = 0.9
	ScoreFloatToInt  = 0.5
	ScoreStringRaw   = 0.5
	ScoreBoolInt     = 0.3
	ScoreFromDynamic = 0.2
	ScoreToDynamic   = 0.1
)

// IsConvertibleTo returns a score in [0, 1] telling how well a value of
// signature s converts to d. Zero means not convertible, one means
// identical. Conversions that can only be checked at runtime (narrowing,
// list to tuple, dynamic sources) get a positive but reduced score.
func (s Signature) IsConvertibleTo(d Signature) float64 {
	if !s.IsValid() || !d.IsValid() {
		return 0
	}
	st, dt := s.typ, d.typ
	switch {
	case dt == Dynamic:
		if st == Dynamic {
			return ScoreExact
		}
		return ScoreToDynamic
	case st == Dynamic || st == Unknown:
		return ScoreFromDynamic
	case st == Void || dt == Void:
		if st == dt {
			return ScoreExact
		}
		return 0
	case IsNumeric(st) && IsNumeric(dt):
		return numericScore(st, dt)
	case dt == Optional && st != Optional:
		return s.IsConvertibleTo(d.children[0]) * ScoreToOptional
	}

	if st == dt {
		switch st {
		case String, Raw, Object:
			return ScoreExact
		case Tuple:
			if len(s.children) != len(d.children) {
				return 0
			}
			return childrenScore(s.children, d.children)
		default:
			return childrenScore(s.children, d.children)
		}
	}

	switch {
	case (st == String && dt == Raw) || (st == Raw && dt == String):
		return ScoreStringRaw
	case isSequence(st) && dt == Tuple:
		score := 1.0
		for _, member := range d.children {
			score *= s.children[0].IsConvertibleTo(member)
		}
		return score * ScoreContainer
	case st == Tuple && isSequence(dt):
		score := 1.0
		for _, member := range s.children {
			score *= member.IsConvertibleTo(d.children[0])
		}
		return score * ScoreContainer
	case isSequence(st) && isSequence(dt):
		return s.children[0].IsConvertibleTo(d.children[0]) * ScoreContainer
	case isSequence(st) && dt == Map:
		return pairScore(s.children[0], d) * ScoreContainer
	case st == Map && isSequence(dt):
		return pairScore(d.children[0], s) * ScoreContainer
	}
	return 0
}

func isSequence(t Type) bool {
	return t == List || t == VarArgs
}

// pairScore scores a list element against a map's key/value pair.
func pairScore(elem, m Signature) float64 {
	if elem.typ == Dynamic {
		return ScoreFromDynamic
	}
	if elem.typ != Tuple || len(elem.children) != 2 {
		return 0
	}
	return elem.children[0].IsConvertibleTo(m.children[0]) * elem.children[1].IsConvertibleTo(m.children[1])
}

func childrenScore(src, dst []Signature) float64 {
	if len(src) != len(dst) {
		return 0
	}
	score := 1.0
	for i := range src {
		score *= src[i].IsConvertibleTo(dst[i])
		if score == 0 {
			return 0
		}
	}
	return score
}

// intWidth returns the byte size and signedness of an integer code.
func intWidth(t Type) (size int, signed bool) {
	switch t {
	case Int8:
		return 1, true
	case UInt8:
		return 1, false
	case Int16:
		return 2, true
	case UInt16:
		return 2, false
	case Int32:
		return 4, true
	case UInt32:
		return 4, false
	case Int64:
		return 8, true
	case UInt64:
		return 8, false
	}
	return 0, false
}

func numericScore(st, dt Type) float64 {
	if st == dt {
		return ScoreExact
	}
	floating := func(t Type) bool { return t == Float || t == Double }
	switch {
	case st == Bool || dt == Bool:
		return ScoreBoolInt
	case floating(st) && floating(dt):
		if st == Float {
			return ScoreWiden
		}
		return ScoreNarrow
	case floating(dt):
		return ScoreIntToFloat
	case floating(st):
		return ScoreFloatToInt
	}
	ss, ssigned := intWidth(st)
	ds, dsigned := intWidth(dt)
	switch {
	case ssigned == dsigned && ds >= ss:
		return ScoreWiden
	case !ssigned && dsigned && ds > ss:
		return ScoreWiden
	case ds >= ss:
		return ScoreIntToInt
	}
	return ScoreNarrow
}

var prettyNames = map[Type]string{
	Void:    "Void",
	Bool:    "Bool",
	Int8:    "Int8",
	UInt8:   "UInt8",
	Int16:   "Int16",
	UInt16:  "UInt16",
	Int32:   "Int32",
	UInt32:  "UInt32",
	Int64:   "Int64",
	UInt64:  "UInt64",
	Float:   "Float",
	Double:  "Double",
	String:  "String",
	Raw:     "Raw",
	Dynamic: "Value",
	Object:  "Object",
	Unknown: "Unknown",
}

// Pretty returns a human readable rendering, e.g. "List<Int32>" or
// "Point(Int32 x, Int32 y)".
func (s Signature) Pretty() string {
	if !s.IsValid() {
		return "None"
	}
	if name, ok := prettyNames[s.typ]; ok {
		return name
	}
	switch s.typ {
	case List:
		return "List<" + s.children[0].Pretty() + ">"
	case Map:
		return "Map<" + s.children[0].Pretty() + "," + s.children[1].Pretty() + ">"
	case Optional:
		return "Optional<" + s.children[0].Pretty() + ">"
	case VarArgs:
		return "VarArgs<" + s.children[0].Pretty() + ">"
	case KwArgs:
		return "KwArgs<" + s.children[0].Pretty() + ">"
	case Pointer:
		return s.children[0].Pretty() + "*"
	case Tuple:
		names := s.FieldNames()
		parts := make([]string, len(s.children))
		for i, c := range s.children {
			parts[i] = c.Pretty()
			if i < len(names) && names[i] != "" {
				parts[i] += " " + names[i]
			}
		}
		prefix := s.ClassName()
		if prefix == "" {
			prefix = "Tuple"
		}
		return prefix + "(" + strings.Join(parts, ",") + ")"
	}
	return s.text
}
