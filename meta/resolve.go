// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package meta

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/luxfi/metarpc/signature"
)

// FindMethod result codes.
const (
	NotFound         = -1
	ArgumentMismatch = -2
	Ambiguous        = -3
)

var (
	ErrMethodNotFound   = errors.New("meta: method not found")
	ErrArgumentMismatch = errors.New("meta: arguments do not match any overload")
	ErrAmbiguous        = errors.New("meta: ambiguous overload")
)

// Arguments is the view of call arguments needed for overload resolution.
type Arguments interface {
	// Len returns the argument count.
	Len() int
	// Signature returns the tuple signature of the arguments. Resolved
	// signatures look into container contents instead of declared types.
	Signature(resolved bool) signature.Signature
}

// SignatureArguments adapts a tuple signature to Arguments.
type SignatureArguments signature.Signature

func (s SignatureArguments) Len() int {
	return len(signature.Signature(s).Children())
}

func (s SignatureArguments) Signature(bool) signature.Signature {
	return signature.Signature(s)
}

// CompatibleMethod is an overload candidate with its convertibility score.
type CompatibleMethod struct {
	Method MetaMethod
	Score  float64
}

// ResolutionError is returned by ResolveMethod. It carries every candidate
// that was considered together with its score.
type ResolutionError struct {
	Code       int
	Name       string
	Arguments  signature.Signature
	Candidates []CompatibleMethod
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	switch e.Code {
	case NotFound:
		fmt.Fprintf(&b, "meta: method %q not found", e.Name)
	case ArgumentMismatch:
		fmt.Fprintf(&b, "meta: arguments %s do not match any overload of %q", e.Arguments, e.Name)
	case Ambiguous:
		fmt.Fprintf(&b, "meta: call to %q with arguments %s is ambiguous", e.Name, e.Arguments)
	}
	if len(e.Candidates) > 0 {
		b.WriteString("; candidates:")
		for _, c := range e.Candidates {
			fmt.Fprintf(&b, " %s (score %.3f)", c.Method.String(), c.Score)
		}
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error {
	switch e.Code {
	case NotFound:
		return ErrMethodNotFound
	case Ambiguous:
		return ErrAmbiguous
	}
	return ErrArgumentMismatch
}

// acceptsArity reports whether params (a tuple) can be called with n
// arguments. A trailing varargs element absorbs any number of extra
// arguments; a bare dynamic parameter list accepts anything.
func acceptsArity(params signature.Signature, n int) bool {
	if params.Type() == signature.Dynamic {
		return true
	}
	children := params.Children()
	if len(children) > 0 && children[len(children)-1].Type() == signature.VarArgs {
		return n >= len(children)-1
	}
	return len(children) == n
}

// argumentScore scores an argument tuple against a parameter tuple.
func argumentScore(args, params signature.Signature) float64 {
	if params.Type() == signature.Dynamic {
		return signature.ScoreToDynamic
	}
	pc := params.Children()
	if len(pc) == 0 || pc[len(pc)-1].Type() != signature.VarArgs {
		return args.IsConvertibleTo(params)
	}
	ac := args.Children()
	fixed := len(pc) - 1
	if len(ac) < fixed {
		return 0
	}
	score := 1.0
	for i := 0; i < fixed; i++ {
		score *= ac[i].IsConvertibleTo(pc[i])
	}
	elem := pc[fixed].Children()[0]
	for _, a := range ac[fixed:] {
		score *= a.IsConvertibleTo(elem)
	}
	return score
}

// FindMethod resolves name, either a bare method name or a full
// "name::(params)" form, against the given arguments. It returns the
// method uid, or one of NotFound, ArgumentMismatch or Ambiguous.
// canCache is true when the result depends only on name and arity.
func (m *MetaObject) FindMethod(name string, args Arguments) (id int, canCache bool) {
	id, _, canCache = m.findMethod(name, args)
	return id, canCache
}

func (m *MetaObject) findMethod(name string, args Arguments) (int, []CompatibleMethod, bool) {
	byKey, byName := m.methods.indices()
	if bare, _, full := strings.Cut(name, "::"); full {
		if id, ok := byKey[name]; ok {
			return int(id), nil, true
		}
		if len(byName[bare]) > 0 {
			return ArgumentMismatch, m.unscored(byName[bare]), true
		}
		return NotFound, nil, true
	}

	chain := byName[name]
	if len(chain) == 0 {
		return NotFound, nil, true
	}
	var matches []MetaMethod
	for _, id := range chain {
		mm, ok := m.methods.get(id)
		if ok && acceptsArity(mm.ParametersSignature, args.Len()) {
			matches = append(matches, mm)
		}
	}
	switch len(matches) {
	case 0:
		return ArgumentMismatch, m.unscored(chain), true
	case 1:
		return int(matches[0].UID), nil, true
	}

	candidates := score(matches, args.Signature(false))
	if id, ok := best(candidates); ok {
		return id, candidates, false
	}
	candidates = score(matches, args.Signature(true))
	if id, ok := best(candidates); ok {
		return id, candidates, false
	}
	if candidates[0].Score == 0 {
		return ArgumentMismatch, candidates, false
	}
	return Ambiguous, candidates, false
}

// unscored lists the methods of an overload chain with a zero score.
func (m *MetaObject) unscored(ids []uint32) []CompatibleMethod {
	out := make([]CompatibleMethod, 0, len(ids))
	for _, id := range ids {
		if mm, ok := m.methods.get(id); ok {
			out = append(out, CompatibleMethod{Method: mm})
		}
	}
	return out
}

// score returns the candidates sorted by decreasing score, ties by uid.
func score(methods []MetaMethod, args signature.Signature) []CompatibleMethod {
	out := make([]CompatibleMethod, len(methods))
	for i, mm := range methods {
		out[i] = CompatibleMethod{Method: mm, Score: argumentScore(args, mm.ParametersSignature)}
	}
	slices.SortStableFunc(out, func(a, b CompatibleMethod) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return int(a.Method.UID) - int(b.Method.UID)
	})
	return out
}

func best(sorted []CompatibleMethod) (int, bool) {
	if len(sorted) == 0 || sorted[0].Score == 0 {
		return 0, false
	}
	if len(sorted) > 1 && sorted[1].Score == sorted[0].Score {
		return 0, false
	}
	return int(sorted[0].Method.UID), true
}

// ResolveMethod is FindMethod returning a ResolutionError listing the
// scored candidates on failure.
func (m *MetaObject) ResolveMethod(name string, args Arguments) (uint32, error) {
	id, candidates, _ := m.findMethod(name, args)
	if id >= 0 {
		return uint32(id), nil
	}
	bare, _, _ := strings.Cut(name, "::")
	sig := args.Signature(false)
	if len(candidates) > 0 && candidates[0].Score == 0 {
		candidates = score(methodsOf(candidates), sig)
	}
	return 0, &ResolutionError{Code: id, Name: bare, Arguments: sig, Candidates: candidates}
}

func methodsOf(cs []CompatibleMethod) []MetaMethod {
	out := make([]MetaMethod, len(cs))
	for i, c := range cs {
		out[i] = c.Method
	}
	return out
}

// FindCompatibleMethods returns every overload of the bare name in
// nameOrSignature scored against the parameters of the full form, if any.
func (m *MetaObject) FindCompatibleMethods(nameOrSignature string) []CompatibleMethod {
	bare, params, full := strings.Cut(nameOrSignature, "::")
	ms := m.MethodsByName(bare)
	if !full {
		out := make([]CompatibleMethod, len(ms))
		for i, mm := range ms {
			out[i] = CompatibleMethod{Method: mm, Score: 1}
		}
		return out
	}
	sig, err := signature.Parse(params)
	if err != nil {
		return nil
	}
	var out []CompatibleMethod
	for _, c := range score(ms, sig) {
		if c.Score > 0 {
			out = append(out, c)
		}
	}
	return out
}
