// Condition trees and their evaluation.
//
// A Condition is an immutable value: leaves compare one top-level field of
// a document, composites (and, or, not) hold copies of their children. A
// value type cannot refer to itself, so every tree is finite.
package jsondb

import (
	"fmt"
	"strings"
)

// Op identifies the kind of a condition node.
type Op string

const (
	OpEq     Op = "eq"
	OpNe     Op = "neq"
	OpGt     Op = "gt"
	OpGte    Op = "gte"
	OpLt     Op = "lt"
	OpLte    Op = "lte"
	OpExists Op = "exists"
	OpIsNull Op = "isNull"
	OpIn     Op = "in"
	OpNin    Op = "nin"
	OpAnd    Op = "and"
	OpOr     Op = "or"
	OpNot    Op = "not"
)

// Condition is a predicate over a document. Build one with the
// constructors below; the zero Condition is And() and matches everything.
type Condition struct {
	op       Op
	field    string
	value    any
	values   []any
	exists   bool
	children []Condition
}

// Eq matches documents whose field equals v.
func Eq(field string, v any) Condition { return leaf(OpEq, field, v) }

// Ne matches documents whose field does not equal v. An absent field
// is not equal to anything.
func Ne(field string, v any) Condition { return leaf(OpNe, field, v) }

// Gt matches documents whose field orders after v.
func Gt(field string, v any) Condition { return leaf(OpGt, field, v) }

// Gte matches documents whose field orders after or equal to v.
func Gte(field string, v any) Condition { return leaf(OpGte, field, v) }

// Lt matches documents whose field orders before v.
func Lt(field string, v any) Condition { return leaf(OpLt, field, v) }

// Lte matches documents whose field orders before or equal to v.
func Lte(field string, v any) Condition { return leaf(OpLte, field, v) }

// Exists matches documents where the field is present (want true) or
// absent (want false). A present null counts as present.
func Exists(field string, want bool) Condition {
	return Condition{op: OpExists, field: field, exists: want}
}

// IsNull matches documents where the field is present and null.
func IsNull(field string) Condition { return Condition{op: OpIsNull, field: field} }

// In matches documents whose field equals any of vs.
func In(field string, vs ...any) Condition { return set(OpIn, field, vs) }

// Nin matches documents whose field equals none of vs.
func Nin(field string, vs ...any) Condition { return set(OpNin, field, vs) }

// And matches when every child matches. And() matches everything.
func And(cs ...Condition) Condition {
	return Condition{op: OpAnd, children: append([]Condition(nil), cs...)}
}

// Or matches when any child matches. Or() matches nothing.
func Or(cs ...Condition) Condition {
	return Condition{op: OpOr, children: append([]Condition(nil), cs...)}
}

// Not inverts c.
func Not(c Condition) Condition {
	return Condition{op: OpNot, children: []Condition{c}}
}

func leaf(op Op, field string, v any) Condition {
	return Condition{op: op, field: field, value: normalize(v)}
}

func set(op Op, field string, vs []any) Condition {
	values := make([]any, len(vs))
	for i, v := range vs {
		values[i] = normalize(v)
	}
	return Condition{op: op, field: field, values: values}
}

// Op returns the node kind.
func (c Condition) Op() Op {
	if c.op == "" {
		return OpAnd
	}
	return c.op
}

// Field returns the field a leaf refers to, or "" for composites.
func (c Condition) Field() string { return c.field }

// Children returns a copy of a composite's children.
func (c Condition) Children() []Condition {
	return append([]Condition(nil), c.children...)
}

// Fields returns every field referenced anywhere in the tree.
func (c Condition) Fields() []string {
	var out []string
	seen := make(map[string]bool)
	c.walk(func(n Condition) {
		if n.field != "" && !seen[n.field] {
			seen[n.field] = true
			out = append(out, n.field)
		}
	})
	return out
}

func (c Condition) walk(fn func(Condition)) {
	fn(c)
	for _, ch := range c.children {
		ch.walk(fn)
	}
}

// String renders the condition in a compact prefix form for logs and
// error messages, e.g. and(eq(name,"a"),exists(age,true)).
func (c Condition) String() string {
	var b strings.Builder
	c.format(&b)
	return b.String()
}

func (c Condition) format(b *strings.Builder) {
	b.WriteString(string(c.Op()))
	b.WriteByte('(')
	switch c.Op() {
	case OpAnd, OpOr, OpNot:
		for i, ch := range c.children {
			if i > 0 {
				b.WriteByte(',')
			}
			ch.format(b)
		}
	case OpExists:
		fmt.Fprintf(b, "%s,%t", c.field, c.exists)
	case OpIsNull:
		b.WriteString(c.field)
	case OpIn, OpNin:
		fmt.Fprintf(b, "%s,%#v", c.field, c.values)
	default:
		fmt.Fprintf(b, "%s,%#v", c.field, c.value)
	}
	b.WriteByte(')')
}

// Match evaluates c against a decoded document. Values in doc are
// normalised on the fly, so a map straight out of encoding/json works.
func Match(doc map[string]any, c Condition) bool {
	return c.match(doc, false)
}

// match evaluates c. normalized is true when doc already holds normalised
// values (documents loaded by a collection), skipping the per-leaf copy.
func (c Condition) match(doc map[string]any, normalized bool) bool {
	switch c.Op() {
	case OpAnd:
		for _, ch := range c.children {
			if !ch.match(doc, normalized) {
				return false
			}
		}
		return true
	case OpOr:
		for _, ch := range c.children {
			if ch.match(doc, normalized) {
				return true
			}
		}
		return false
	case OpNot:
		if len(c.children) == 0 {
			return false
		}
		return !c.children[0].match(doc, normalized)
	}

	v, present := doc[c.field]
	if present && !normalized {
		v = normalize(v)
	}

	switch c.op {
	case OpExists:
		return present == c.exists
	case OpIsNull:
		return present && v == nil
	case OpEq:
		return present && sameValue(v, c.value)
	case OpNe:
		return !present || !sameValue(v, c.value)
	case OpIn:
		return present && containsValue(c.values, v)
	case OpNin:
		return !present || !containsValue(c.values, v)
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		r, ok := compareValues(v, c.value)
		if !ok {
			return false
		}
		switch c.op {
		case OpGt:
			return r > 0
		case OpGte:
			return r >= 0
		case OpLt:
			return r < 0
		default:
			return r <= 0
		}
	}
	return false
}

func containsValue(values []any, v any) bool {
	for _, x := range values {
		if sameValue(v, x) {
			return true
		}
	}
	return false
}
