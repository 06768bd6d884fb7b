package kv

import (
	"reflect"
	"strings"
)

// CondOp identifies a condition node.
type CondOp uint8

const (
	CondNone CondOp = iota
	CondExists
	CondNotExists
	CondEq
	CondNe
	CondLt
	CondGt
	CondBeginsWith
	CondAnd
	CondOr
)

// Condition is a predicate over a single item, used as a write guard or a
// query/scan filter. The zero Condition always holds.
type Condition struct {
	op    CondOp
	name  string
	value any
	terms []Condition
}

func AttributeExists(name string) Condition    { return Condition{op: CondExists, name: name} }
func AttributeNotExists(name string) Condition { return Condition{op: CondNotExists, name: name} }
func Equal(name string, v any) Condition       { return Condition{op: CondEq, name: name, value: v} }
func NotEqual(name string, v any) Condition    { return Condition{op: CondNe, name: name, value: v} }
func LessThan(name string, v any) Condition    { return Condition{op: CondLt, name: name, value: v} }
func GreaterThan(name string, v any) Condition { return Condition{op: CondGt, name: name, value: v} }

func BeginsWith(name, prefix string) Condition {
	return Condition{op: CondBeginsWith, name: name, value: prefix}
}

// ItemExists guards a write so it only updates an existing item.
func ItemExists() Condition { return AttributeExists(PartitionKeyAttr) }

// ItemNotExists guards a write so it only creates.
func ItemNotExists() Condition { return AttributeNotExists(PartitionKeyAttr) }

// And joins terms; zero terms are dropped.
func And(terms ...Condition) Condition { return join(CondAnd, terms) }

// Or joins terms; zero terms are dropped.
func Or(terms ...Condition) Condition { return join(CondOr, terms) }

func join(op CondOp, terms []Condition) Condition {
	kept := make([]Condition, 0, len(terms))
	for _, t := range terms {
		if !t.IsZero() {
			kept = append(kept, t)
		}
	}
	switch len(kept) {
	case 0:
		return Condition{}
	case 1:
		return kept[0]
	}
	return Condition{op: op, terms: kept}
}

// And is shorthand for And(c, other).
func (c Condition) And(other Condition) Condition { return And(c, other) }

func (c Condition) IsZero() bool       { return c.op == CondNone }
func (c Condition) Op() CondOp         { return c.op }
func (c Condition) Name() string       { return c.name }
func (c Condition) Value() any         { return c.value }
func (c Condition) Terms() []Condition { return c.terms }

// Eval reports whether the condition holds for item. A nil item has no attributes.
func (c Condition) Eval(item Item) bool {
	switch c.op {
	case CondNone:
		return true
	case CondAnd:
		for _, t := range c.terms {
			if !t.Eval(item) {
				return false
			}
		}
		return true
	case CondOr:
		for _, t := range c.terms {
			if t.Eval(item) {
				return true
			}
		}
		return false
	}
	got, present := item[c.name]
	switch c.op {
	case CondExists:
		return present
	case CondNotExists:
		return !present
	}
	if !present {
		return false
	}
	switch c.op {
	case CondEq:
		return Compare(got, c.value) == 0
	case CondNe:
		return Compare(got, c.value) != 0
	case CondLt:
		return Compare(got, c.value) == -1
	case CondGt:
		return Compare(got, c.value) == 1
	case CondBeginsWith:
		s, ok := normalize(got).(string)
		prefix, _ := normalize(c.value).(string)
		return ok && strings.HasPrefix(s, prefix)
	}
	return false
}

// incomparable is returned by Compare for values of different kinds.
const incomparable = 2

// Compare orders two scalar values: -1, 0 or 1. Numbers compare numerically,
// strings lexicographically, booleans only for equality. Mismatched kinds
// return a value outside that range.
func Compare(a, b any) int {
	a, b = normalize(a), normalize(b)
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return incomparable
		}
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return incomparable
		}
		return strings.Compare(av, bv)
	case bool:
		bv, ok := b.(bool)
		if !ok || av != bv {
			return incomparable
		}
		return 0
	}
	return incomparable
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// normalize reduces named scalar types (e.g. a string-based enum) to their
// underlying builtin type.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, int, int64:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}
