package pon

import (
	"cmp"
	"fmt"
	"slices"
)

// EntityID identifies an entity for the lifetime of a document.
// Ids are allocated monotonically starting at 1 and never reused.
type EntityID uint64

// NoEntity is the zero EntityID. It never names a real entity.
const NoEntity EntityID = 0

// PropRef is the (entity, property) key into the property bus.
type PropRef struct {
	Entity EntityID
	Key    string
}

// NewPropRef creates a PropRef.
func NewPropRef(id EntityID, key string) PropRef {
	return PropRef{Entity: id, Key: key}
}

// String renders the ref as "#id.key".
func (r PropRef) String() string {
	return fmt.Sprintf("#%d.%s", r.Entity, r.Key)
}

// ComparePropRef orders refs by entity, then key.
func ComparePropRef(a, b PropRef) int {
	if c := cmp.Compare(a.Entity, b.Entity); c != 0 {
		return c
	}
	return cmp.Compare(a.Key, b.Key)
}

// SortPropRefs sorts refs in place and removes duplicates.
func SortPropRefs(refs []PropRef) []PropRef {
	slices.SortFunc(refs, ComparePropRef)
	return slices.Compact(refs)
}

// Value is a sealed interface over the expression value variants.
type Value interface {
	ponValue() // Sealed
}

// Nil is the unit value, written "()".
type Nil struct{}

func (Nil) ponValue() {}

// Number is a numeric literal. All numbers are float64.
type Number float64

func (Number) ponValue() {}

// String is a quoted string literal.
type String string

func (String) ponValue() {}

// Bool is a boolean literal.
type Bool bool

func (Bool) ponValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) ponValue() {}

// Object is a string-keyed map of values.
// Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) ponValue() {}

// SortedKeys returns the object's keys in byte order.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Call is a function call: Name applied to a single argument value.
type Call struct {
	Name string
	Arg  Value
}

func (Call) ponValue() {}

// NamedPropRef names a property through a selector, e.g. "this.x".
type NamedPropRef struct {
	Selector Selector
	Key      string
}

// Reference is a plain property reference. It is not tracked as a
// dependency; functions receiving it resolve it when they need to.
type Reference struct {
	Ref NamedPropRef
}

func (Reference) ponValue() {}

// DepReference is a dependency reference ("@sel.key"). Resolved is nil
// until the owning expression is attached to an entity, at which point
// the selector is resolved once to a concrete PropRef.
type DepReference struct {
	Ref      NamedPropRef
	Resolved *PropRef
}

func (DepReference) ponValue() {}

func (Selector) ponValue() {}

// Value type tags returned by TypeName.
const (
	TypeNil          = "nil"
	TypeNumber       = "number"
	TypeString       = "string"
	TypeBool         = "bool"
	TypeArray        = "array"
	TypeObject       = "object"
	TypeCall         = "call"
	TypeSelector     = "selector"
	TypeReference    = "reference"
	TypeDepReference = "dep_reference"
)

// TypeName returns the stable type tag of v. Natives report their
// registered tag.
func TypeName(v Value) string {
	switch v := v.(type) {
	case nil, Nil:
		return TypeNil
	case Number:
		return TypeNumber
	case String:
		return TypeString
	case Bool:
		return TypeBool
	case Array:
		return TypeArray
	case Object:
		return TypeObject
	case Call:
		return TypeCall
	case Selector:
		return TypeSelector
	case Reference:
		return TypeReference
	case DepReference:
		return TypeDepReference
	case Native:
		return v.Tag()
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Equal reports structural equality. Numbers compare by value; natives
// compare through their registered equality.
func Equal(a, b Value) bool {
	if a == nil {
		a = Nil{}
	}
	if b == nil {
		b = Nil{}
	}
	switch av := a.(type) {
	case Nil:
		_, ok := b.(Nil)
		return ok
	case Number:
		bv, ok := b.(Number)
		return ok && av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Array:
		bv, ok := b.(Array)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv, ok := b.(Object)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case Call:
		bv, ok := b.(Call)
		return ok && av.Name == bv.Name && Equal(av.Arg, bv.Arg)
	case Selector:
		bv, ok := b.(Selector)
		return ok && av.Equal(bv)
	case Reference:
		bv, ok := b.(Reference)
		return ok && av.Ref.Equal(bv.Ref)
	case DepReference:
		bv, ok := b.(DepReference)
		if !ok || !av.Ref.Equal(bv.Ref) {
			return false
		}
		if av.Resolved == nil || bv.Resolved == nil {
			return av.Resolved == nil && bv.Resolved == nil
		}
		return *av.Resolved == *bv.Resolved
	case Native:
		bv, ok := b.(Native)
		return ok && av.Equal(bv)
	}
	return false
}

// Equal reports whether two named refs have the same selector and key.
func (r NamedPropRef) Equal(o NamedPropRef) bool {
	return r.Key == o.Key && r.Selector.Equal(o.Selector)
}

// Clone returns a deep copy of v. Scalars are returned as is.
func Clone(v Value) Value {
	switch v := v.(type) {
	case nil:
		return Nil{}
	case Array:
		out := make(Array, len(v))
		for i, e := range v {
			out[i] = Clone(e)
		}
		return out
	case Object:
		out := make(Object, len(v))
		for k, e := range v {
			out[k] = Clone(e)
		}
		return out
	case Call:
		return Call{Name: v.Name, Arg: Clone(v.Arg)}
	case DepReference:
		if v.Resolved != nil {
			r := *v.Resolved
			return DepReference{Ref: v.Ref, Resolved: &r}
		}
		return v
	case Native:
		return v.Clone()
	default:
		return v
	}
}

// Walk calls fn for v and every value nested inside it, depth first.
// Returning false from fn skips the children of that value.
func Walk(v Value, fn func(Value) bool) {
	if !fn(v) {
		return
	}
	switch v := v.(type) {
	case Array:
		for _, e := range v {
			Walk(e, fn)
		}
	case Object:
		for _, k := range v.SortedKeys() {
			Walk(v[k], fn)
		}
	case Call:
		Walk(v.Arg, fn)
	}
}

// MapDepReferences returns a copy of v in which every DepReference has
// been replaced by fn's result. Used to attach resolved refs.
func MapDepReferences(v Value, fn func(DepReference) (DepReference, error)) (Value, error) {
	switch v := v.(type) {
	case DepReference:
		return fn(v)
	case Array:
		out := make(Array, len(v))
		for i, e := range v {
			m, err := MapDepReferences(e, fn)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	case Object:
		out := make(Object, len(v))
		for k, e := range v {
			m, err := MapDepReferences(e, fn)
			if err != nil {
				return nil, err
			}
			out[k] = m
		}
		return out, nil
	case Call:
		arg, err := MapDepReferences(v.Arg, fn)
		if err != nil {
			return nil, err
		}
		return Call{Name: v.Name, Arg: arg}, nil
	default:
		return v, nil
	}
}

// Dependencies returns the resolved PropRefs of every DepReference in v,
// sorted and without duplicates.
func Dependencies(v Value) []PropRef {
	var deps []PropRef
	Walk(v, func(n Value) bool {
		if d, ok := n.(DepReference); ok && d.Resolved != nil {
			deps = append(deps, *d.Resolved)
		}
		return true
	})
	if len(deps) == 0 {
		return nil
	}
	return SortPropRefs(deps)
}
