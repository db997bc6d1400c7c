package pon

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// NativeType describes a runtime-computed value type. Clone and Equal
// default to identity and reflect.DeepEqual when nil. Format converts
// the data back into a grammar value for stringification; without it
// the value prints as "<tag>".
type NativeType struct {
	Tag    string
	Clone  func(data any) any
	Equal  func(a, b any) bool
	Format func(data any) Value
}

// Native wraps a runtime-computed value together with its type.
type Native struct {
	typ  *NativeType
	data any
}

func (Native) ponValue() {}

// Tag returns the registered type tag.
func (n Native) Tag() string {
	if n.typ == nil {
		return "native"
	}
	return n.typ.Tag
}

// Data returns the wrapped Go value.
func (n Native) Data() any {
	return n.data
}

// Clone copies the native through its type's Clone hook.
func (n Native) Clone() Native {
	if n.typ == nil || n.typ.Clone == nil {
		return n
	}
	return Native{typ: n.typ, data: n.typ.Clone(n.data)}
}

// Equal compares two natives of the same tag.
func (n Native) Equal(o Native) bool {
	if n.Tag() != o.Tag() {
		return false
	}
	if n.typ != nil && n.typ.Equal != nil {
		return n.typ.Equal(n.data, o.data)
	}
	return reflect.DeepEqual(n.data, o.data)
}

// Format returns the grammar representation of the native, if its type
// provides one.
func (n Native) Format() (Value, bool) {
	if n.typ == nil || n.typ.Format == nil {
		return nil, false
	}
	return n.typ.Format(n.data), true
}

// NativeRegistry maps stable tags to native types.
// Safe for concurrent use; registration usually happens once at startup.
type NativeRegistry struct {
	mu    sync.RWMutex
	types map[string]*NativeType
}

// NewNativeRegistry creates an empty registry.
func NewNativeRegistry() *NativeRegistry {
	return &NativeRegistry{types: make(map[string]*NativeType)}
}

// Register adds a native type. Registering a tag twice is an error.
func (r *NativeRegistry) Register(t NativeType) error {
	if t.Tag == "" {
		return fmt.Errorf("native type: empty tag")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[t.Tag]; exists {
		return fmt.Errorf("native type %q already registered", t.Tag)
	}
	typ := t
	r.types[t.Tag] = &typ
	return nil
}

// Wrap creates a Native of a registered tag.
func (r *NativeRegistry) Wrap(tag string, data any) (Native, error) {
	r.mu.RLock()
	typ, ok := r.types[tag]
	r.mu.RUnlock()
	if !ok {
		return Native{}, fmt.Errorf("native type %q not registered", tag)
	}
	return Native{typ: typ, data: data}, nil
}

// MustWrap is Wrap for tags registered at startup. It panics on an
// unknown tag.
func (r *NativeRegistry) MustWrap(tag string, data any) Native {
	n, err := r.Wrap(tag, data)
	if err != nil {
		panic(err)
	}
	return n
}

// Has reports whether tag is registered.
func (r *NativeRegistry) Has(tag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[tag]
	return ok
}

// Tags returns the registered tags in sorted order.
func (r *NativeRegistry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.types))
	for t := range r.types {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// NativeAs extracts the Go value of a native of type T.
func NativeAs[T any](v Value) (T, bool) {
	var zero T
	n, ok := v.(Native)
	if !ok {
		return zero, false
	}
	d, ok := n.data.(T)
	return d, ok
}
