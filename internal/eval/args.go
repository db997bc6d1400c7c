package eval

import (
	"github.com/roach88/pondoc/internal/pon"
)

// Args holds the values bound from a call's argument. Captured names
// and map fields are addressable by name; Whole is the bound argument
// itself. Accessors return zero values for absent names, since the
// schema has already checked presence and type.
type Args struct {
	values map[string]pon.Value
	whole  pon.Value
}

func (a *Args) set(name string, v pon.Value) {
	if a.values == nil {
		a.values = make(map[string]pon.Value)
	}
	a.values[name] = v
}

// Has reports whether name was bound.
func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

// Value returns the bound value, or nil.
func (a Args) Value(name string) pon.Value {
	return a.values[name]
}

// Whole returns the entire bound argument.
func (a Args) Whole() pon.Value {
	return a.whole
}

// Number returns a bound number.
func (a Args) Number(name string) float64 {
	n, _ := a.values[name].(pon.Number)
	return float64(n)
}

// String returns a bound string.
func (a Args) String(name string) string {
	s, _ := a.values[name].(pon.String)
	return string(s)
}

// Bool returns a bound boolean.
func (a Args) Bool(name string) bool {
	b, _ := a.values[name].(pon.Bool)
	return bool(b)
}

// Array returns a bound array.
func (a Args) Array(name string) pon.Array {
	arr, _ := a.values[name].(pon.Array)
	return arr
}

// Numbers returns a bound array of numbers as float64s.
func (a Args) Numbers(name string) []float64 {
	arr := a.Array(name)
	out := make([]float64, 0, len(arr))
	for _, v := range arr {
		if n, ok := v.(pon.Number); ok {
			out = append(out, float64(n))
		}
	}
	return out
}

// Strings returns a bound array of strings.
func (a Args) Strings(name string) []string {
	arr := a.Array(name)
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(pon.String); ok {
			out = append(out, string(s))
		}
	}
	return out
}

// Object returns a bound object.
func (a Args) Object(name string) pon.Object {
	obj, _ := a.values[name].(pon.Object)
	return obj
}

// Selector returns a bound selector.
func (a Args) Selector(name string) (pon.Selector, bool) {
	s, ok := a.values[name].(pon.Selector)
	return s, ok
}
