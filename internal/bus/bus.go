// Package bus stores property values keyed by PropRef and evaluates
// them lazily with per-cycle caching.
//
// An entry holds a literal value, a constructor closure or an
// unevaluated expression, plus a volatile flag. Volatility is tracked
// through a depcount.Counter: a key's counter is non-zero while it or
// anything it transitively depends on is volatile. Every write also
// pulses the counter of non-volatile keys so that the zero crossings
// drained by DrainLog name exactly the keys whose value may have
// changed since the last cycle.
//
// Cached values are tagged with the cycle in which they were computed.
// ClearCache advances the cycle; nothing is evicted eagerly.
//
// The bus is single-writer and not safe for concurrent use.
package bus

import (
	"fmt"
	"slices"

	"github.com/roach88/pondoc/internal/depcount"
	"github.com/roach88/pondoc/internal/pon"
)

// MaxDepth bounds nested evaluation. Exceeding it is reported as a
// cyclic evaluation.
const MaxDepth = 512

// Evaluator turns a stored expression into a value. The document
// supplies one that translates through the expression runtime.
type Evaluator interface {
	Evaluate(expr pon.Value, key pon.PropRef) (pon.Value, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(expr pon.Value, key pon.PropRef) (pon.Value, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(expr pon.Value, key pon.PropRef) (pon.Value, error) {
	return f(expr, key)
}

// Constructor computes an entry's value on demand.
type Constructor func(b *Bus) (pon.Value, error)

// InvalidationLog lists keys whose volatility counter crossed zero.
// Consumers treat both lists as sets.
type InvalidationLog = depcount.Changes[pon.PropRef]

type entryKind int

const (
	kindValue entryKind = iota
	kindConstructor
	kindExpression
)

type cacheSlot struct {
	value pon.Value
	err   error
	cycle uint64
	valid bool
}

type entry struct {
	kind     entryKind
	value    pon.Value
	ctor     Constructor
	expr     pon.Value
	deps     []pon.PropRef
	volatile bool
	cache    cacheSlot
}

// sameAs reports whether replacing e with o would be unobservable.
// Constructors are opaque and never compare equal.
func (e *entry) sameAs(o *entry) bool {
	if e.kind != o.kind || e.volatile != o.volatile {
		return false
	}
	switch e.kind {
	case kindValue:
		return pon.Equal(e.value, o.value)
	case kindExpression:
		return pon.Equal(e.expr, o.expr) && slices.Equal(e.deps, o.deps)
	}
	return false
}

// Bus is the keyed store of lazily evaluated, cycle-cached values.
type Bus struct {
	entries    map[pon.PropRef]*entry
	byEntity   map[pon.EntityID]map[string]struct{}
	counter    *depcount.Counter[pon.PropRef]
	evaluator  Evaluator
	cycle      uint64
	evaluating map[pon.PropRef]struct{}
	depth      int
}

// New creates an empty bus. evaluator may be nil if no expression
// entries will be set.
func New(evaluator Evaluator) *Bus {
	return &Bus{
		entries:    make(map[pon.PropRef]*entry),
		byEntity:   make(map[pon.EntityID]map[string]struct{}),
		counter:    depcount.New[pon.PropRef](),
		evaluator:  evaluator,
		evaluating: make(map[pon.PropRef]struct{}),
	}
}

// SetEvaluator replaces the evaluator used for expression entries.
func (b *Bus) SetEvaluator(evaluator Evaluator) {
	b.evaluator = evaluator
}

// SetValue stores a literal value.
func (b *Bus) SetValue(key pon.PropRef, value pon.Value, volatile bool) (bool, error) {
	return b.set(key, &entry{kind: kindValue, value: pon.Clone(value), volatile: volatile})
}

// SetConstructor stores a closure evaluated on read.
func (b *Bus) SetConstructor(key pon.PropRef, deps []pon.PropRef, volatile bool, fn Constructor) (bool, error) {
	return b.set(key, &entry{
		kind:     kindConstructor,
		ctor:     fn,
		deps:     pon.SortPropRefs(slices.Clone(deps)),
		volatile: volatile,
	})
}

// SetExpression stores an unevaluated expression with its resolved
// dependency list.
func (b *Bus) SetExpression(key pon.PropRef, expr pon.Value, deps []pon.PropRef, volatile bool) (bool, error) {
	return b.set(key, &entry{
		kind:     kindExpression,
		expr:     pon.Clone(expr),
		deps:     pon.SortPropRefs(slices.Clone(deps)),
		volatile: volatile,
	})
}

// set replaces the entry at key. It reports false when the write was
// skipped because a non-volatile entry was set to an identical one.
func (b *Bus) set(key pon.PropRef, ne *entry) (bool, error) {
	old := b.entries[key]
	if old != nil && !old.volatile && old.sameAs(ne) {
		return false, nil
	}

	if err := b.counter.SetDependencies(key, ne.deps); err != nil {
		return false, &Error{Code: ErrCodeCyclicDependency, Key: key, Err: err}
	}

	b.entries[key] = ne
	keys, ok := b.byEntity[key.Entity]
	if !ok {
		keys = make(map[string]struct{})
		b.byEntity[key.Entity] = keys
	}
	keys[key.Key] = struct{}{}

	wasVolatile := old != nil && old.volatile
	switch {
	case ne.volatile && !wasVolatile:
		b.counter.ChangeCounter(key, 1)
	case !ne.volatile && wasVolatile:
		b.counter.ChangeCounter(key, -1)
	case !ne.volatile:
		b.pulse(key)
	}

	b.invalidate(key)
	return true, nil
}

// pulse raises and lowers key's counter so the key and its dependents
// show up in the log without changing volatility.
func (b *Bus) pulse(key pon.PropRef) {
	b.counter.ChangeCounter(key, 1)
	b.counter.ChangeCounter(key, -1)
}

// invalidate drops the cached values of key and everything depending on it.
func (b *Bus) invalidate(key pon.PropRef) {
	if e, ok := b.entries[key]; ok {
		e.cache = cacheSlot{}
	}
	for _, d := range b.counter.TransitiveDependents(key) {
		if e, ok := b.entries[d]; ok {
			e.cache = cacheSlot{}
		}
	}
}

// Remove drops the entry at key. Dependents are invalidated.
func (b *Bus) Remove(key pon.PropRef) {
	e, ok := b.entries[key]
	if !ok {
		return
	}
	if !e.volatile {
		b.pulse(key)
	}
	b.invalidate(key)
	b.counter.Remove(key)
	delete(b.entries, key)
	if keys, ok := b.byEntity[key.Entity]; ok {
		delete(keys, key.Key)
		if len(keys) == 0 {
			delete(b.byEntity, key.Entity)
		}
	}
}

// RemoveEntity drops every entry keyed by id.
func (b *Bus) RemoveEntity(id pon.EntityID) {
	for _, k := range b.Keys(id) {
		b.Remove(pon.NewPropRef(id, k))
	}
}

// Get returns the value at key for the current cycle, evaluating it if
// needed. Both values and errors are cached until the cycle advances or
// the key (or one of its dependencies) is set.
func (b *Bus) Get(key pon.PropRef) (pon.Value, error) {
	e, ok := b.entries[key]
	if !ok {
		return nil, &Error{Code: ErrCodeNoSuchEntry, Key: key}
	}
	if e.kind == kindValue {
		return pon.Clone(e.value), nil
	}
	if e.cache.valid && e.cache.cycle == b.cycle {
		if e.cache.err != nil {
			return nil, e.cache.err
		}
		return pon.Clone(e.cache.value), nil
	}

	if _, busy := b.evaluating[key]; busy {
		return nil, &Error{Code: ErrCodeCyclicEvaluation, Key: key, Err: fmt.Errorf("%s read while being evaluated", key)}
	}
	if b.depth >= MaxDepth {
		return nil, &Error{Code: ErrCodeCyclicEvaluation, Key: key, Err: fmt.Errorf("evaluation deeper than %d", MaxDepth)}
	}
	b.evaluating[key] = struct{}{}
	b.depth++
	defer func() {
		delete(b.evaluating, key)
		b.depth--
	}()

	var (
		v   pon.Value
		err error
	)
	switch e.kind {
	case kindConstructor:
		v, err = e.ctor(b)
	case kindExpression:
		if b.evaluator == nil {
			err = fmt.Errorf("no evaluator configured")
		} else {
			v, err = b.evaluator.Evaluate(e.expr, key)
		}
		if err != nil {
			err = &Error{Code: ErrCodeEvaluationFailed, Key: key, Err: err}
		}
	}

	// The entry may have been replaced while evaluating.
	if cur, ok := b.entries[key]; ok && cur == e {
		e.cache = cacheSlot{value: v, err: err, cycle: b.cycle, valid: true}
	}
	if err != nil {
		return nil, err
	}
	return pon.Clone(v), nil
}

// GetAs reads key and asserts its dynamic type. A mismatch is a
// WRONG_TYPE error carrying both type names and the found value.
func GetAs[T pon.Value](b *Bus, key pon.PropRef) (T, error) {
	var zero T
	v, err := b.Get(key)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, &Error{
			Code:       ErrCodeWrongType,
			Key:        key,
			Expected:   pon.TypeName(zero),
			Found:      pon.TypeName(v),
			FoundValue: pon.Stringify(v),
		}
	}
	return t, nil
}

// GetNative reads key and extracts the Go value of a native.
func GetNative[T any](b *Bus, key pon.PropRef, tag string) (T, error) {
	var zero T
	v, err := b.Get(key)
	if err != nil {
		return zero, err
	}
	t, ok := pon.NativeAs[T](v)
	if !ok {
		return zero, &Error{
			Code:       ErrCodeWrongType,
			Key:        key,
			Expected:   tag,
			Found:      pon.TypeName(v),
			FoundValue: pon.Stringify(v),
		}
	}
	return t, nil
}

// Has reports whether key has an entry.
func (b *Bus) Has(key pon.PropRef) bool {
	_, ok := b.entries[key]
	return ok
}

// Len returns the number of entries.
func (b *Bus) Len() int {
	return len(b.entries)
}

// Keys returns the property names stored for id, sorted.
func (b *Bus) Keys(id pon.EntityID) []string {
	keys := make([]string, 0, len(b.byEntity[id]))
	for k := range b.byEntity[id] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Expression returns the stored expression of key. Literal entries
// report their value; constructors have no expression.
func (b *Bus) Expression(key pon.PropRef) (pon.Value, bool) {
	e, ok := b.entries[key]
	if !ok {
		return nil, false
	}
	switch e.kind {
	case kindValue:
		return pon.Clone(e.value), true
	case kindExpression:
		return pon.Clone(e.expr), true
	}
	return nil, false
}

// Dependencies returns the resolved dependency list of key.
func (b *Bus) Dependencies(key pon.PropRef) []pon.PropRef {
	return b.counter.Dependencies(key)
}

// IsVolatile reports whether key or anything it depends on is volatile.
func (b *Bus) IsVolatile(key pon.PropRef) bool {
	return b.counter.IsNonzero(key)
}

// Nonzero returns the keys currently volatile, sorted.
func (b *Bus) Nonzero() []pon.PropRef {
	return pon.SortPropRefs(b.counter.Nonzero())
}

// Cycle returns the current cycle number.
func (b *Bus) Cycle() uint64 {
	return b.cycle
}

// ClearCache advances the cycle, making every cached value stale.
func (b *Bus) ClearCache() {
	b.cycle++
}

// DrainLog returns and resets the invalidation log.
func (b *Bus) DrainLog() InvalidationLog {
	return b.counter.Drain()
}
