package bus

import (
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pondoc/internal/pon"
)

// countingEval resolves dependency references through the bus and sums
// "add" calls. It counts evaluations per key.
type countingEval struct {
	bus   *Bus
	calls map[pon.PropRef]int
}

func (e *countingEval) Evaluate(expr pon.Value, key pon.PropRef) (pon.Value, error) {
	e.calls[key]++
	return e.eval(expr)
}

func (e *countingEval) eval(v pon.Value) (pon.Value, error) {
	switch v := v.(type) {
	case pon.DepReference:
		if v.Resolved == nil {
			return nil, fmt.Errorf("unresolved %s", v.Ref.Key)
		}
		return e.bus.Get(*v.Resolved)
	case pon.Call:
		if v.Name != "add" {
			return nil, fmt.Errorf("no such function: %s", v.Name)
		}
		sum := 0.0
		for _, a := range v.Arg.(pon.Array) {
			n, err := e.eval(a)
			if err != nil {
				return nil, err
			}
			sum += float64(n.(pon.Number))
		}
		return pon.Number(sum), nil
	}
	return v, nil
}

func newTestBus(t *testing.T) (*Bus, *countingEval) {
	t.Helper()
	ev := &countingEval{calls: map[pon.PropRef]int{}}
	b := New(ev)
	ev.bus = b
	return b, ev
}

func dep(r pon.PropRef) pon.DepReference {
	return pon.DepReference{
		Ref:      pon.NamedPropRef{Selector: pon.IDSelector(r.Entity), Key: r.Key},
		Resolved: &r,
	}
}

// endCycle drains the log through topic and advances the cycle.
func endCycle(b *Bus, topic *Topic) []pon.PropRef {
	keys := topic.Consume(b.DrainLog())
	b.ClearCache()
	return keys
}

var (
	keyX = pon.NewPropRef(1, "x")
	keyY = pon.NewPropRef(1, "y")
	keyZ = pon.NewPropRef(2, "z")
)

// =============================================================================
// Reads and writes
// =============================================================================

func TestBus_SetValueAndGet(t *testing.T) {
	b, _ := newTestBus(t)

	changed, err := b.SetValue(keyX, pon.Number(5), false)
	require.NoError(t, err)
	assert.True(t, changed)

	v, err := b.Get(keyX)
	require.NoError(t, err)
	assert.Equal(t, pon.Number(5), v)
	assert.True(t, b.Has(keyX))
	assert.Equal(t, []string{"x"}, b.Keys(1))
}

func TestBus_Get_NoSuchEntry(t *testing.T) {
	b, _ := newTestBus(t)

	_, err := b.Get(keyX)
	require.Error(t, err)
	assert.True(t, IsNoSuchEntry(err))

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, keyX, be.Key)
}

func TestBus_Get_ReturnsClone(t *testing.T) {
	b, _ := newTestBus(t)
	_, err := b.SetValue(keyX, pon.Array{pon.Number(1)}, false)
	require.NoError(t, err)

	v, err := b.Get(keyX)
	require.NoError(t, err)
	v.(pon.Array)[0] = pon.Number(99)

	again, err := b.Get(keyX)
	require.NoError(t, err)
	assert.Equal(t, pon.Array{pon.Number(1)}, again)
}

func TestGetAs_WrongType(t *testing.T) {
	b, _ := newTestBus(t)
	_, err := b.SetValue(keyX, pon.String("five"), false)
	require.NoError(t, err)

	_, err = GetAs[pon.Number](b, keyX)
	require.Error(t, err)
	assert.True(t, IsWrongType(err))

	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "number", be.Expected)
	assert.Equal(t, "string", be.Found)
	assert.Equal(t, "'five'", be.FoundValue)

	s, err := GetAs[pon.String](b, keyX)
	require.NoError(t, err)
	assert.Equal(t, pon.String("five"), s)
}

// =============================================================================
// Caching
// =============================================================================

func TestBus_CachesPerCycle(t *testing.T) {
	b, ev := newTestBus(t)
	_, err := b.SetValue(keyX, pon.Number(2), false)
	require.NoError(t, err)
	_, err = b.SetExpression(keyY, pon.Call{Name: "add", Arg: pon.Array{dep(keyX), pon.Number(1)}}, []pon.PropRef{keyX}, false)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		v, err := b.Get(keyY)
		require.NoError(t, err)
		assert.Equal(t, pon.Number(3), v)
	}
	assert.Equal(t, 1, ev.calls[keyY])

	b.ClearCache()
	_, err = b.Get(keyY)
	require.NoError(t, err)
	assert.Equal(t, 2, ev.calls[keyY], "stale after the cycle advances")
}

func TestBus_CachesErrors(t *testing.T) {
	b, ev := newTestBus(t)
	_, err := b.SetExpression(keyY, pon.Call{Name: "nope", Arg: pon.Nil{}}, nil, false)
	require.NoError(t, err)

	_, err1 := b.Get(keyY)
	_, err2 := b.Get(keyY)
	require.Error(t, err1)
	assert.Same(t, err1, err2)
	assert.Equal(t, 1, ev.calls[keyY])

	var be *Error
	require.ErrorAs(t, err1, &be)
	assert.Equal(t, ErrCodeEvaluationFailed, be.Code)
	assert.Contains(t, err1.Error(), "no such function: nope")
}

func TestBus_SetInvalidatesDependentCaches(t *testing.T) {
	b, _ := newTestBus(t)
	_, err := b.SetValue(keyX, pon.Number(2), false)
	require.NoError(t, err)
	_, err = b.SetExpression(keyY, dep(keyX), []pon.PropRef{keyX}, false)
	require.NoError(t, err)
	_, err = b.SetExpression(keyZ, dep(keyY), []pon.PropRef{keyY}, false)
	require.NoError(t, err)

	v, err := b.Get(keyZ)
	require.NoError(t, err)
	assert.Equal(t, pon.Number(2), v)

	_, err = b.SetValue(keyX, pon.Number(7), false)
	require.NoError(t, err)

	v, err = b.Get(keyZ)
	require.NoError(t, err)
	assert.Equal(t, pon.Number(7), v, "same cycle read sees the new value")
}

// =============================================================================
// Invalidation log
// =============================================================================

func TestBus_IdempotentSet(t *testing.T) {
	b, _ := newTestBus(t)
	topic := NewTopic(b, AcceptAll)

	_, err := b.SetValue(keyX, pon.Number(5), false)
	require.NoError(t, err)
	assert.Equal(t, []pon.PropRef{keyX}, endCycle(b, topic))

	changed, err := b.SetValue(keyX, pon.Number(5), false)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, endCycle(b, topic))

	expr := pon.Call{Name: "add", Arg: pon.Array{dep(keyX)}}
	changed, err = b.SetExpression(keyY, expr, []pon.PropRef{keyX}, false)
	require.NoError(t, err)
	assert.True(t, changed)
	endCycle(b, topic)

	changed, err = b.SetExpression(keyY, pon.Clone(expr), []pon.PropRef{keyX}, false)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, b.DrainLog().Empty())
}

func TestBus_SetReportsKeyOnce(t *testing.T) {
	b, _ := newTestBus(t)
	topic := NewTopic(b, AcceptAll)
	_, err := b.SetValue(keyX, pon.Number(5), false)
	require.NoError(t, err)
	endCycle(b, topic)

	n, err := GetAs[pon.Number](b, keyX)
	require.NoError(t, err)
	assert.Equal(t, pon.Number(5), n)

	_, err = b.SetValue(keyX, pon.Number(9), false)
	require.NoError(t, err)
	n, err = GetAs[pon.Number](b, keyX)
	require.NoError(t, err)
	assert.Equal(t, pon.Number(9), n)

	assert.Equal(t, []pon.PropRef{keyX}, endCycle(b, topic))
	assert.Empty(t, endCycle(b, topic))
}

func TestBus_DependentOfUnsetKey(t *testing.T) {
	b, _ := newTestBus(t)
	topic := NewTopic(b, AcceptAll)

	_, err := b.SetExpression(keyY, dep(keyX), []pon.PropRef{keyX}, false)
	require.NoError(t, err)
	_, err = b.Get(keyY)
	assert.Error(t, err, "x is not set yet")
	endCycle(b, topic)

	_, err = b.SetValue(keyX, pon.Number(9), false)
	require.NoError(t, err)
	assert.Equal(t, []pon.PropRef{keyX, keyY}, endCycle(b, topic))

	v, err := b.Get(keyY)
	require.NoError(t, err)
	assert.Equal(t, pon.Number(9), v)

	assert.Empty(t, endCycle(b, topic))
}

func TestBus_VolatileDependentsEveryCycle(t *testing.T) {
	b, _ := newTestBus(t)
	topic := NewTopic(b, AcceptAll)

	_, err := b.SetValue(keyX, pon.Number(1), true)
	require.NoError(t, err)
	_, err = b.SetExpression(keyY, dep(keyX), []pon.PropRef{keyX}, false)
	require.NoError(t, err)
	assert.True(t, b.IsVolatile(keyY))

	for i := 0; i < 3; i++ {
		assert.Equal(t, []pon.PropRef{keyX, keyY}, endCycle(b, topic), "cycle %d", i)
	}

	_, err = b.SetValue(keyX, pon.Number(1), false)
	require.NoError(t, err)
	assert.False(t, b.IsVolatile(keyY))
	assert.Equal(t, []pon.PropRef{keyX, keyY}, endCycle(b, topic), "the cycle volatility ends")
	assert.Empty(t, endCycle(b, topic))
}

func TestTopic_SeedsVolatileKeys(t *testing.T) {
	b, _ := newTestBus(t)
	_, err := b.SetValue(keyX, pon.Number(1), true)
	require.NoError(t, err)
	b.DrainLog()

	topic := NewTopic(b, AcceptAll)
	assert.Equal(t, []pon.PropRef{keyX}, topic.Running())
	assert.Equal(t, []pon.PropRef{keyX}, endCycle(b, topic))
}

func TestTopic_Filters(t *testing.T) {
	b, _ := newTestBus(t)
	byName := NewTopic(b, KeyFilter("y"))
	byPattern := NewTopic(b, KeyPattern(regexp.MustCompile("^[xz]$")))
	byType := NewTopic(b, TypeFilter(pon.TypeString))

	_, err := b.SetValue(keyX, pon.Number(1), false)
	require.NoError(t, err)
	_, err = b.SetValue(keyY, pon.String("y"), false)
	require.NoError(t, err)
	_, err = b.SetValue(keyZ, pon.Number(3), false)
	require.NoError(t, err)

	log := b.DrainLog()
	assert.Equal(t, []pon.PropRef{keyY}, byName.Consume(log))
	assert.Equal(t, []pon.PropRef{keyX, keyZ}, byPattern.Consume(log))
	assert.Equal(t, []pon.PropRef{keyY}, byType.Consume(log))
}

// =============================================================================
// Removal and cycles
// =============================================================================

func TestBus_RemoveEntity(t *testing.T) {
	b, _ := newTestBus(t)
	topic := NewTopic(b, AcceptAll)
	_, err := b.SetValue(keyX, pon.Number(1), true)
	require.NoError(t, err)
	_, err = b.SetValue(keyY, pon.Number(2), false)
	require.NoError(t, err)
	_, err = b.SetExpression(keyZ, dep(keyX), []pon.PropRef{keyX}, false)
	require.NoError(t, err)
	endCycle(b, topic)

	b.RemoveEntity(1)
	assert.False(t, b.Has(keyX))
	assert.False(t, b.Has(keyY))
	assert.Empty(t, b.Keys(1))
	assert.False(t, b.IsVolatile(keyZ), "volatility withdrawn from dependents")

	assert.Contains(t, endCycle(b, topic), keyZ)
	_, err = b.Get(keyZ)
	assert.Error(t, err)
}

func TestBus_RejectsCyclicDependency(t *testing.T) {
	b, _ := newTestBus(t)
	_, err := b.SetExpression(keyY, dep(keyX), []pon.PropRef{keyX}, false)
	require.NoError(t, err)

	changed, err := b.SetExpression(keyX, dep(keyY), []pon.PropRef{keyY}, false)
	require.Error(t, err)
	assert.False(t, changed)
	assert.True(t, IsCyclic(err))
	assert.False(t, b.Has(keyX))
}

func TestBus_CyclicEvaluation(t *testing.T) {
	b, _ := newTestBus(t)
	_, err := b.SetConstructor(keyX, nil, false, func(b *Bus) (pon.Value, error) {
		return b.Get(keyX)
	})
	require.NoError(t, err)

	_, err = b.Get(keyX)
	require.Error(t, err)
	assert.True(t, IsCyclic(err))
}

func TestBus_Constructor(t *testing.T) {
	b, _ := newTestBus(t)
	calls := 0
	_, err := b.SetConstructor(keyX, nil, true, func(*Bus) (pon.Value, error) {
		calls++
		return pon.Number(float64(calls)), nil
	})
	require.NoError(t, err)

	v, _ := b.Get(keyX)
	assert.Equal(t, pon.Number(1), v)
	v, _ = b.Get(keyX)
	assert.Equal(t, pon.Number(1), v)
	b.ClearCache()
	v, _ = b.Get(keyX)
	assert.Equal(t, pon.Number(2), v)

	_, hasExpr := b.Expression(keyX)
	assert.False(t, hasExpr)
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := fmt.Errorf("outer: %w", &Error{Code: ErrCodeEvaluationFailed, Key: keyX, Err: inner})
	assert.ErrorIs(t, err, inner)
	assert.False(t, IsNoSuchEntry(err))
}
