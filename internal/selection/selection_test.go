package selection

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pondoc/internal/document"
	"github.com/roach88/pondoc/internal/eval"
	"github.com/roach88/pondoc/internal/pon"
	"github.com/roach88/pondoc/internal/selector"
)

const fixture = `<Root>
  <Entity name="a">
    <Entity name="b" x="5">
      <Car name="c" />
    </Entity>
    <Entity name="d" />
  </Entity>
  <Entity name="e" x="5" />
</Root>`

func testDoc(t *testing.T) (*document.Document, map[string]pon.EntityID) {
	t.Helper()
	r, err := eval.NewStdRegistry()
	require.NoError(t, err)
	d := document.MustLoadString(r, fixture)
	ids := map[string]pon.EntityID{}
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		id, err := d.EntityByName(name)
		require.NoError(t, err)
		ids[name] = id
	}
	return d, ids
}

func TestSelection_Init(t *testing.T) {
	d, ids := testDoc(t)
	s := New(pon.MustParseSelector("this:[x=5]"), ids["a"])

	change := s.Init(d)
	assert.Equal(t, Change{Added: []pon.EntityID{ids["b"]}}, change)
	assert.True(t, s.Contains(ids["b"]))
	assert.False(t, s.Contains(ids["e"]))
	assert.Equal(t, []pon.EntityID{ids["b"]}, s.IDs())
}

func TestSelection_Remove(t *testing.T) {
	d, ids := testDoc(t)
	d.CloseCycle()
	s := New(pon.MustParseSelector("this:[x=5]"), ids["a"])
	s.Init(d)

	require.NoError(t, d.RemoveEntity(ids["a"]))
	cc := d.CloseCycle()
	change := s.Cycle(d, &cc)
	assert.Equal(t, Change{Removed: []pon.EntityID{ids["b"]}}, change)
	assert.Zero(t, s.Len())
}

func TestSelection_AddAndSetProperty(t *testing.T) {
	d, ids := testDoc(t)
	d.CloseCycle()
	s := New(pon.MustParseSelector("root:[z=2]"), ids["a"])
	assert.False(t, s.Init(d).Changed())

	z, err := d.AppendEntity(ids["c"], "Test", "")
	require.NoError(t, err)
	require.NoError(t, d.SetProperty(z, "z", pon.Number(2), false))
	cc := d.CloseCycle()

	change := s.Cycle(d, &cc)
	assert.Equal(t, Change{Added: []pon.EntityID{z}}, change)
}

func TestSelection_PropertyChangeTriggersFullPass(t *testing.T) {
	d, ids := testDoc(t)
	d.CloseCycle()
	s := New(pon.MustParseSelector("root:[x=5]"), ids["a"])
	s.Init(d)

	require.NoError(t, d.SetProperty(ids["b"], "x", pon.Number(6), false))
	require.NoError(t, d.SetProperty(ids["d"], "x", pon.Number(5), false))
	cc := d.CloseCycle()

	change := s.Cycle(d, &cc)
	assert.Equal(t, Change{Added: []pon.EntityID{ids["d"]}, Removed: []pon.EntityID{ids["b"]}}, change)
}

func TestSelection_DependentPropertyTriggersFullPass(t *testing.T) {
	d, ids := testDoc(t)
	require.NoError(t, d.SetProperty(ids["d"], "x", pon.MustParse("@root:[name=e].x"), false))
	d.CloseCycle()
	s := New(pon.MustParseSelector("root:[x=5]"), ids["a"])
	s.Init(d)
	require.True(t, s.Contains(ids["d"]))

	require.NoError(t, d.SetProperty(ids["e"], "x", pon.Number(1), false))
	cc := d.CloseCycle()

	change := s.Cycle(d, &cc)
	assert.Equal(t, []pon.EntityID{ids["d"], ids["e"]}, change.Removed)
}

func TestSelection_UnrelatedPropertyIsIncremental(t *testing.T) {
	d, ids := testDoc(t)
	d.CloseCycle()
	s := New(pon.MustParseSelector("root:[x=5]"), ids["a"])
	s.Init(d)

	require.NoError(t, d.SetProperty(ids["b"], "y", pon.Number(1), false))
	cc := d.CloseCycle()
	assert.False(t, s.Cycle(d, &cc).Changed())
	assert.Equal(t, []pon.EntityID{ids["b"], ids["e"]}, s.IDs())
}

func TestSelection_SiblingSelectorReevaluatesOnTreeChange(t *testing.T) {
	d, ids := testDoc(t)
	d.CloseCycle()
	s := New(pon.MustParseSelector("this|next-sibling|"), ids["b"])
	assert.Equal(t, []pon.EntityID{ids["d"]}, s.Init(d).Added)

	require.NoError(t, d.RemoveEntity(ids["d"]))
	n, err := d.AppendEntity(ids["a"], "Entity", "n")
	require.NoError(t, err)
	cc := d.CloseCycle()

	change := s.Cycle(d, &cc)
	assert.Equal(t, Change{Added: []pon.EntityID{n}, Removed: []pon.EntityID{ids["d"]}}, change)
}

// TestSelection_IncrementalMatchesFull applies random tree and property
// mutations and checks after every cycle that the incrementally kept
// selection equals one evaluated from scratch.
func TestSelection_IncrementalMatchesFull(t *testing.T) {
	selectors := []string{
		"root:[x=1]",
		"root:[x=1]:*",
		"root:![x=2]",
		"root:![x=2]:Car",
		"root/*/*",
		"root:Car",
		"root:[[x=1] || [y=1]]",
		"this:*",
		"this|parent|/*",
		"root:[x]",
	}

	for _, text := range selectors {
		t.Run(text, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(7, uint64(len(text))))
			d, ids := testDoc(t)
			d.CloseCycle()
			sel := pon.MustParseSelector(text)
			s := New(sel, ids["b"])
			s.Init(d)

			for step := range 60 {
				all := d.EntityIDs()
				pick := all[rng.IntN(len(all))]
				switch rng.IntN(4) {
				case 0:
					typ := "Entity"
					if rng.IntN(3) == 0 {
						typ = "Car"
					}
					_, err := d.AppendEntity(pick, typ, "")
					require.NoError(t, err)
				case 1:
					if root, _ := d.Root(); pick != root && pick != ids["b"] {
						require.NoError(t, d.RemoveEntity(pick))
					}
				case 2:
					require.NoError(t, d.SetProperty(pick, "x", pon.Number(rng.IntN(3)), false))
				case 3:
					require.NoError(t, d.SetProperty(pick, "y", pon.Number(rng.IntN(2)), false))
				}

				cc := d.CloseCycle()
				s.Cycle(d, &cc)

				fresh := New(sel, ids["b"])
				fresh.Init(d)
				require.Equal(t, fresh.IDs(), s.IDs(), "step %d", step)
			}
		})
	}
}

func TestSelection_FindFirstScenario(t *testing.T) {
	d, ids := testDoc(t)

	got, err := selector.FindFirst(d, pon.MustParseSelector("this:[x=5]"), ids["a"])
	require.NoError(t, err)
	assert.Equal(t, ids["b"], got)

	got, err = selector.FindFirst(d, pon.MustParseSelector("this:![x=5]"), ids["a"])
	require.NoError(t, err)
	assert.Equal(t, ids["d"], got)
}
