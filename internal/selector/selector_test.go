package selector

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pondoc/internal/pon"
)

// ============================================================================
// Test tree
// ============================================================================

type testEntity struct {
	name, typeName string
	parent         pon.EntityID
	children       []pon.EntityID
	props          map[string]pon.Value
}

type testTree struct {
	entities map[pon.EntityID]*testEntity
	byName   map[string]pon.EntityID
	next     pon.EntityID
}

func newTestTree() *testTree {
	return &testTree{entities: map[pon.EntityID]*testEntity{}, byName: map[string]pon.EntityID{}, next: 1}
}

func (t *testTree) add(parent pon.EntityID, typeName, name string, props map[string]string) pon.EntityID {
	id := t.next
	t.next++
	e := &testEntity{name: name, typeName: typeName, parent: parent, props: map[string]pon.Value{}}
	for k, v := range props {
		e.props[k] = pon.MustParse(v)
	}
	t.entities[id] = e
	if parent != pon.NoEntity {
		t.entities[parent].children = append(t.entities[parent].children, id)
	}
	if name != "" {
		t.byName[name] = id
	}
	return id
}

func (t *testTree) Root() (pon.EntityID, bool) {
	_, ok := t.entities[1]
	return 1, ok
}

func (t *testTree) Exists(id pon.EntityID) bool {
	_, ok := t.entities[id]
	return ok
}

func (t *testTree) Parent(id pon.EntityID) (pon.EntityID, bool) {
	e, ok := t.entities[id]
	if !ok || e.parent == pon.NoEntity {
		return pon.NoEntity, false
	}
	return e.parent, true
}

func (t *testTree) Children(id pon.EntityID) []pon.EntityID {
	if e, ok := t.entities[id]; ok {
		return e.children
	}
	return nil
}

func (t *testTree) sibling(id pon.EntityID, offset int) (pon.EntityID, bool) {
	parent, ok := t.Parent(id)
	if !ok {
		return pon.NoEntity, false
	}
	siblings := t.entities[parent].children
	i := slices.Index(siblings, id) + offset
	if i < 0 || i >= len(siblings) {
		return pon.NoEntity, false
	}
	return siblings[i], true
}

func (t *testTree) PrevSibling(id pon.EntityID) (pon.EntityID, bool) { return t.sibling(id, -1) }
func (t *testTree) NextSibling(id pon.EntityID) (pon.EntityID, bool) { return t.sibling(id, 1) }
func (t *testTree) EntityName(id pon.EntityID) string                { return t.entities[id].name }
func (t *testTree) EntityTypeName(id pon.EntityID) string            { return t.entities[id].typeName }

func (t *testTree) PropertyExpression(id pon.EntityID, key string) (pon.Value, bool) {
	v, ok := t.entities[id].props[key]
	return v, ok
}

// GetProperty evaluates "add [a, b]" so fallback comparison can be
// exercised without the expression runtime.
func (t *testTree) GetProperty(id pon.EntityID, key string) (pon.Value, error) {
	v, ok := t.entities[id].props[key]
	if !ok {
		return nil, errors.New("no such property")
	}
	if c, ok := v.(pon.Call); ok && c.Name == "add" {
		var sum pon.Number
		for _, n := range c.Arg.(pon.Array) {
			sum += n.(pon.Number)
		}
		return sum, nil
	}
	return v, nil
}

// fixture builds:
//
//	Root
//	  a
//	    b x=5 y=1
//	      c (Car)
//	    d y=3
//	  e x=5 y=3
func fixture() (*testTree, map[string]pon.EntityID) {
	t := newTestTree()
	root := t.add(pon.NoEntity, "Root", "", nil)
	a := t.add(root, "Entity", "a", nil)
	b := t.add(a, "Entity", "b", map[string]string{"x": "5", "y": "1"})
	t.add(b, "Car", "c", nil)
	t.add(a, "Entity", "d", map[string]string{"y": "3"})
	t.add(root, "Entity", "e", map[string]string{"x": "5", "y": "3"})
	ids := map[string]pon.EntityID{"root": root}
	for name, id := range t.byName {
		ids[name] = id
	}
	return t, ids
}

// ============================================================================
// Matches
// ============================================================================

func TestMatches(t *testing.T) {
	tree, ids := fixture()
	all := []string{"a", "b", "c", "d", "e"}

	tests := []struct {
		selector string
		this     string
		want     []string
	}{
		{"root:[x=5]", "root", []string{"b", "e"}},
		{"root:[x!=5]", "root", []string{"a", "c", "d"}},
		{"root:![x=5]", "root", []string{"a", "d"}},
		{"root:![x=5]:*", "a", []string{"a", "d"}},
		{"this:![x=5]", "a", []string{"a", "d"}},
		{"this:![x=5]:*", "a", []string{"a", "d"}},
		{"root:[x]", "a", []string{"b", "e"}},
		{"this/*", "a", []string{"b", "d"}},
		{"this:[x=5]:*", "a", []string{"b", "c"}},
		{"root:[x=5]:*", "a", []string{"b", "c", "e"}},
		{"this:*", "a", []string{"a", "b", "c", "d"}},
		{"this:Car", "a", []string{"c"}},
		{"this|parent|", "b", []string{"a"}},
		{"root:[[x=5] && [y=3]]", "root", []string{"e"}},
		{"root:[[x=5] || [y=3]]", "root", []string{"b", "d", "e"}},
		{"this|parent|/*", "b", []string{"b", "d"}},
		{"this|next-sibling|", "b", []string{"d"}},
		{"this|prev-sibling|", "d", []string{"b"}},
		{"this/*|parent|", "a", []string{"a"}},
		{"#2/[name=d]", "root", []string{"d"}},
		{"d", "root", []string{"d"}},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			sel := pon.MustParseSelector(tt.selector)
			var got []string
			for _, name := range all {
				if Matches(tree, sel, ids[tt.this], ids[name]) {
					got = append(got, name)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatches_SearchIncludesAnchor(t *testing.T) {
	tree, ids := fixture()
	sel := pon.MustParseSelector("this:*")

	assert.True(t, Matches(tree, sel, ids["b"], ids["b"]))
	assert.True(t, Matches(tree, sel, ids["b"], ids["c"]))
	assert.False(t, Matches(tree, sel, ids["b"], ids["a"]))
}

func TestMatches_MissingAnchor(t *testing.T) {
	tree, ids := fixture()

	assert.False(t, Matches(tree, pon.MustParseSelector("#99:*"), ids["a"], ids["b"]))
	assert.False(t, Matches(tree, pon.MustParseSelector("root|parent|:*"), ids["a"], ids["b"]))
	assert.False(t, Matches(tree, pon.MustParseSelector("this:*"), ids["a"], 99))
}

func TestMatches_EvaluatedValue(t *testing.T) {
	tree, ids := fixture()
	f := tree.add(ids["root"], "Entity", "f", map[string]string{"x": "add [2, 3]"})

	sel := pon.MustParseSelector("root:[x=5]")
	assert.True(t, Matches(tree, sel, ids["root"], f))
	assert.False(t, Matches(tree, pon.MustParseSelector("root:[x=6]"), ids["root"], f))
}

// ============================================================================
// FindFirst
// ============================================================================

func TestFindFirst(t *testing.T) {
	tree, ids := fixture()

	tests := []struct {
		selector string
		this     string
		want     string
	}{
		{"this:[x=5]", "a", "b"},
		{"this:![x=5]", "a", "d"},
		{"this|prev-sibling|", "d", "b"},
		{"this|next-sibling|", "b", "d"},
		{"root:[name=d]", "root", "d"},
		{"root:Car", "e", "c"},
		{"this|parent|", "c", "b"},
		{"this|parent||parent|/*", "c", "b"},
		{"root/[x=5]", "a", "e"},
		{"this", "c", "c"},
		{"root", "c", "root"},
		{"#2", "c", "a"},
		{"b", "e", "b"},
		{"parent", "d", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			id, err := FindFirst(tree, pon.MustParseSelector(tt.selector), ids[tt.this])
			require.NoError(t, err)
			assert.Equal(t, ids[tt.want], id)
		})
	}
}

func TestFindFirst_ExcludesStart(t *testing.T) {
	tree, ids := fixture()

	_, err := FindFirst(tree, pon.MustParseSelector("this:[x=5]"), ids["b"])
	require.Error(t, err)
}

func TestFindFirst_NotFound(t *testing.T) {
	tree, ids := fixture()

	for _, s := range []string{
		"this:[x=7]",
		"this|prev-sibling|",
		"root|parent|",
		"#99",
		"this/[y=3]",
	} {
		t.Run(s, func(t *testing.T) {
			_, err := FindFirst(tree, pon.MustParseSelector(s), ids["b"])
			var nf *NotFoundError
			require.ErrorAs(t, err, &nf)
			assert.Equal(t, ids["b"], nf.From)
			assert.Contains(t, err.Error(), "no entity matches")
		})
	}
}

// TestFindFirst_AgreesWithMatches checks that whatever FindFirst returns
// is a member of the match set.
func TestFindFirst_AgreesWithMatches(t *testing.T) {
	tree, ids := fixture()

	for _, s := range []string{"root:[x=5]", "root:![x=5]:[y=3]", "root:Car", "this:*", "root/*/*"} {
		sel := pon.MustParseSelector(s)
		id, err := FindFirst(tree, sel, ids["a"])
		require.NoError(t, err, s)
		assert.True(t, Matches(tree, sel, ids["a"], id), s)
	}
}

// ============================================================================
// MatchEntity and PropertyOfInterest
// ============================================================================

func TestMatchEntity(t *testing.T) {
	tree, ids := fixture()

	assert.True(t, MatchEntity(tree, pon.MatchAny{}, ids["a"]))
	assert.True(t, MatchEntity(tree, pon.MatchName{Name: "a"}, ids["a"]))
	assert.True(t, MatchEntity(tree, pon.MatchTypeName{Name: "Car"}, ids["c"]))
	assert.False(t, MatchEntity(tree, pon.MatchTypeName{Name: "Car"}, ids["b"]))
	assert.True(t, MatchEntity(tree, pon.MatchPropertyExists{Key: "y"}, ids["d"]))
	assert.False(t, MatchEntity(tree, pon.MatchPropertyExists{Key: "x"}, ids["d"]))

	// A missing property is never equal, so it satisfies "!=".
	ne := pon.MatchProperty{Key: "x", Value: pon.Number(5), Negate: true}
	assert.True(t, MatchEntity(tree, ne, ids["d"]))
	assert.False(t, MatchEntity(tree, ne, ids["b"]))
}

func TestPropertyOfInterest(t *testing.T) {
	tests := []struct {
		selector string
		key      string
		want     bool
	}{
		{"root:[x=5]", "x", true},
		{"root:[x=5]", "y", false},
		{"root:[[x=5] && [y=3]]", "y", true},
		{"root:[[x=5] || [y=3]]", "x", true},
		{"root:[x]", "x", true},
		{"root:![x=5]:*", "x", true},
		{"root:[name=d]", "name", true},
		{"root:Car", "x", false},
		{"this|parent|", "x", false},
		{"this:*", "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.selector+" "+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, PropertyOfInterest(pon.MustParseSelector(tt.selector), tt.key))
		})
	}
}
