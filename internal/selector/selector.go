// Package selector evaluates pon selectors against an entity tree.
//
// Two directions are supported. FindFirst walks forward from the
// anchor and returns the first entity reached. Matches answers whether
// one candidate belongs to the selector's match set by walking
// backward from the candidate toward the anchor, so membership tests
// never materialize the set.
//
// Match sets are defined step by step, starting from the anchor:
//
//	/m     children of the current set that match m
//	:m     the current set and its descendants that match m
//	:!m    the region below the current set not separated by a match of m
//	:!m:n  entities of that region that match n
//	|parent|, |prev-sibling|, |next-sibling| move every member
package selector

import (
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/pondoc/internal/pon"
)

// Tree is the read view of an entity tree that selectors run against.
// The document implements it.
type Tree interface {
	Root() (pon.EntityID, bool)
	Exists(id pon.EntityID) bool
	Parent(id pon.EntityID) (pon.EntityID, bool)
	Children(id pon.EntityID) []pon.EntityID
	PrevSibling(id pon.EntityID) (pon.EntityID, bool)
	NextSibling(id pon.EntityID) (pon.EntityID, bool)
	EntityName(id pon.EntityID) string
	EntityTypeName(id pon.EntityID) string

	// PropertyExpression returns the stored, unevaluated expression.
	PropertyExpression(id pon.EntityID, key string) (pon.Value, bool)
	// GetProperty returns the evaluated value.
	GetProperty(id pon.EntityID, key string) (pon.Value, error)
}

// NotFoundError reports that a selector step produced no entity.
type NotFoundError struct {
	Selector pon.Selector
	From     pon.EntityID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no entity matches %s from #%d", e.Selector, e.From)
}

// opKind is a compiled step. A search-complement followed by a search
// compiles into a single region op.
type opKind int

const (
	opParent opKind = iota
	opChildren
	opSearch
	opRegion
	opPrevSibling
	opNextSibling
)

type op struct {
	kind   opKind
	match  pon.EntityMatch // Children, Search; the excluded match for Region
	filter pon.EntityMatch // Region only, nil for a lone ":!m"
}

// compile skips leading parent steps, returning how many there were.
func compile(sel pon.Selector) (ups int, ops []op) {
	path := sel.Path
	for ups < len(path) && path[ups].Kind == pon.StepParent {
		ups++
	}
	path = path[ups:]
	for i := 0; i < len(path); i++ {
		step := path[i]
		switch step.Kind {
		case pon.StepParent:
			ops = append(ops, op{kind: opParent})
		case pon.StepChildren:
			ops = append(ops, op{kind: opChildren, match: step.Match})
		case pon.StepSearch:
			ops = append(ops, op{kind: opSearch, match: step.Match})
		case pon.StepSearchInverse:
			o := op{kind: opRegion, match: step.Match}
			if i+1 < len(path) && path[i+1].Kind == pon.StepSearch {
				o.filter = path[i+1].Match
				i++
			}
			ops = append(ops, o)
		case pon.StepPrevSibling:
			ops = append(ops, op{kind: opPrevSibling})
		case pon.StepNextSibling:
			ops = append(ops, op{kind: opNextSibling})
		}
	}
	return ups, ops
}

// anchor resolves the selector root and applies leading parent steps.
func anchor(t Tree, sel pon.Selector, this pon.EntityID, ups int) (pon.EntityID, bool) {
	var id pon.EntityID
	switch sel.Root.Kind {
	case pon.RootThis:
		id = this
	case pon.RootDocument:
		root, ok := t.Root()
		if !ok {
			return pon.NoEntity, false
		}
		id = root
	case pon.RootID:
		id = sel.Root.ID
	}
	if !t.Exists(id) {
		return pon.NoEntity, false
	}
	for range ups {
		parent, ok := t.Parent(id)
		if !ok {
			return pon.NoEntity, false
		}
		id = parent
	}
	return id, true
}

// MatchEntity reports whether entity id satisfies m. Property
// comparisons look at the stored expression first and fall back to
// the evaluated value; a missing property never equals anything.
func MatchEntity(t Tree, m pon.EntityMatch, id pon.EntityID) bool {
	switch m := m.(type) {
	case nil, pon.MatchAny:
		return true
	case pon.MatchName:
		return t.EntityName(id) == norm.NFC.String(m.Name)
	case pon.MatchTypeName:
		return t.EntityTypeName(id) == m.Name
	case pon.MatchProperty:
		return propertyEquals(t, id, m.Key, m.Value) != m.Negate
	case pon.MatchPropertyExists:
		_, ok := t.PropertyExpression(id, m.Key)
		return ok
	case pon.MatchAnd:
		return MatchEntity(t, m.Left, id) && MatchEntity(t, m.Right, id)
	case pon.MatchOr:
		return MatchEntity(t, m.Left, id) || MatchEntity(t, m.Right, id)
	}
	return false
}

func propertyEquals(t Tree, id pon.EntityID, key string, want pon.Value) bool {
	expr, ok := t.PropertyExpression(id, key)
	if !ok {
		return false
	}
	if pon.Equal(expr, want) {
		return true
	}
	v, err := t.GetProperty(id, key)
	return err == nil && pon.Equal(v, want)
}

// PropertyOfInterest reports whether a change to property key could
// change the match set of sel.
func PropertyOfInterest(sel pon.Selector, key string) bool {
	for _, p := range sel.Path {
		if p.Match != nil && p.Match.InterestedIn(key) {
			return true
		}
	}
	return false
}
