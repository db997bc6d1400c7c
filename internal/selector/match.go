package selector

import (
	"github.com/roach88/pondoc/internal/pon"
)

// Matches reports whether candidate is in the match set of sel when
// evaluated from this.
func Matches(t Tree, sel pon.Selector, this, candidate pon.EntityID) bool {
	ups, ops := compile(sel)
	start, ok := anchor(t, sel, this, ups)
	if !ok || !t.Exists(candidate) {
		return false
	}
	m := matcher{tree: t, ops: ops, anchor: start, memo: make(map[memoKey]bool)}
	return m.in(len(ops), candidate)
}

type memoKey struct {
	level int
	id    pon.EntityID
}

// matcher decides membership of the set produced by the first level
// ops, recursing toward level zero, the anchor alone.
type matcher struct {
	tree   Tree
	ops    []op
	anchor pon.EntityID
	memo   map[memoKey]bool
}

func (m *matcher) in(level int, id pon.EntityID) bool {
	if level == 0 {
		return id == m.anchor
	}
	key := memoKey{level: level, id: id}
	if v, ok := m.memo[key]; ok {
		return v
	}
	// Seed the memo so a malformed tree cannot recurse forever.
	m.memo[key] = false
	v := m.step(level, id)
	m.memo[key] = v
	return v
}

func (m *matcher) step(level int, id pon.EntityID) bool {
	o := m.ops[level-1]
	prev := level - 1
	switch o.kind {
	case opParent:
		for _, child := range m.tree.Children(id) {
			if m.in(prev, child) {
				return true
			}
		}
		return false

	case opChildren:
		if !MatchEntity(m.tree, o.match, id) {
			return false
		}
		parent, ok := m.tree.Parent(id)
		return ok && m.in(prev, parent)

	case opSearch:
		if !MatchEntity(m.tree, o.match, id) {
			return false
		}
		for cur, ok := id, true; ok; cur, ok = m.tree.Parent(cur) {
			if m.in(prev, cur) {
				return true
			}
		}
		return false

	case opRegion:
		if o.filter != nil && !MatchEntity(m.tree, o.filter, id) {
			return false
		}
		for cur, ok := id, true; ok; cur, ok = m.tree.Parent(cur) {
			if MatchEntity(m.tree, o.match, cur) {
				return false
			}
			if m.in(prev, cur) {
				return true
			}
		}
		return false

	case opPrevSibling:
		next, ok := m.tree.NextSibling(id)
		return ok && m.in(prev, next)

	case opNextSibling:
		before, ok := m.tree.PrevSibling(id)
		return ok && m.in(prev, before)
	}
	return false
}

// FindFirst walks sel forward from this and returns the first entity
// it reaches. Searches are depth-first pre-order and never return the
// entity they start from.
func FindFirst(t Tree, sel pon.Selector, this pon.EntityID) (pon.EntityID, error) {
	ups, ops := compile(sel)
	notFound := &NotFoundError{Selector: sel, From: this}
	id, ok := anchor(t, sel, this, ups)
	if !ok {
		return pon.NoEntity, notFound
	}
	for _, o := range ops {
		switch o.kind {
		case opParent:
			id, ok = t.Parent(id)
		case opChildren:
			id, ok = firstChild(t, id, o.match)
		case opSearch:
			id, ok = firstDescendant(t, id, func(c pon.EntityID) (bool, bool) {
				return MatchEntity(t, o.match, c), true
			})
		case opRegion:
			id, ok = firstDescendant(t, id, func(c pon.EntityID) (bool, bool) {
				if MatchEntity(t, o.match, c) {
					return false, false
				}
				return o.filter == nil || MatchEntity(t, o.filter, c), true
			})
		case opPrevSibling:
			id, ok = t.PrevSibling(id)
		case opNextSibling:
			id, ok = t.NextSibling(id)
		}
		if !ok {
			return pon.NoEntity, notFound
		}
	}
	return id, nil
}

func firstChild(t Tree, id pon.EntityID, m pon.EntityMatch) (pon.EntityID, bool) {
	for _, c := range t.Children(id) {
		if MatchEntity(t, m, c) {
			return c, true
		}
	}
	return pon.NoEntity, false
}

// firstDescendant visits the descendants of id in pre-order. visit
// reports whether the entity is the result and whether to descend.
func firstDescendant(t Tree, id pon.EntityID, visit func(pon.EntityID) (found, descend bool)) (pon.EntityID, bool) {
	for _, c := range t.Children(id) {
		found, descend := visit(c)
		if found {
			return c, true
		}
		if !descend {
			continue
		}
		if r, ok := firstDescendant(t, c, visit); ok {
			return r, true
		}
	}
	return pon.NoEntity, false
}
