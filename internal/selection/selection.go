// Package selection keeps the set of entities matching a selector up
// to date across document cycles.
//
// A full pass tests every entity. The per-cycle update avoids it when
// it can: if no property the selector looks at was touched, and the
// selector has no parent or sibling steps, only added entities are
// tested and removed ones dropped.
package selection

import (
	"slices"

	"github.com/roach88/pondoc/internal/document"
	"github.com/roach88/pondoc/internal/pon"
	"github.com/roach88/pondoc/internal/selector"
)

// Change lists entities that entered or left the selection, sorted.
type Change struct {
	Added   []pon.EntityID
	Removed []pon.EntityID
}

// Changed reports whether membership changed.
func (c Change) Changed() bool {
	return len(c.Added) > 0 || len(c.Removed) > 0
}

// Selection is a live selector result.
type Selection struct {
	selector pon.Selector
	from     pon.EntityID
	members  map[pon.EntityID]struct{}
}

// New creates an empty selection of sel evaluated from entity from.
// Call Init to populate it.
func New(sel pon.Selector, from pon.EntityID) *Selection {
	return &Selection{selector: sel, from: from, members: make(map[pon.EntityID]struct{})}
}

// Selector returns the selector.
func (s *Selection) Selector() pon.Selector {
	return s.selector
}

// From returns the entity the selector is evaluated from.
func (s *Selection) From() pon.EntityID {
	return s.from
}

// Init populates the selection.
func (s *Selection) Init(doc *document.Document) Change {
	return s.Reevaluate(doc)
}

// Reevaluate tests every entity and reports the difference to the
// previous membership.
func (s *Selection) Reevaluate(doc *document.Document) Change {
	next := make(map[pon.EntityID]struct{}, len(s.members))
	for _, id := range doc.EntityIDs() {
		if selector.Matches(doc, s.selector, s.from, id) {
			next[id] = struct{}{}
		}
	}
	var c Change
	for id := range next {
		if _, ok := s.members[id]; !ok {
			c.Added = append(c.Added, id)
		}
	}
	for id := range s.members {
		if _, ok := next[id]; !ok {
			c.Removed = append(c.Removed, id)
		}
	}
	s.members = next
	return sorted(c)
}

// Cycle applies one cycle of document changes.
func (s *Selection) Cycle(doc *document.Document, changes *document.CycleChanges) Change {
	if s.needsFullPass(changes) {
		return s.Reevaluate(doc)
	}
	var c Change
	for _, id := range changes.EntitiesAdded {
		if !doc.Exists(id) {
			continue
		}
		if _, ok := s.members[id]; ok {
			continue
		}
		if selector.Matches(doc, s.selector, s.from, id) {
			s.members[id] = struct{}{}
			c.Added = append(c.Added, id)
		}
	}
	for _, e := range changes.EntitiesRemoved {
		if _, ok := s.members[e.ID]; ok {
			delete(s.members, e.ID)
			c.Removed = append(c.Removed, e.ID)
		}
	}
	return sorted(c)
}

func (s *Selection) needsFullPass(changes *document.CycleChanges) bool {
	for _, ref := range changes.SetProperties {
		if selector.PropertyOfInterest(s.selector, ref.Key) {
			return true
		}
	}
	for _, ref := range changes.InvalidatedProperties {
		if selector.PropertyOfInterest(s.selector, ref.Key) {
			return true
		}
	}
	treeChanged := len(changes.EntitiesAdded) > 0 || len(changes.EntitiesRemoved) > 0
	return treeChanged && s.selector.HasStructuralSteps()
}

// Contains reports whether id is selected.
func (s *Selection) Contains(id pon.EntityID) bool {
	_, ok := s.members[id]
	return ok
}

// IDs returns the selected ids, sorted.
func (s *Selection) IDs() []pon.EntityID {
	ids := make([]pon.EntityID, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of selected entities.
func (s *Selection) Len() int {
	return len(s.members)
}

func sorted(c Change) Change {
	slices.Sort(c.Added)
	slices.Sort(c.Removed)
	return c
}
