package document

import (
	"fmt"
	"slices"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/pondoc/internal/bus"
	"github.com/roach88/pondoc/internal/eval"
	"github.com/roach88/pondoc/internal/pon"
	"github.com/roach88/pondoc/internal/selector"
)

// NameProperty is the reserved property that mirrors an entity's name.
const NameProperty = "name"

// Entity is one node of the tree. Values returned by the document are
// copies; mutate through the document.
type Entity struct {
	ID       pon.EntityID
	TypeName string
	Name     string
	Parent   pon.EntityID
	Children []pon.EntityID
}

func (e *Entity) clone() Entity {
	c := *e
	c.Children = slices.Clone(e.Children)
	return c
}

// Document is a reactive entity tree. Properties live on a bus and are
// evaluated through the registry's expression runtime.
//
// Document is single-writer and not safe for concurrent use.
type Document struct {
	registry *eval.Registry
	bus      *bus.Bus
	topic    *bus.Topic

	entities map[pon.EntityID]*Entity
	byName   map[string]pon.EntityID
	root     pon.EntityID
	lastID   pon.EntityID
	reserved []idRange


	pending CycleChanges
}

// Option configures a Document.
type Option func(*Document)

// WithRoot appends a root entity of the given type on construction.
func WithRoot(typeName string) Option {
	return func(d *Document) {
		if _, err := d.AppendEntity(pon.NoEntity, typeName, ""); err != nil {
			panic(err)
		}
	}
}

// New creates an empty document evaluating through registry.
func New(registry *eval.Registry, opts ...Option) *Document {
	d := &Document{
		registry: registry,
		entities: make(map[pon.EntityID]*Entity),
		byName:   make(map[string]pon.EntityID),
	}
	d.bus = bus.New(d)
	d.topic = bus.NewTopic(d.bus, bus.AcceptAll)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the expression registry.
func (d *Document) Registry() *eval.Registry {
	return d.registry
}

// Bus exposes the property bus for topics and direct reads.
func (d *Document) Bus() *bus.Bus {
	return d.bus
}

// ============================================================================
// Entities
// ============================================================================

// AppendEntity adds an entity under parent and returns its id. The
// first entity appended with parent NoEntity becomes the root.
func (d *Document) AppendEntity(parent pon.EntityID, typeName, name string) (pon.EntityID, error) {
	return d.AppendEntityWithID(pon.NoEntity, parent, typeName, name)
}

// AppendEntityWithID is AppendEntity with a caller-chosen id. The id
// must be an unused one from ReserveEntityIDs or lie above every id
// handed out so far; ids of removed entities are never reused.
// NoEntity allocates a fresh id.
func (d *Document) AppendEntityWithID(id, parent pon.EntityID, typeName, name string) (pon.EntityID, error) {
	if id != pon.NoEntity {
		if _, exists := d.entities[id]; exists {
			return pon.NoEntity, &Error{Code: ErrCodeEntityExists, Entity: id}
		}
		if id > MaxEntityID || (id <= d.lastID && d.reservedIndex(id) < 0) {
			return pon.NoEntity, &Error{Code: ErrCodeInvalidID, Entity: id}
		}
	}
	if parent == pon.NoEntity {
		if d.root != pon.NoEntity {
			panic("cannot set root twice")
		}
	} else if _, ok := d.entities[parent]; !ok {
		return pon.NoEntity, &Error{Code: ErrCodeInvalidParent, Entity: parent}
	}

	switch {
	case id == pon.NoEntity:
		if d.lastID >= MaxEntityID {
			return pon.NoEntity, &Error{Code: ErrCodeIDOverflow, Message: "no ids left"}
		}
		d.lastID++
		id = d.lastID
	case id > d.lastID:
		d.lastID = id
	default:
		d.consumeReserved(d.reservedIndex(id), id)
	}

	e := &Entity{ID: id, TypeName: typeName, Parent: parent}
	d.entities[id] = e
	if parent == pon.NoEntity {
		d.root = id
	} else {
		p := d.entities[parent]
		p.Children = append(p.Children, id)
	}
	d.pending.EntitiesAdded = append(d.pending.EntitiesAdded, id)

	if name != "" {
		if err := d.SetProperty(id, NameProperty, pon.String(name), false); err != nil {
			return id, err
		}
	}
	return id, nil
}

// ReserveEntityIDs sets aside count ids for later AppendEntityWithID
// calls and returns the inclusive range. A count of zero returns an
// empty range (hi < lo). Ids never exceed MaxEntityID.
func (d *Document) ReserveEntityIDs(count int) (lo, hi pon.EntityID, err error) {
	if count < 0 {
		return pon.NoEntity, pon.NoEntity, &Error{Code: ErrCodeIDOverflow, Message: fmt.Sprintf("negative count %d", count)}
	}
	if uint64(count) > uint64(MaxEntityID-d.lastID) {
		return pon.NoEntity, pon.NoEntity, &Error{Code: ErrCodeIDOverflow, Message: fmt.Sprintf("cannot reserve %d ids", count)}
	}
	lo = d.lastID + 1
	if count == 0 {
		return lo, d.lastID, nil
	}
	d.lastID += pon.EntityID(count)
	d.reserved = append(d.reserved, idRange{lo: lo, hi: d.lastID})
	return lo, d.lastID, nil
}

// MaxEntityID is the largest id the document hands out. Ids travel as
// numbers, so they stay within the exactly representable integers.
const MaxEntityID pon.EntityID = 1 << 53

// idRange is an inclusive run of reserved, not yet used ids.
type idRange struct{ lo, hi pon.EntityID }

// reservedIndex returns the index of the range holding id, or -1.
// Ranges are appended in increasing order and never overlap.
func (d *Document) reservedIndex(id pon.EntityID) int {
	i, found := slices.BinarySearchFunc(d.reserved, id, func(r idRange, id pon.EntityID) int {
		switch {
		case r.hi < id:
			return -1
		case r.lo > id:
			return 1
		}
		return 0
	})
	if !found {
		return -1
	}
	return i
}

func (d *Document) consumeReserved(i int, id pon.EntityID) {
	r := d.reserved[i]
	switch {
	case r.lo == r.hi:
		d.reserved = slices.Delete(d.reserved, i, i+1)
	case id == r.lo:
		d.reserved[i].lo++
	case id == r.hi:
		d.reserved[i].hi--
	default:
		d.reserved[i].hi = id - 1
		d.reserved = slices.Insert(d.reserved, i+1, idRange{lo: id + 1, hi: r.hi})
	}
}

// RemoveEntity removes id and its descendants, children first. Every
// removed entity is reported by the next CloseCycle.
func (d *Document) RemoveEntity(id pon.EntityID) error {
	e, ok := d.entities[id]
	if !ok {
		return noSuchEntity(id)
	}
	if e.Parent != pon.NoEntity {
		if p, ok := d.entities[e.Parent]; ok {
			p.Children = slices.DeleteFunc(p.Children, func(c pon.EntityID) bool { return c == id })
		}
	}
	d.remove(e)
	return nil
}

func (d *Document) remove(e *Entity) {
	for _, c := range e.Children {
		if child, ok := d.entities[c]; ok {
			d.remove(child)
		}
	}
	d.bus.RemoveEntity(e.ID)
	delete(d.entities, e.ID)
	if e.Name != "" && d.byName[e.Name] == e.ID {
		delete(d.byName, e.Name)
	}
	if d.root == e.ID {
		d.root = pon.NoEntity
	}
	d.pending.EntitiesRemoved = append(d.pending.EntitiesRemoved, e.clone())
}

// ClearChildren removes every child of id.
func (d *Document) ClearChildren(id pon.EntityID) error {
	e, ok := d.entities[id]
	if !ok {
		return noSuchEntity(id)
	}
	for _, c := range slices.Clone(e.Children) {
		if err := d.RemoveEntity(c); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) rename(e *Entity, name string) {
	name = norm.NFC.String(name)
	if e.Name == name {
		return
	}
	if e.Name != "" && d.byName[e.Name] == e.ID {
		delete(d.byName, e.Name)
	}
	e.Name = name
	if name != "" {
		d.byName[name] = e.ID
	}
}

// ============================================================================
// Navigation
// ============================================================================

// Root returns the root entity.
func (d *Document) Root() (pon.EntityID, bool) {
	return d.root, d.root != pon.NoEntity
}

// Exists reports whether id is in the tree.
func (d *Document) Exists(id pon.EntityID) bool {
	_, ok := d.entities[id]
	return ok
}

// Entity returns a copy of the entity with the given id.
func (d *Document) Entity(id pon.EntityID) (Entity, bool) {
	e, ok := d.entities[id]
	if !ok {
		return Entity{}, false
	}
	return e.clone(), true
}

// Len returns the number of entities.
func (d *Document) Len() int {
	return len(d.entities)
}

// Parent returns the parent of id. The root has none.
func (d *Document) Parent(id pon.EntityID) (pon.EntityID, bool) {
	e, ok := d.entities[id]
	if !ok || e.Parent == pon.NoEntity {
		return pon.NoEntity, false
	}
	return e.Parent, true
}

// Children returns the children of id in document order. The slice
// must not be modified.
func (d *Document) Children(id pon.EntityID) []pon.EntityID {
	if e, ok := d.entities[id]; ok {
		return e.Children
	}
	return nil
}

func (d *Document) sibling(id pon.EntityID, offset int) (pon.EntityID, bool) {
	parent, ok := d.Parent(id)
	if !ok {
		return pon.NoEntity, false
	}
	siblings := d.entities[parent].Children
	i := slices.Index(siblings, id)
	if i < 0 || i+offset < 0 || i+offset >= len(siblings) {
		return pon.NoEntity, false
	}
	return siblings[i+offset], true
}

// PrevSibling returns the sibling before id.
func (d *Document) PrevSibling(id pon.EntityID) (pon.EntityID, bool) {
	return d.sibling(id, -1)
}

// NextSibling returns the sibling after id.
func (d *Document) NextSibling(id pon.EntityID) (pon.EntityID, bool) {
	return d.sibling(id, 1)
}

// EntityName returns the name of id, or "".
func (d *Document) EntityName(id pon.EntityID) string {
	if e, ok := d.entities[id]; ok {
		return e.Name
	}
	return ""
}

// EntityTypeName returns the type name of id, or "".
func (d *Document) EntityTypeName(id pon.EntityID) string {
	if e, ok := d.entities[id]; ok {
		return e.TypeName
	}
	return ""
}

// EntityByName looks an entity up by its NFC-normalized name.
func (d *Document) EntityByName(name string) (pon.EntityID, error) {
	id, ok := d.byName[norm.NFC.String(name)]
	if !ok {
		return pon.NoEntity, &Error{Code: ErrCodeCantFindEntityByName, Message: name}
	}
	return id, nil
}

// FindFirst returns the first entity sel reaches from entity from.
func (d *Document) FindFirst(sel pon.Selector, from pon.EntityID) (pon.EntityID, error) {
	return selector.FindFirst(d, sel, from)
}

// EntityIDs returns every entity id in pre-order, starting at the root.
func (d *Document) EntityIDs() []pon.EntityID {
	ids := make([]pon.EntityID, 0, len(d.entities))
	if d.root == pon.NoEntity {
		return ids
	}
	var walk func(id pon.EntityID)
	walk = func(id pon.EntityID) {
		ids = append(ids, id)
		for _, c := range d.entities[id].Children {
			walk(c)
		}
	}
	walk(d.root)
	return ids
}

// String returns the XML dump of the document.
func (d *Document) String() string {
	s, err := d.XML()
	if err != nil {
		return fmt.Sprintf("<!-- %v -->", err)
	}
	return s
}
