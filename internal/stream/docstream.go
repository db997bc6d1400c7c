// Package stream pushes document changes to clients once per cycle.
//
// A DocStream watches the entities matched by a selector and, when a
// property regex is set, the matching properties of those entities.
// A FrameStream reports every cycle. Streams are owned by a client and
// addressed by the channel the client opened them on.
package stream

import (
	"regexp"

	"github.com/roach88/pondoc/internal/bus"
	"github.com/roach88/pondoc/internal/channel"
	"github.com/roach88/pondoc/internal/document"
	"github.com/roach88/pondoc/internal/pon"
	"github.com/roach88/pondoc/internal/selection"
)

// AddedEntity describes an entity that entered the stream's selection.
// ParentID is NoEntity for the root.
type AddedEntity struct {
	EntityID pon.EntityID
	ParentID pon.EntityID
	TypeName string
}

// PropertyValue is the current state of a changed property. Exactly one
// of Value and Error is meaningful, as told by Failed.
type PropertyValue struct {
	EntityID   pon.EntityID
	Key        string
	Expression pon.Value
	Value      string
	Error      string
	Failed     bool
}

// Cycle is one doc stream message.
type Cycle struct {
	EntitiesAdded     []AddedEntity
	EntitiesRemoved   []pon.EntityID
	UpdatedProperties []PropertyValue
}

// Empty reports whether the cycle carries nothing worth sending.
func (c Cycle) Empty() bool {
	return len(c.EntitiesAdded) == 0 && len(c.EntitiesRemoved) == 0 && len(c.UpdatedProperties) == 0
}

// ToPon renders the cycle as a doc_stream_cycle call.
func (c Cycle) ToPon() pon.Value {
	added := make(pon.Array, len(c.EntitiesAdded))
	for i, e := range c.EntitiesAdded {
		obj := pon.Object{
			"entity_id": pon.Number(e.EntityID),
			"type_name": pon.String(e.TypeName),
		}
		if e.ParentID != pon.NoEntity {
			obj["parent_id"] = pon.Number(e.ParentID)
		}
		added[i] = obj
	}
	removed := make(pon.Array, len(c.EntitiesRemoved))
	for i, id := range c.EntitiesRemoved {
		removed[i] = pon.Number(id)
	}
	props := make(pon.Array, len(c.UpdatedProperties))
	for i, p := range c.UpdatedProperties {
		obj := pon.Object{
			"entity_id":    pon.Number(p.EntityID),
			"property_key": pon.String(p.Key),
		}
		if p.Expression != nil {
			obj["property_expression"] = p.Expression
		}
		if p.Failed {
			obj["property_error"] = pon.String(p.Error)
		} else {
			obj["property_value"] = pon.String(p.Value)
		}
		props[i] = obj
	}
	return pon.Call{Name: "doc_stream_cycle", Arg: pon.Object{
		"entities_added":     added,
		"entities_removed":   removed,
		"updated_properties": props,
	}}
}

// DocStream streams changes to the entities a selector matches.
type DocStream struct {
	client    channel.ClientID
	channel   channel.ChannelID
	selection *selection.Selection
	regex     *regexp.Regexp
	topic     *bus.Topic
}

// NewDocStream creates a stream of sel evaluated from entity from. A
// nil regex streams entity membership only. Call Init before the first
// OnCycle.
func NewDocStream(client channel.ClientID, ch channel.ChannelID, sel pon.Selector, from pon.EntityID, regex *regexp.Regexp) *DocStream {
	return &DocStream{
		client:    client,
		channel:   ch,
		selection: selection.New(sel, from),
		regex:     regex,
	}
}

// Client returns the owning client.
func (s *DocStream) Client() channel.ClientID { return s.client }

// Channel returns the stream's channel.
func (s *DocStream) Channel() channel.ChannelID { return s.channel }

// Selection returns the live selection.
func (s *DocStream) Selection() *selection.Selection { return s.selection }

func (s *DocStream) wants(key pon.PropRef) bool {
	return s.regex != nil && s.selection.Contains(key.Entity) && s.regex.MatchString(key.Key)
}

// Init fills the selection and reports every entity in it, together
// with their properties matching the regex.
func (s *DocStream) Init(doc *document.Document) Cycle {
	change := s.selection.Init(doc)
	c := Cycle{EntitiesAdded: added(doc, change.Added), EntitiesRemoved: change.Removed}
	if s.regex == nil {
		return c
	}
	s.topic = bus.NewTopic(doc.Bus(), func(_ *bus.Bus, key pon.PropRef) bool {
		return s.wants(key)
	})
	for _, id := range change.Added {
		for _, key := range doc.PropertyKeys(id) {
			ref := pon.NewPropRef(id, key)
			if s.wants(ref) {
				c.UpdatedProperties = append(c.UpdatedProperties, propertyValue(doc, ref))
			}
		}
	}
	return c
}

// OnCycle reports what changed for this stream in a closed cycle.
func (s *DocStream) OnCycle(doc *document.Document, changes *document.CycleChanges) Cycle {
	change := s.selection.Cycle(doc, changes)
	c := Cycle{EntitiesAdded: added(doc, change.Added), EntitiesRemoved: change.Removed}
	if s.topic == nil {
		return c
	}
	for _, ref := range s.topic.Consume(changes.Log) {
		if !doc.Exists(ref.Entity) || !s.wants(ref) {
			continue
		}
		c.UpdatedProperties = append(c.UpdatedProperties, propertyValue(doc, ref))
	}
	return c
}

func added(doc *document.Document, ids []pon.EntityID) []AddedEntity {
	out := make([]AddedEntity, 0, len(ids))
	for _, id := range ids {
		parent, _ := doc.Parent(id)
		out = append(out, AddedEntity{EntityID: id, ParentID: parent, TypeName: doc.EntityTypeName(id)})
	}
	return out
}

func propertyValue(doc *document.Document, ref pon.PropRef) PropertyValue {
	p := PropertyValue{EntityID: ref.Entity, Key: ref.Key}
	if expr, ok := doc.PropertyExpression(ref.Entity, ref.Key); ok {
		p.Expression = expr
	}
	v, err := doc.GetProperty(ref.Entity, ref.Key)
	if err != nil {
		p.Failed = true
		p.Error = err.Error()
		return p
	}
	p.Value = pon.Stringify(v)
	return p
}
