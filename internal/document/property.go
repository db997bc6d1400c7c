package document

import (
	"errors"

	"github.com/roach88/pondoc/internal/bus"
	"github.com/roach88/pondoc/internal/pon"
	"github.com/roach88/pondoc/internal/selector"
)

// SetProperty stores expr as property key of entity id. Dependency
// references inside expr are resolved against the tree now, relative
// to id; later tree changes do not re-resolve them. A volatile
// property is re-evaluated every cycle.
//
// Setting "name" to a string also renames the entity.
func (d *Document) SetProperty(id pon.EntityID, key string, expr pon.Value, volatile bool) error {
	e, ok := d.entities[id]
	if !ok {
		return noSuchEntity(id)
	}
	resolved, err := pon.MapDepReferences(expr, func(r pon.DepReference) (pon.DepReference, error) {
		target, err := selector.FindFirst(d, r.Ref.Selector, id)
		if err != nil {
			return r, &Error{Code: ErrCodeNoSuchEntity, Entity: id, Property: key, Err: err}
		}
		ref := pon.NewPropRef(target, r.Ref.Key)
		r.Resolved = &ref
		return r, nil
	})
	if err != nil {
		return err
	}

	ref := pon.NewPropRef(id, key)
	changed, err := d.bus.SetExpression(ref, resolved, pon.Dependencies(resolved), volatile)
	if err != nil {
		return &Error{Code: ErrCodeBusError, Entity: id, Property: key, Err: err}
	}
	if key == NameProperty {
		if s, ok := resolved.(pon.String); ok {
			d.rename(e, string(s))
		}
	}
	if changed {
		d.pending.SetProperties = append(d.pending.SetProperties, ref)
	}
	return nil
}

// RemoveProperty drops property key of entity id. Dependents of the
// property fail with a bad dependency on their next evaluation.
func (d *Document) RemoveProperty(id pon.EntityID, key string) bool {
	ref := pon.NewPropRef(id, key)
	if !d.bus.Has(ref) {
		return false
	}
	d.bus.Remove(ref)
	if key == NameProperty {
		d.rename(d.entities[id], "")
	}
	return true
}

// GetProperty evaluates property key of entity id.
func (d *Document) GetProperty(id pon.EntityID, key string) (pon.Value, error) {
	if _, ok := d.entities[id]; !ok {
		return nil, noSuchEntity(id)
	}
	v, err := d.bus.Get(pon.NewPropRef(id, key))
	if err != nil {
		return nil, d.propertyError(id, key, err)
	}
	return v, nil
}

func (d *Document) propertyError(id pon.EntityID, key string, err error) error {
	var be *bus.Error
	if errors.As(err, &be) && be.Code == bus.ErrCodeNoSuchEntry && be.Key == pon.NewPropRef(id, key) {
		return &Error{Code: ErrCodeNoSuchProperty, Entity: id, Property: key}
	}
	return &Error{Code: ErrCodeBusError, Entity: id, Property: key, Err: err}
}

// PropertyAs evaluates a property and asserts its dynamic type.
func PropertyAs[T pon.Value](d *Document, id pon.EntityID, key string) (T, error) {
	var zero T
	if _, ok := d.entities[id]; !ok {
		return zero, noSuchEntity(id)
	}
	v, err := bus.GetAs[T](d.bus, pon.NewPropRef(id, key))
	if err != nil {
		return zero, d.propertyError(id, key, err)
	}
	return v, nil
}

// Number evaluates a numeric property.
func (d *Document) Number(id pon.EntityID, key string) (float64, error) {
	n, err := PropertyAs[pon.Number](d, id, key)
	return float64(n), err
}

// HasProperty reports whether entity id has property key.
func (d *Document) HasProperty(id pon.EntityID, key string) bool {
	return d.bus.Has(pon.NewPropRef(id, key))
}

// PropertyExpression returns the stored expression of a property, with
// its dependency references resolved.
func (d *Document) PropertyExpression(id pon.EntityID, key string) (pon.Value, bool) {
	return d.bus.Expression(pon.NewPropRef(id, key))
}

// PropertyKeys returns the property keys of entity id, sorted.
func (d *Document) PropertyKeys(id pon.EntityID) []string {
	return d.bus.Keys(id)
}

// IsVolatile reports whether a property is re-evaluated every cycle,
// either itself or through a dependency.
func (d *Document) IsVolatile(id pon.EntityID, key string) bool {
	return d.bus.IsVolatile(pon.NewPropRef(id, key))
}

// ============================================================================
// Evaluation
// ============================================================================

// Evaluate implements bus.Evaluator. Plain references inside expr are
// resolved relative to the entity owning key.
func (d *Document) Evaluate(expr pon.Value, key pon.PropRef) (pon.Value, error) {
	return d.registry.Translate(expr, env{doc: d, from: key.Entity})
}

// Translate evaluates an expression that is not stored in the
// document, resolving references relative to from.
func (d *Document) Translate(expr pon.Value, from pon.EntityID) (pon.Value, error) {
	return d.registry.Translate(expr, env{doc: d, from: from})
}

// env is the eval.Env of one evaluation.
type env struct {
	doc  *Document
	from pon.EntityID
}

func (e env) Get(key pon.PropRef) (pon.Value, error) {
	return e.doc.bus.Get(key)
}

func (e env) Resolve(ref pon.NamedPropRef) (pon.Value, error) {
	target, err := selector.FindFirst(e.doc, ref.Selector, e.from)
	if err != nil {
		return nil, err
	}
	return e.doc.GetProperty(target, ref.Key)
}
