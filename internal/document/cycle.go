package document

import (
	"github.com/roach88/pondoc/internal/bus"
	"github.com/roach88/pondoc/internal/pon"
)

// CycleChanges is everything that happened to the document during one
// cycle. It is the only way consumers observe mutation.
type CycleChanges struct {
	// Cycle is the bus cycle that was closed.
	Cycle uint64

	// SetProperties lists properties whose expression changed, in the
	// order they were set.
	SetProperties []pon.PropRef

	// InvalidatedProperties lists properties whose value may differ
	// from the previous cycle, sorted. Volatile properties appear every
	// cycle.
	InvalidatedProperties []pon.PropRef

	// EntitiesAdded lists appended entity ids in append order.
	EntitiesAdded []pon.EntityID

	// EntitiesRemoved holds the removed entities as they were at
	// removal, children before parents.
	EntitiesRemoved []Entity

	// Log is the raw bus invalidation log.
	Log bus.InvalidationLog
}

// Changed reports whether anything happened.
func (c *CycleChanges) Changed() bool {
	return len(c.SetProperties) > 0 || len(c.InvalidatedProperties) > 0 ||
		len(c.EntitiesAdded) > 0 || len(c.EntitiesRemoved) > 0
}

// RemovedIDs returns the ids of EntitiesRemoved.
func (c *CycleChanges) RemovedIDs() []pon.EntityID {
	ids := make([]pon.EntityID, len(c.EntitiesRemoved))
	for i, e := range c.EntitiesRemoved {
		ids[i] = e.ID
	}
	return ids
}

// CloseCycle ends the current cycle: it collects the pending changes,
// drains the bus log and advances the bus cycle so cached values are
// recomputed on next read.
func (d *Document) CloseCycle() CycleChanges {
	changes := d.pending
	d.pending = CycleChanges{}

	changes.Cycle = d.bus.Cycle()
	changes.Log = d.bus.DrainLog()
	for _, ref := range d.topic.Consume(changes.Log) {
		if _, ok := d.entities[ref.Entity]; ok {
			changes.InvalidatedProperties = append(changes.InvalidatedProperties, ref)
		}
	}
	d.bus.ClearCache()
	return changes
}
