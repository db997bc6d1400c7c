// Package depcount maintains a dependency graph in which every key
// carries a counter equal to its own contribution plus the sum of the
// counters of everything it depends on.
//
// The property bus uses the counter to track volatility: a volatile
// property contributes 1, so a key's counter is non-zero exactly when
// it transitively depends on something volatile. Counters are updated
// incrementally and every zero crossing is recorded, which is what the
// bus turns into its invalidation log.
//
// The graph must stay acyclic. SetDependencies refuses edges that would
// close a cycle and leaves the counter untouched when it does.
package depcount

import (
	"errors"
	"fmt"
	"slices"
)

// ErrCycle is returned when a dependency edge would close a cycle.
var ErrCycle = errors.New("dependency cycle")

// Changes lists the keys whose counter crossed zero since the last Drain.
// Added keys went from zero to non-zero, Removed keys the other way.
// The same key may appear in both, in event order.
type Changes[K comparable] struct {
	Added   []K
	Removed []K
}

// Empty reports whether no crossing was recorded.
func (c Changes[K]) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

type node[K comparable] struct {
	deps       []K
	dependents []K
	count      int
}

// Counter is an inverse dependency counter over keys of type K.
// Not safe for concurrent use.
type Counter[K comparable] struct {
	nodes   map[K]*node[K]
	changes Changes[K]
}

// New creates an empty counter.
func New[K comparable]() *Counter[K] {
	return &Counter[K]{nodes: make(map[K]*node[K])}
}

func (c *Counter[K]) node(key K) *node[K] {
	n, ok := c.nodes[key]
	if !ok {
		n = &node[K]{}
		c.nodes[key] = n
	}
	return n
}

// SetDependencies replaces the dependencies of key.
//
// The counter of key (and, recursively, of its dependents) moves by the
// difference between the summed counters of the new and the old
// dependencies. Identical dependency lists are a no-op.
func (c *Counter[K]) SetDependencies(key K, deps []K) error {
	n := c.node(key)
	if slices.Equal(n.deps, deps) {
		return nil
	}

	if len(deps) > 0 {
		reach := c.transitiveDependents(key)
		for _, d := range deps {
			if d == key {
				return fmt.Errorf("%w: %v depends on itself", ErrCycle, key)
			}
			if _, ok := reach[d]; ok {
				return fmt.Errorf("%w: %v already depends on %v", ErrCycle, d, key)
			}
		}
	}

	uninvalidate := 0
	for _, old := range n.deps {
		o := c.nodes[old]
		if i := slices.Index(o.dependents, key); i >= 0 {
			o.dependents = slices.Delete(o.dependents, i, i+1)
		}
		uninvalidate += o.count
	}

	reinvalidate := 0
	for _, d := range deps {
		dn := c.node(d)
		dn.dependents = append(dn.dependents, key)
		reinvalidate += dn.count
	}

	oldDeps := n.deps
	n.deps = slices.Clone(deps)
	for _, old := range oldDeps {
		c.collect(old)
	}

	if diff := reinvalidate - uninvalidate; diff != 0 {
		c.ChangeCounter(key, diff)
	}
	return nil
}

// ChangeCounter adds diff to the counter of key and of every key that
// transitively depends on it, recording zero crossings.
func (c *Counter[K]) ChangeCounter(key K, diff int) {
	if diff == 0 {
		return
	}
	n := c.node(key)
	before := n.count
	n.count += diff
	switch {
	case before == 0 && n.count != 0:
		c.changes.Added = append(c.changes.Added, key)
	case before != 0 && n.count == 0:
		c.changes.Removed = append(c.changes.Removed, key)
	}
	for _, d := range slices.Clone(n.dependents) {
		c.ChangeCounter(d, diff)
	}
}

// Remove drops key from the graph. Its own contribution is withdrawn
// from its dependents; the node is kept while other keys still depend
// on it so their edges survive a later re-set.
func (c *Counter[K]) Remove(key K) {
	n, ok := c.nodes[key]
	if !ok {
		return
	}
	_ = c.SetDependencies(key, nil) // clearing edges cannot form a cycle
	if n.count != 0 {
		c.ChangeCounter(key, -n.count)
	}
	c.collect(key)
}

// collect deletes a node that no longer carries any information.
func (c *Counter[K]) collect(key K) {
	n, ok := c.nodes[key]
	if ok && n.count == 0 && len(n.deps) == 0 && len(n.dependents) == 0 {
		delete(c.nodes, key)
	}
}

// Count returns the counter of key (zero for unknown keys).
func (c *Counter[K]) Count(key K) int {
	if n, ok := c.nodes[key]; ok {
		return n.count
	}
	return 0
}

// IsNonzero reports whether key's counter is non-zero.
func (c *Counter[K]) IsNonzero(key K) bool {
	return c.Count(key) != 0
}

// Nonzero returns every key with a non-zero counter, in no particular order.
func (c *Counter[K]) Nonzero() []K {
	var keys []K
	for k, n := range c.nodes {
		if n.count != 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// Dependencies returns a copy of key's dependency list.
func (c *Counter[K]) Dependencies(key K) []K {
	if n, ok := c.nodes[key]; ok {
		return slices.Clone(n.deps)
	}
	return nil
}

// Dependents returns a copy of the keys that directly depend on key.
func (c *Counter[K]) Dependents(key K) []K {
	if n, ok := c.nodes[key]; ok {
		return slices.Clone(n.dependents)
	}
	return nil
}

// TransitiveDependents returns every key that depends on key, directly
// or indirectly, in breadth-first discovery order.
func (c *Counter[K]) TransitiveDependents(key K) []K {
	var out []K
	seen := map[K]struct{}{}
	queue := c.Dependents(key)
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
		queue = append(queue, c.nodes[k].dependents...)
	}
	return out
}

func (c *Counter[K]) transitiveDependents(key K) map[K]struct{} {
	seen := map[K]struct{}{}
	for _, k := range c.TransitiveDependents(key) {
		seen[k] = struct{}{}
	}
	return seen
}

// Drain returns the zero crossings recorded since the previous call.
func (c *Counter[K]) Drain() Changes[K] {
	ch := c.changes
	c.changes = Changes[K]{}
	return ch
}

// Len returns the number of keys tracked.
func (c *Counter[K]) Len() int {
	return len(c.nodes)
}
