package bus

import (
	"regexp"

	"github.com/roach88/pondoc/internal/pon"
)

// Filter selects the keys a Topic cares about.
type Filter func(b *Bus, key pon.PropRef) bool

// AcceptAll passes every key.
func AcceptAll(*Bus, pon.PropRef) bool { return true }

// KeyFilter passes keys whose property name is one of names.
func KeyFilter(names ...string) Filter {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(_ *Bus, key pon.PropRef) bool {
		_, ok := set[key.Key]
		return ok
	}
}

// KeyPattern passes keys whose property name matches re.
func KeyPattern(re *regexp.Regexp) Filter {
	return func(_ *Bus, key pon.PropRef) bool {
		return re.MatchString(key.Key)
	}
}

// TypeFilter passes keys whose current value has the given type name.
// Keys that fail to evaluate do not pass.
func TypeFilter(typeName string) Filter {
	return func(b *Bus, key pon.PropRef) bool {
		v, err := b.Get(key)
		return err == nil && pon.TypeName(v) == typeName
	}
}

// Topic turns successive invalidation logs into the set of keys that
// are invalid in each cycle: keys newly invalidated plus keys that
// remain volatile. Keys leave the running set once their counter is
// back to zero.
type Topic struct {
	bus     *Bus
	filter  Filter
	running map[pon.PropRef]struct{}
}

// NewTopic creates a topic over b. The running set is seeded with the
// keys that are volatile right now, so a topic created mid-session
// reports them from its first cycle.
func NewTopic(b *Bus, filter Filter) *Topic {
	if filter == nil {
		filter = AcceptAll
	}
	t := &Topic{bus: b, filter: filter, running: make(map[pon.PropRef]struct{})}
	for _, k := range b.Nonzero() {
		if filter(b, k) {
			t.running[k] = struct{}{}
		}
	}
	return t
}

// Consume folds one cycle's log into the topic and returns the keys
// invalid in that cycle, sorted.
func (t *Topic) Consume(log InvalidationLog) []pon.PropRef {
	out := make(map[pon.PropRef]struct{}, len(t.running)+len(log.Added)+len(log.Removed))
	for _, k := range log.Added {
		if t.filter(t.bus, k) {
			t.running[k] = struct{}{}
			out[k] = struct{}{}
		}
	}
	for _, k := range log.Removed {
		if _, seen := out[k]; seen || t.filter(t.bus, k) {
			out[k] = struct{}{}
		}
	}
	for k := range t.running {
		out[k] = struct{}{}
	}
	for k := range t.running {
		if !t.bus.IsVolatile(k) {
			delete(t.running, k)
		}
	}

	keys := make([]pon.PropRef, 0, len(out))
	for k := range out {
		keys = append(keys, k)
	}
	return pon.SortPropRefs(keys)
}

// Running returns the keys currently tracked as volatile, sorted.
func (t *Topic) Running() []pon.PropRef {
	keys := make([]pon.PropRef, 0, len(t.running))
	for k := range t.running {
		keys = append(keys, k)
	}
	return pon.SortPropRefs(keys)
}
