package pon

// RootKind identifies where a selector starts.
type RootKind int

const (
	// RootThis anchors at the entity the selector is evaluated from.
	RootThis RootKind = iota
	// RootDocument anchors at the document root.
	RootDocument
	// RootID anchors at an explicit entity id.
	RootID
)

// SelectorRoot is the anchor of a selector.
type SelectorRoot struct {
	Kind RootKind
	ID   EntityID // Only for RootID
}

// StepKind identifies a selector path step.
type StepKind int

const (
	// StepParent moves to the parent: "|parent|".
	StepParent StepKind = iota + 1
	// StepChildren keeps direct children matching: "/m".
	StepChildren
	// StepSearch keeps descendants matching: ":m".
	StepSearch
	// StepSearchInverse keeps descendants reachable without crossing a
	// match: ":!m".
	StepSearchInverse
	// StepPrevSibling moves to the previous sibling: "|prev-sibling|".
	StepPrevSibling
	// StepNextSibling moves to the next sibling: "|next-sibling|".
	StepNextSibling
)

// PathStep is one step of a selector path. Match is nil for parent and
// sibling steps.
type PathStep struct {
	Kind  StepKind
	Match EntityMatch
}

// Selector addresses entities: an anchor followed by path steps.
type Selector struct {
	Root SelectorRoot
	Path []PathStep
}

// ThisSelector returns "this".
func ThisSelector() Selector {
	return Selector{Root: SelectorRoot{Kind: RootThis}}
}

// RootSelector returns "root".
func RootSelector() Selector {
	return Selector{Root: SelectorRoot{Kind: RootDocument}}
}

// IDSelector returns "#id".
func IDSelector(id EntityID) Selector {
	return Selector{Root: SelectorRoot{Kind: RootID, ID: id}}
}

// ThisParentSelector returns "this|parent|".
func ThisParentSelector() Selector {
	return Selector{Root: SelectorRoot{Kind: RootThis}, Path: []PathStep{{Kind: StepParent}}}
}

// RootSearchSelector returns "root:[name=name]", the meaning of a bare word.
func RootSearchSelector(name string) Selector {
	return Selector{
		Root: SelectorRoot{Kind: RootDocument},
		Path: []PathStep{{Kind: StepSearch, Match: MatchName{Name: name}}},
	}
}

// Equal reports structural equality of two selectors.
func (s Selector) Equal(o Selector) bool {
	if s.Root != o.Root || len(s.Path) != len(o.Path) {
		return false
	}
	for i := range s.Path {
		if s.Path[i].Kind != o.Path[i].Kind {
			return false
		}
		if !EqualMatch(s.Path[i].Match, o.Path[i].Match) {
			return false
		}
	}
	return true
}

// HasStructuralSteps reports whether the selector navigates to parents
// or siblings. Membership for such selectors can change when unrelated
// entities are added or removed.
func (s Selector) HasStructuralSteps() bool {
	for _, p := range s.Path {
		switch p.Kind {
		case StepParent, StepPrevSibling, StepNextSibling:
			return true
		}
	}
	return false
}

// String returns the canonical text of the selector.
func (s Selector) String() string {
	var b stringBuilder
	b.selector(s)
	return b.String()
}

// EntityMatch is a sealed interface over per-entity predicates.
type EntityMatch interface {
	entityMatch() // Sealed

	// InterestedIn reports whether a change to property key could
	// change the outcome of this predicate.
	InterestedIn(key string) bool
}

// MatchAny matches every entity: "*".
type MatchAny struct{}

func (MatchAny) entityMatch()               {}
func (MatchAny) InterestedIn(_ string) bool { return false }

// MatchName matches the entity name: "[name=x]".
type MatchName struct {
	Name string
}

func (MatchName) entityMatch()                 {}
func (MatchName) InterestedIn(key string) bool { return key == "name" }

// MatchTypeName matches the entity type: "Type".
type MatchTypeName struct {
	Name string
}

func (MatchTypeName) entityMatch()               {}
func (MatchTypeName) InterestedIn(_ string) bool { return false }

// MatchProperty compares a property: "[k=v]", or "[k!=v]" when Negate.
type MatchProperty struct {
	Key    string
	Value  Value
	Negate bool
}

func (MatchProperty) entityMatch()                   {}
func (m MatchProperty) InterestedIn(key string) bool { return key == m.Key }

// MatchPropertyExists matches entities carrying a property: "[k]".
type MatchPropertyExists struct {
	Key string
}

func (MatchPropertyExists) entityMatch()                   {}
func (m MatchPropertyExists) InterestedIn(key string) bool { return key == m.Key }

// MatchAnd matches when both sides match: "[[a] && [b]]".
type MatchAnd struct {
	Left, Right EntityMatch
}

func (MatchAnd) entityMatch() {}
func (m MatchAnd) InterestedIn(key string) bool {
	return m.Left.InterestedIn(key) || m.Right.InterestedIn(key)
}

// MatchOr matches when either side matches: "[[a] || [b]]".
type MatchOr struct {
	Left, Right EntityMatch
}

func (MatchOr) entityMatch() {}
func (m MatchOr) InterestedIn(key string) bool {
	return m.Left.InterestedIn(key) || m.Right.InterestedIn(key)
}

// NewPropertyMatch builds a property predicate. A string comparison on
// "name" becomes a MatchName.
func NewPropertyMatch(key string, value Value, negate bool) EntityMatch {
	if s, ok := value.(String); ok && key == "name" && !negate {
		return MatchName{Name: string(s)}
	}
	return MatchProperty{Key: key, Value: value, Negate: negate}
}

// EqualMatch reports structural equality of two predicates.
func EqualMatch(a, b EntityMatch) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case MatchAny:
		_, ok := b.(MatchAny)
		return ok
	case MatchName:
		bv, ok := b.(MatchName)
		return ok && av == bv
	case MatchTypeName:
		bv, ok := b.(MatchTypeName)
		return ok && av == bv
	case MatchProperty:
		bv, ok := b.(MatchProperty)
		return ok && av.Key == bv.Key && av.Negate == bv.Negate && Equal(av.Value, bv.Value)
	case MatchPropertyExists:
		bv, ok := b.(MatchPropertyExists)
		return ok && av == bv
	case MatchAnd:
		bv, ok := b.(MatchAnd)
		return ok && EqualMatch(av.Left, bv.Left) && EqualMatch(av.Right, bv.Right)
	case MatchOr:
		bv, ok := b.(MatchOr)
		return ok && EqualMatch(av.Left, bv.Left) && EqualMatch(av.Right, bv.Right)
	}
	return false
}
