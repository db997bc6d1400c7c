package pon

import (
	"math"
	"strconv"
	"strings"
)

// Stringify returns the canonical text of v.
func Stringify(v Value) string {
	var b stringBuilder
	b.value(v)
	return b.String()
}

// StringifyMatch returns the canonical text of an entity predicate.
func StringifyMatch(m EntityMatch) string {
	var b stringBuilder
	b.match(m)
	return b.String()
}

// FormatNumber formats a number in its shortest decimal form.
// Infinities and NaN use the inf, -inf and nan keywords.
func FormatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "nan"
	case math.IsInf(n, 1):
		return "inf"
	case math.IsInf(n, -1):
		return "-inf"
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// QuoteString wraps s in single quotes, escaping backslashes and quotes.
func QuoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// IsIdentifier reports whether s can be written bare: a letter or
// underscore followed by letters, digits, underscores or dashes.
// Reserved words are not identifiers.
func IsIdentifier(s string) bool {
	if s == "" || isReserved(s) {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !isIdentStart(r) {
				return false
			}
			continue
		}
		if !isIdentPart(r) {
			return false
		}
	}
	return true
}

type stringBuilder struct {
	strings.Builder
}

func (b *stringBuilder) value(v Value) {
	switch v := v.(type) {
	case nil, Nil:
		b.WriteString("()")
	case Number:
		b.WriteString(FormatNumber(float64(v)))
	case String:
		b.WriteString(QuoteString(string(v)))
	case Bool:
		if v {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case Array:
		b.WriteByte('[')
		for i, e := range v {
			if i > 0 {
				b.WriteString(", ")
			}
			b.value(e)
		}
		b.WriteByte(']')
	case Object:
		b.WriteString("{ ")
		for i, k := range v.SortedKeys() {
			if i > 0 {
				b.WriteString(", ")
			}
			b.key(k)
			b.WriteString(": ")
			b.value(v[k])
		}
		b.WriteString(" }")
	case Call:
		b.WriteString(v.Name)
		b.WriteByte(' ')
		b.value(v.Arg)
	case Selector:
		b.selector(v)
	case Reference:
		b.namedRef(v.Ref)
	case DepReference:
		b.WriteByte('@')
		b.namedRef(v.Ref)
	case Native:
		if f, ok := v.Format(); ok {
			b.value(f)
			return
		}
		b.WriteString("<" + v.Tag() + ">")
	}
}

func (b *stringBuilder) key(k string) {
	if IsIdentifier(k) {
		b.WriteString(k)
		return
	}
	b.WriteString(QuoteString(k))
}

func (b *stringBuilder) namedRef(r NamedPropRef) {
	b.selector(r.Selector)
	b.WriteByte('.')
	b.key(r.Key)
}

func (b *stringBuilder) selector(s Selector) {
	switch s.Root.Kind {
	case RootThis:
		b.WriteString("this")
	case RootDocument:
		b.WriteString("root")
	case RootID:
		b.WriteByte('#')
		b.WriteString(strconv.FormatUint(uint64(s.Root.ID), 10))
	}
	for _, p := range s.Path {
		switch p.Kind {
		case StepParent:
			b.WriteString("|parent|")
		case StepChildren:
			b.WriteByte('/')
			b.match(p.Match)
		case StepSearch:
			b.WriteByte(':')
			b.match(p.Match)
		case StepSearchInverse:
			b.WriteString(":!")
			b.match(p.Match)
		case StepPrevSibling:
			b.WriteString("|prev-sibling|")
		case StepNextSibling:
			b.WriteString("|next-sibling|")
		}
	}
}

func (b *stringBuilder) match(m EntityMatch) {
	switch m := m.(type) {
	case nil, MatchAny:
		b.WriteByte('*')
	case MatchName:
		b.WriteString("[name=")
		b.key(m.Name)
		b.WriteByte(']')
	case MatchTypeName:
		b.WriteString(m.Name)
	case MatchProperty:
		b.WriteByte('[')
		b.key(m.Key)
		if m.Negate {
			b.WriteString("!=")
		} else {
			b.WriteByte('=')
		}
		b.value(m.Value)
		b.WriteByte(']')
	case MatchPropertyExists:
		b.WriteByte('[')
		b.key(m.Key)
		b.WriteByte(']')
	case MatchAnd:
		b.WriteByte('[')
		b.match(m.Left)
		b.WriteString(" && ")
		b.match(m.Right)
		b.WriteByte(']')
	case MatchOr:
		b.WriteByte('[')
		b.match(m.Left)
		b.WriteString(" || ")
		b.match(m.Right)
		b.WriteByte(']')
	}
}
