package pon

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParseError reports a grammar error with its position in the input.
type ParseError struct {
	Offset  int // Byte offset into the input
	Line    int // 1-based
	Column  int // 1-based, in runes
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %d:%d: %s", e.Line, e.Column, e.Message)
}

// Parse reads a single value from text. Surrounding whitespace and
// "//" line comments are ignored.
func Parse(text string) (Value, error) {
	p := &parser{src: text}
	p.skipSpace()
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected %q after value", p.peekRune())
	}
	return v, nil
}

// MustParse is Parse for literals known to be valid. It panics on error.
func MustParse(text string) Value {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseSelector reads a selector, e.g. "root:[x=5]/Mesh".
func ParseSelector(text string) (Selector, error) {
	v, err := Parse(text)
	if err != nil {
		return Selector{}, err
	}
	sel, ok := v.(Selector)
	if !ok {
		return Selector{}, &ParseError{Line: 1, Column: 1, Message: fmt.Sprintf("expected selector, found %s", TypeName(v))}
	}
	return sel, nil
}

// MustParseSelector is ParseSelector for literals known to be valid.
func MustParseSelector(text string) Selector {
	s, err := ParseSelector(text)
	if err != nil {
		panic(err)
	}
	return s
}

func isReserved(word string) bool {
	switch word {
	case "true", "false", "this", "root", "parent", "inf", "nan":
		return true
	}
	return false
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

type parser struct {
	src string
	pos int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) peekRune() rune {
	if p.eof() {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeRuneInString(p.src[p.pos:])
	return r
}

func (p *parser) hasPrefix(s string) bool {
	return strings.HasPrefix(p.src[p.pos:], s)
}

func (p *parser) errorf(format string, args ...any) *ParseError {
	line, col := 1, 1
	for _, r := range p.src[:min(p.pos, len(p.src))] {
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return &ParseError{Offset: p.pos, Line: line, Column: col, Message: fmt.Sprintf(format, args...)}
}

// skipSpace skips whitespace and "//" comments.
func (p *parser) skipSpace() {
	for !p.eof() {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		switch {
		case unicode.IsSpace(r):
			p.pos += size
		case p.hasPrefix("//"):
			for !p.eof() && p.src[p.pos] != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func (p *parser) expect(c byte) error {
	if p.peek() != c {
		if p.eof() {
			return p.errorf("expected %q, found end of input", c)
		}
		return p.errorf("expected %q, found %q", c, p.peekRune())
	}
	p.pos++
	return nil
}

func (p *parser) ident() (string, bool) {
	start := p.pos
	for !p.eof() {
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		if p.pos == start {
			if !isIdentStart(r) {
				break
			}
		} else if !isIdentPart(r) {
			break
		}
		p.pos += size
	}
	return p.src[start:p.pos], p.pos > start
}

// startsValue reports whether the next character can begin a value.
// Used to tell "name arg" calls from bare-word selectors.
func (p *parser) startsValue() bool {
	if p.eof() {
		return false
	}
	switch c := p.peek(); c {
	case '{', '[', '(', '\'', '@', '#', '-':
		return true
	default:
		if c >= '0' && c <= '9' {
			return true
		}
		return isIdentStart(p.peekRune())
	}
}

func (p *parser) value() (Value, error) {
	if p.eof() {
		return nil, p.errorf("unexpected end of input")
	}
	switch c := p.peek(); {
	case c == '(':
		p.pos++
		p.skipSpace()
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		return Nil{}, nil
	case c == '[':
		return p.array()
	case c == '{':
		return p.object()
	case c == '\'':
		s, err := p.quoted()
		if err != nil {
			return nil, err
		}
		return String(s), nil
	case c == '@':
		p.pos++
		sel, err := p.selector()
		if err != nil {
			return nil, err
		}
		ref, err := p.refKey(sel)
		if err != nil {
			return nil, err
		}
		return DepReference{Ref: ref}, nil
	case c == '#':
		sel, err := p.selector()
		if err != nil {
			return nil, err
		}
		return p.maybeReference(sel)
	case c == '-' || (c >= '0' && c <= '9'):
		return p.number()
	case isIdentStart(p.peekRune()):
		return p.word()
	default:
		return nil, p.errorf("unexpected %q", p.peekRune())
	}
}

// word handles everything that starts with an identifier: booleans,
// selectors, references and function calls.
func (p *parser) word() (Value, error) {
	start := p.pos
	w, _ := p.ident()
	switch w {
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	case "inf":
		return Number(math.Inf(1)), nil
	case "nan":
		return Number(math.NaN()), nil
	case "this", "root", "parent":
		p.pos = start
		sel, err := p.selector()
		if err != nil {
			return nil, err
		}
		return p.maybeReference(sel)
	}

	switch p.peek() {
	case ':', '/', '|', '.':
		p.pos = start
		sel, err := p.selector()
		if err != nil {
			return nil, err
		}
		return p.maybeReference(sel)
	}

	afterWord := p.pos
	p.skipSpace()
	if p.startsValue() {
		arg, err := p.value()
		if err != nil {
			return nil, err
		}
		return Call{Name: w, Arg: arg}, nil
	}
	p.pos = afterWord
	return RootSearchSelector(w), nil
}

func (p *parser) maybeReference(sel Selector) (Value, error) {
	if p.peek() != '.' {
		return sel, nil
	}
	ref, err := p.refKey(sel)
	if err != nil {
		return nil, err
	}
	return Reference{Ref: ref}, nil
}

func (p *parser) refKey(sel Selector) (NamedPropRef, error) {
	if err := p.expect('.'); err != nil {
		return NamedPropRef{}, err
	}
	key, err := p.key()
	if err != nil {
		return NamedPropRef{}, err
	}
	return NamedPropRef{Selector: sel, Key: key}, nil
}

// key reads an identifier or a quoted string.
func (p *parser) key() (string, error) {
	if p.peek() == '\'' {
		return p.quoted()
	}
	k, ok := p.ident()
	if !ok {
		return "", p.errorf("expected key")
	}
	return k, nil
}

func (p *parser) number() (Value, error) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
		if p.hasPrefix("inf") {
			end := p.pos + len("inf")
			if r, _ := utf8.DecodeRuneInString(p.src[end:]); end == len(p.src) || !isIdentPart(r) {
				p.pos = end
				return Number(math.Inf(-1)), nil
			}
		}
	}
	digits := func() int {
		n := 0
		for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
			p.pos++
			n++
		}
		return n
	}
	if digits() == 0 {
		return nil, p.errorf("expected digits")
	}
	if p.peek() == '.' && p.pos+1 < len(p.src) && p.src[p.pos+1] >= '0' && p.src[p.pos+1] <= '9' {
		p.pos++
		digits()
	}
	if c := p.peek(); c == 'e' || c == 'E' {
		save := p.pos
		p.pos++
		if c := p.peek(); c == '+' || c == '-' {
			p.pos++
		}
		if digits() == 0 {
			p.pos = save
		}
	}
	n, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return nil, p.errorf("invalid number %q", p.src[start:p.pos])
	}
	return Number(n), nil
}

func (p *parser) quoted() (string, error) {
	if err := p.expect('\''); err != nil {
		return "", err
	}
	var b strings.Builder
	for {
		if p.eof() {
			return "", p.errorf("unterminated string")
		}
		c := p.src[p.pos]
		switch c {
		case '\'':
			p.pos++
			return b.String(), nil
		case '\\':
			if p.pos+1 >= len(p.src) {
				return "", p.errorf("unterminated escape")
			}
			switch e := p.src[p.pos+1]; e {
			case '\'', '\\':
				b.WriteByte(e)
				p.pos += 2
			default:
				p.pos++
				return "", p.errorf("invalid escape \\%c", e)
			}
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
}

func (p *parser) array() (Value, error) {
	if err := p.expect('['); err != nil {
		return nil, err
	}
	arr := Array{}
	for {
		p.skipSpace()
		if p.peek() == ']' {
			p.pos++
			return arr, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
		default:
			if p.eof() {
				return nil, p.errorf("unterminated array")
			}
			return nil, p.errorf("expected ',' or ']' in array, found %q", p.peekRune())
		}
	}
}

func (p *parser) object() (Value, error) {
	if err := p.expect('{'); err != nil {
		return nil, err
	}
	obj := Object{}
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return obj, nil
		}
		k, err := p.key()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect(':'); err != nil {
			return nil, err
		}
		p.skipSpace()
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		obj[k] = v
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
		default:
			if p.eof() {
				return nil, p.errorf("unterminated object")
			}
			return nil, p.errorf("expected ',' or '}' in object, found %q", p.peekRune())
		}
	}
}

// selector reads an anchor followed by any number of path steps.
// Whitespace is not allowed inside a selector.
func (p *parser) selector() (Selector, error) {
	var sel Selector
	switch {
	case p.peek() == '#':
		p.pos++
		start := p.pos
		for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
			p.pos++
		}
		id, err := strconv.ParseUint(p.src[start:p.pos], 10, 64)
		if err != nil {
			return Selector{}, p.errorf("invalid entity id")
		}
		sel = IDSelector(EntityID(id))
	default:
		w, ok := p.ident()
		if !ok {
			return Selector{}, p.errorf("expected selector")
		}
		switch w {
		case "this":
			sel = ThisSelector()
		case "root":
			sel = RootSelector()
		case "parent":
			sel = ThisParentSelector()
		default:
			sel = RootSearchSelector(w)
		}
	}

	for {
		switch {
		case p.hasPrefix("|parent|"):
			p.pos += len("|parent|")
			sel.Path = append(sel.Path, PathStep{Kind: StepParent})
		case p.hasPrefix("|prev-sibling|"):
			p.pos += len("|prev-sibling|")
			sel.Path = append(sel.Path, PathStep{Kind: StepPrevSibling})
		case p.hasPrefix("|next-sibling|"):
			p.pos += len("|next-sibling|")
			sel.Path = append(sel.Path, PathStep{Kind: StepNextSibling})
		case p.peek() == '|':
			return Selector{}, p.errorf("unknown selector step")
		case p.peek() == '/':
			p.pos++
			m, err := p.match()
			if err != nil {
				return Selector{}, err
			}
			sel.Path = append(sel.Path, PathStep{Kind: StepChildren, Match: m})
		case p.hasPrefix(":!"):
			p.pos += 2
			m, err := p.match()
			if err != nil {
				return Selector{}, err
			}
			sel.Path = append(sel.Path, PathStep{Kind: StepSearchInverse, Match: m})
		case p.peek() == ':':
			p.pos++
			m, err := p.match()
			if err != nil {
				return Selector{}, err
			}
			sel.Path = append(sel.Path, PathStep{Kind: StepSearch, Match: m})
		default:
			return sel, nil
		}
	}
}

func (p *parser) match() (EntityMatch, error) {
	switch {
	case p.peek() == '*':
		p.pos++
		return MatchAny{}, nil
	case p.peek() == '[':
		p.pos++
		p.skipSpace()
		if p.peek() == '[' {
			return p.compoundMatch()
		}
		k, err := p.key()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.peek() == ']' {
			p.pos++
			return MatchPropertyExists{Key: k}, nil
		}
		negate := false
		if p.hasPrefix("!=") {
			negate = true
			p.pos += 2
		} else if err := p.expect('='); err != nil {
			return nil, err
		}
		p.skipSpace()
		v, err := p.matchValue()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if err := p.expect(']'); err != nil {
			return nil, err
		}
		return NewPropertyMatch(k, v, negate), nil
	case isIdentStart(p.peekRune()):
		w, _ := p.ident()
		return MatchTypeName{Name: w}, nil
	default:
		return nil, p.errorf("expected entity match")
	}
}

// compoundMatch reads "[a] && [b]]" or "[a] || [b]]"; the opening
// bracket has been consumed.
func (p *parser) compoundMatch() (EntityMatch, error) {
	left, err := p.match()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	var and bool
	switch {
	case p.hasPrefix("&&"):
		and = true
	case p.hasPrefix("||"):
	default:
		return nil, p.errorf("expected '&&' or '||'")
	}
	p.pos += 2
	p.skipSpace()
	right, err := p.match()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if err := p.expect(']'); err != nil {
		return nil, err
	}
	if and {
		return MatchAnd{Left: left, Right: right}, nil
	}
	return MatchOr{Left: left, Right: right}, nil
}

// matchValue reads the right-hand side of "[k=v]". A bare word is a
// string, so "[name=car]" compares against 'car'.
func (p *parser) matchValue() (Value, error) {
	if isIdentStart(p.peekRune()) {
		w, _ := p.ident()
		switch w {
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		case "inf":
			return Number(math.Inf(1)), nil
		case "nan":
			return Number(math.NaN()), nil
		}
		return String(w), nil
	}
	return p.value()
}
