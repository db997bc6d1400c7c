package harness

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/pondoc/internal/document"
	"github.com/roach88/pondoc/internal/pon"
	"github.com/roach88/pondoc/internal/selection"
)

// AssertionError is returned when an assertion fails.
// It includes the lines the client received to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Lines    []string // Lines received by the client, if any
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Lines) > 0 {
		fmt.Fprintf(&buf, "\nReceived:\n")
		for i, line := range e.Lines {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the result trace
// and the final document. Returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, doc *document.Document) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a, doc); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion, doc *document.Document) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Received(a.Client), a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Received(a.Client), a)
	case AssertTraceCount:
		return assertTraceCount(result.Received(a.Client), a)
	case AssertProperty:
		return assertProperty(doc, a)
	case AssertEntityCount:
		return assertEntityCount(doc, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertTraceContains checks that the client received a line matching
// the pattern.
func assertTraceContains(lines []string, a Assertion) error {
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if re.MatchString(line) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s receives a line matching %q", a.Client, a.Pattern),
		Actual:   "not found",
		Lines:    lines,
	}
}

// assertTraceOrder checks that the patterns match received lines in
// order. Other lines may come in between.
func assertTraceOrder(lines []string, a Assertion) error {
	next := 0
	for _, p := range a.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return err
		}
		found := false
		for next < len(lines) {
			line := lines[next]
			next++
			if re.MatchString(line) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("%s receives lines matching %q in order", a.Client, a.Patterns),
				Actual:   fmt.Sprintf("no line matching %q after the previous match", p),
				Lines:    lines,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count received lines match.
func assertTraceCount(lines []string, a Assertion) error {
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return err
	}
	count := 0
	for _, line := range lines {
		if re.MatchString(line) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d lines matching %q", a.Count, a.Pattern),
			Actual:   fmt.Sprintf("%d lines", count),
			Lines:    lines,
		}
	}
	return nil
}

// assertProperty evaluates a property of the final document. Values
// are compared by their PON text.
func assertProperty(doc *document.Document, a Assertion) error {
	root, ok := doc.Root()
	if !ok {
		return &AssertionError{Type: AssertProperty, Expected: "a document root", Actual: "empty document"}
	}
	sel, err := pon.ParseSelector(a.Entity)
	if err != nil {
		return err
	}
	id, err := doc.FindFirst(sel, root)
	if err != nil {
		return &AssertionError{
			Type:     AssertProperty,
			Expected: fmt.Sprintf("entity %s", a.Entity),
			Actual:   err.Error(),
		}
	}

	got, err := doc.GetProperty(id, a.Key)
	if a.Error != "" {
		if err == nil {
			return &AssertionError{
				Type:     AssertProperty,
				Expected: fmt.Sprintf("%s.%s fails with %q", a.Entity, a.Key, a.Error),
				Actual:   pon.Stringify(got),
			}
		}
		if !strings.Contains(err.Error(), a.Error) {
			return &AssertionError{
				Type:     AssertProperty,
				Expected: fmt.Sprintf("%s.%s fails with %q", a.Entity, a.Key, a.Error),
				Actual:   err.Error(),
			}
		}
		return nil
	}
	if err != nil {
		return &AssertionError{
			Type:     AssertProperty,
			Expected: fmt.Sprintf("%s.%s = %s", a.Entity, a.Key, a.Value),
			Actual:   err.Error(),
		}
	}
	want := pon.Stringify(pon.MustParse(a.Value))
	if have := pon.Stringify(got); have != want {
		return &AssertionError{
			Type:     AssertProperty,
			Expected: fmt.Sprintf("%s.%s = %s", a.Entity, a.Key, want),
			Actual:   have,
		}
	}
	return nil
}

// assertEntityCount counts the entities the selector matches from the
// root.
func assertEntityCount(doc *document.Document, a Assertion) error {
	root, ok := doc.Root()
	if !ok {
		return &AssertionError{Type: AssertEntityCount, Expected: "a document root", Actual: "empty document"}
	}
	sel, err := pon.ParseSelector(a.Selector)
	if err != nil {
		return err
	}
	s := selection.New(sel, root)
	s.Init(doc)
	if s.Len() != a.Count {
		return &AssertionError{
			Type:     AssertEntityCount,
			Expected: fmt.Sprintf("%d entities matching %s", a.Count, a.Selector),
			Actual:   fmt.Sprintf("%d", s.Len()),
		}
	}
	return nil
}
