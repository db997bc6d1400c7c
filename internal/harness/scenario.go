package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pondoc/internal/pon"
)

// DefaultDTime is the dtime reported to frame streams when a scenario
// does not set one.
const DefaultDTime = 0.5

// Scenario is a scripted session against one document.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Document is the XML text loaded before the first step.
	Document string `yaml:"document,omitempty"`

	// DocumentFile is a path to the XML document, relative to the
	// scenario file. Exactly one of Document and DocumentFile is set.
	DocumentFile string `yaml:"document_file,omitempty"`

	// Clients are connected in order before the first step.
	Clients []string `yaml:"clients"`

	// DTime is the dtime of every step. Defaults to DefaultDTime.
	DTime float64 `yaml:"dtime,omitempty"`

	// MaxRequestsPerCycle caps the lines handled per client and cycle.
	// Zero means unlimited.
	MaxRequestsPerCycle int `yaml:"max_requests_per_cycle,omitempty"`

	// Steps each close exactly one cycle.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final document.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is the input of one cycle and what each client should receive.
type Step struct {
	// Send queues request lines in order.
	Send []Message `yaml:"send,omitempty"`

	// Disconnect drops clients after the lines are queued.
	Disconnect []string `yaml:"disconnect,omitempty"`

	// Reload replaces the document content, keeping the root.
	Reload string `yaml:"reload,omitempty"`

	// Expect maps a client to the exact lines it receives this cycle.
	// Clients not listed are not checked.
	Expect map[string][]string `yaml:"expect,omitempty"`
}

// Message is one request line sent by a client.
type Message struct {
	Client string `yaml:"client"`
	Line   string `yaml:"line"`
}

// Assertion validates the trace or the final document.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Client whose received lines are checked (trace assertions).
	Client string `yaml:"client,omitempty"`

	// Pattern is a regular expression matched against received lines.
	Pattern string `yaml:"pattern,omitempty"`

	// Patterns must match received lines in this order (trace_order).
	Patterns []string `yaml:"patterns,omitempty"`

	// Count is the expected number of matches (trace_count, entity_count).
	Count int `yaml:"count,omitempty"`

	// Entity selects the entity of a property assertion.
	Entity string `yaml:"entity,omitempty"`

	// Key is the property key of a property assertion.
	Key string `yaml:"key,omitempty"`

	// Value is the expected value in PON text, e.g. "2" or "'a'".
	Value string `yaml:"value,omitempty"`

	// Error is a substring of the expected evaluation error.
	Error string `yaml:"error,omitempty"`

	// Selector is matched from the root (entity_count).
	Selector string `yaml:"selector,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertProperty      = "property"
	AssertEntityCount   = "entity_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or is invalid.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.DocumentFile != "" {
		docPath := scenario.DocumentFile
		if !filepath.IsAbs(docPath) {
			docPath = filepath.Join(filepath.Dir(path), docPath)
		}
		text, err := os.ReadFile(docPath)
		if err != nil {
			return nil, fmt.Errorf("invalid scenario: document file: %w", err)
		}
		scenario.Document = string(text)
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML.
// A document_file reference is left unresolved.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if (s.Document == "") == (s.DocumentFile == "") {
		return fmt.Errorf("exactly one of document and document_file is required")
	}
	if len(s.Clients) == 0 {
		return fmt.Errorf("clients list is required and must be non-empty")
	}
	for i, c := range s.Clients {
		if c == "" {
			return fmt.Errorf("clients[%d]: empty client id", i)
		}
		if slices.Index(s.Clients, c) != i {
			return fmt.Errorf("clients[%d]: duplicate client id %q", i, c)
		}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.DTime < 0 {
		return fmt.Errorf("dtime must be non-negative")
	}
	if s.MaxRequestsPerCycle < 0 {
		return fmt.Errorf("max_requests_per_cycle must be non-negative")
	}

	known := func(c string) bool { return slices.Contains(s.Clients, c) }
	for i, step := range s.Steps {
		for j, m := range step.Send {
			if !known(m.Client) {
				return fmt.Errorf("steps[%d].send[%d]: unknown client %q", i, j, m.Client)
			}
			if m.Line == "" {
				return fmt.Errorf("steps[%d].send[%d]: line is required", i, j)
			}
		}
		for _, c := range step.Disconnect {
			if !known(c) {
				return fmt.Errorf("steps[%d].disconnect: unknown client %q", i, c)
			}
		}
		for c := range step.Expect {
			if !known(c) {
				return fmt.Errorf("steps[%d].expect: unknown client %q", i, c)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, known); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, known func(string) bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains, AssertTraceCount:
		if !known(a.Client) {
			return fmt.Errorf("assertions[%d]: unknown client %q for %s", index, a.Client, a.Type)
		}
		if err := validPattern(index, a.Pattern); err != nil {
			return err
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if !known(a.Client) {
			return fmt.Errorf("assertions[%d]: unknown client %q for trace_order", index, a.Client)
		}
		if len(a.Patterns) == 0 {
			return fmt.Errorf("assertions[%d]: patterns list is required for trace_order", index)
		}
		for _, p := range a.Patterns {
			if err := validPattern(index, p); err != nil {
				return err
			}
		}
	case AssertProperty:
		if _, err := pon.ParseSelector(a.Entity); err != nil {
			return fmt.Errorf("assertions[%d]: entity: %w", index, err)
		}
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for property", index)
		}
		if (a.Value == "") == (a.Error == "") {
			return fmt.Errorf("assertions[%d]: exactly one of value and error is required for property", index)
		}
		if a.Value != "" {
			if _, err := pon.Parse(a.Value); err != nil {
				return fmt.Errorf("assertions[%d]: value: %w", index, err)
			}
		}
	case AssertEntityCount:
		if _, err := pon.ParseSelector(a.Selector); err != nil {
			return fmt.Errorf("assertions[%d]: selector: %w", index, err)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for entity_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func validPattern(index int, pattern string) error {
	if pattern == "" {
		return fmt.Errorf("assertions[%d]: pattern is required", index)
	}
	if _, err := regexp.Compile(pattern); err != nil {
		return fmt.Errorf("assertions[%d]: invalid pattern: %w", index, err)
	}
	return nil
}
