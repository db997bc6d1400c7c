package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/pondoc/internal/document"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
}

// PropertyProblem is a property that failed to evaluate.
type PropertyProblem struct {
	Entity   uint64 `json:"entity"`
	TypeName string `json:"type_name"`
	Key      string `json:"key"`
	Error    string `json:"error"`
}

// CheckResult summarizes a document check.
type CheckResult struct {
	Path       string            `json:"path"`
	Entities   int               `json:"entities"`
	Properties int               `json:"properties"`
	Warnings   []string          `json:"warnings"`
	Problems   []PropertyProblem `json:"problems"`
}

// OK reports whether the document loaded cleanly and every property
// evaluates.
func (r *CheckResult) OK() bool {
	return len(r.Warnings) == 0 && len(r.Problems) == 0
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <document.xml>",
		Short: "Load a document and evaluate every property",
		Long: `Load a document, report its load warnings, then evaluate every
property of every entity and report the ones that fail (unresolved
references, cycles, type errors).

Exit codes:
  0 - Document is clean
  1 - Warnings or failing properties
  2 - Command error (unreadable file, etc.)

Example:
  pondoc check scene.xml
  pondoc check scene.xml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}
	return cmd
}

func runCheck(opts *CheckOptions, path string, cmd *cobra.Command) error {
	registry, err := newRegistry()
	if err != nil {
		return err
	}
	doc, warnings, err := loadDocument(registry, path)
	if err != nil {
		return err
	}

	result := checkDocument(doc, warnings)
	result.Path = path

	f := opts.formatter(cmd)
	if err := f.Emit(result, func(w io.Writer) { writeCheckText(w, result) }); err != nil {
		return err
	}
	if !result.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: %d warning(s), %d failing propert(ies)",
			path, len(result.Warnings), len(result.Problems)))
	}
	return nil
}

// checkDocument evaluates every property of doc in pre-order.
func checkDocument(doc *document.Document, warnings []document.Warning) *CheckResult {
	result := &CheckResult{
		Entities: doc.Len(),
		Warnings: []string{},
		Problems: []PropertyProblem{},
	}
	for _, w := range warnings {
		result.Warnings = append(result.Warnings, w.String())
	}
	for _, id := range doc.EntityIDs() {
		for _, key := range doc.PropertyKeys(id) {
			result.Properties++
			if _, err := doc.GetProperty(id, key); err != nil {
				result.Problems = append(result.Problems, PropertyProblem{
					Entity:   uint64(id),
					TypeName: doc.EntityTypeName(id),
					Key:      key,
					Error:    err.Error(),
				})
			}
		}
	}
	return result
}

func writeCheckText(w io.Writer, r *CheckResult) {
	mark := "✓"
	if !r.OK() {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s: %d entities, %d properties\n", mark, r.Path, r.Entities, r.Properties)
	for _, warning := range r.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	for _, p := range r.Problems {
		fmt.Fprintf(w, "  %s #%d.%s: %s\n", p.TypeName, p.Entity, p.Key, p.Error)
	}
}
