package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/pondoc/internal/document"
	"github.com/roach88/pondoc/internal/pon"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	Document string
	Entity   string
}

// EvalResult is the output of the eval command.
type EvalResult struct {
	Expression string `json:"expression"`
	Entity     uint64 `json:"entity"`
	Value      string `json:"value"`
	Type       string `json:"type"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <expression>",
		Short: "Evaluate a PON expression",
		Long: `Parse and evaluate a PON expression and print the result in PON.

With --doc, references in the expression resolve against that document,
relative to the entity selected by --entity (the root by default).

Exit codes:
  0 - Expression evaluated
  1 - Evaluation failed
  2 - Command error (parse error, unreadable document, unknown entity)

Example:
  pondoc eval "add [1, 2, 3]"
  pondoc eval --doc scene.xml --entity "root:[name=cam]" "@this.target"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Document, "doc", "", "document to resolve references against")
	cmd.Flags().StringVar(&opts.Entity, "entity", "root", "selector of the entity references are relative to")

	return cmd
}

func runEval(opts *EvalOptions, text string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	expr, err := pon.Parse(text)
	if err != nil {
		return f.Fail(CodeParse, WrapExitError(ExitCommandError, "failed to parse expression", err))
	}

	registry, err := newRegistry()
	if err != nil {
		return err
	}
	var doc *document.Document
	if opts.Document != "" {
		doc, _, err = loadDocument(registry, opts.Document)
		if err != nil {
			return err
		}
	} else {
		doc = document.New(registry, document.WithRoot("Root"))
	}

	from, anchorErr := evalAnchor(doc, opts.Entity)
	if anchorErr != nil {
		return f.Fail(CodeNotFound, anchorErr)
	}

	value, err := doc.Translate(expr, from)
	if err != nil {
		return f.Fail(CodeEval, WrapExitError(ExitFailure, "evaluation failed", err))
	}

	result := EvalResult{
		Expression: pon.Stringify(expr),
		Entity:     uint64(from),
		Value:      pon.Stringify(value),
		Type:       pon.TypeName(value),
	}
	return f.Emit(result, func(w io.Writer) { fmt.Fprintln(w, result.Value) })
}

// evalAnchor resolves the --entity selector from the root.
func evalAnchor(doc *document.Document, selector string) (pon.EntityID, *ExitError) {
	root, ok := doc.Root()
	if !ok {
		return pon.NoEntity, NewExitError(ExitCommandError, "document has no root element")
	}
	sel, err := pon.ParseSelector(selector)
	if err != nil {
		return pon.NoEntity, WrapExitError(ExitCommandError, "invalid --entity selector", err)
	}
	id, err := doc.FindFirst(sel, root)
	if err != nil {
		return pon.NoEntity, WrapExitError(ExitCommandError, "entity not found", err)
	}
	return id, nil
}
