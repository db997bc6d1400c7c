package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Output string
	Strict bool
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump <document.xml>",
		Short: "Load a document and print its canonical XML",
		Long: `Load a document and print it the way the server dumps it: indented,
"name" first, other properties sorted by key, expressions in their
canonical PON form.

Load warnings are printed to stderr.

Exit codes:
  0 - Document dumped
  1 - --strict and the document had warnings
  2 - Command error (unreadable file, etc.)

Example:
  pondoc dump scene.xml
  pondoc dump scene.xml -o scene.canonical.xml --strict`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the dump to this file instead of stdout")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail when the document has load warnings")

	return cmd
}

func runDump(opts *DumpOptions, path string, cmd *cobra.Command) error {
	registry, err := newRegistry()
	if err != nil {
		return err
	}
	doc, warnings, err := loadDocument(registry, path)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}

	if opts.Output != "" {
		if err := dumpTo(doc, opts.Output); err != nil {
			return WrapExitError(ExitCommandError, "failed to write dump", err)
		}
	} else {
		if err := doc.WriteXML(cmd.OutOrStdout()); err != nil {
			return WrapExitError(ExitFailure, "failed to dump document", err)
		}
	}

	if opts.Strict && len(warnings) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d load warning(s)", len(warnings)))
	}
	return nil
}
