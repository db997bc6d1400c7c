package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// DocsOptions holds flags for the docs command.
type DocsOptions struct {
	*RootOptions
	Output string
	List   bool
}

// NewDocsCommand creates the docs command.
func NewDocsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DocsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Print the function documentation",
		Long: `Print the documentation of every function callable from PON
expressions and requests, grouped by module, as JSON.

The same document is served at GET /docs by the HTTP side port.

Example:
  pondoc docs -o pondocs.json
  pondoc docs --list`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocs(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the JSON to this file instead of stdout")
	cmd.Flags().BoolVar(&opts.List, "list", false, "print one line per function instead of JSON")

	return cmd
}

func runDocs(opts *DocsOptions, cmd *cobra.Command) error {
	registry, err := newRegistry()
	if err != nil {
		return err
	}

	if opts.List {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, m := range registry.Docs() {
			for _, fn := range m.Functions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, fn.Name, fn.TargetTypeName, fn.Doc)
			}
		}
		return tw.Flush()
	}

	data, err := registry.GenerateJSONDocs()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to generate docs", err)
	}
	data = append(data, '\n')
	if opts.Output == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write docs", err)
	}
	opts.formatter(cmd).VerboseLog("wrote %s", opts.Output)
	return nil
}
