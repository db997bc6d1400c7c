package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pondoc/internal/engine"
	"github.com/roach88/pondoc/internal/store"
)

// JournalOptions holds flags shared by the journal subcommands.
type JournalOptions struct {
	*RootOptions
	Database string
}

// NewJournalCommand creates the journal command and its subcommands.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and replay session journals",
		Long: `Inspect the SQLite journal written by "pondoc serve --db".

A session is one server run. Wherever a session id is expected,
"latest" names the most recent one.`,
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newJournalSessionsCommand(opts))
	cmd.AddCommand(newJournalShowCommand(opts))
	cmd.AddCommand(newJournalReplayCommand(opts))
	return cmd
}

// SessionSummary is one row of "journal sessions".
type SessionSummary struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	Document    string    `json:"document"`
	Requests    int       `json:"requests"`
	BadRequests int       `json:"bad_requests"`
	Failures    int       `json:"failures"`
	LastCycle   uint64    `json:"last_cycle"`
	Snapshots   int       `json:"snapshots"`
}

func newJournalSessionsCommand(opts *JournalOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "sessions",
		Short:         "List journaled sessions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openJournal(opts.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			sessions, err := st.ReadSessions(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read sessions", err)
			}
			summaries := make([]SessionSummary, 0, len(sessions))
			for _, sess := range sessions {
				state, err := st.GetSessionState(ctx, sess.ID)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read session state", err)
				}
				summaries = append(summaries, SessionSummary{
					ID:          sess.ID,
					StartedAt:   sess.StartedAt,
					Document:    sess.DocumentPath,
					Requests:    state.Requests,
					BadRequests: state.BadRequests,
					Failures:    state.Failures,
					LastCycle:   state.LastCycle,
					Snapshots:   state.Snapshots,
				})
			}

			return opts.formatter(cmd).Emit(summaries, func(w io.Writer) {
				if len(summaries) == 0 {
					fmt.Fprintln(w, "No sessions.")
					return
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SESSION\tSTARTED\tREQUESTS\tERRORS\tCYCLE\tSNAPSHOTS\tDOCUMENT")
				for _, s := range summaries {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
						s.ID, s.StartedAt.Format(time.RFC3339), s.Requests, s.BadRequests+s.Failures,
						s.LastCycle, s.Snapshots, s.Document)
				}
				tw.Flush()
			})
		},
	}
}

func newJournalShowCommand(opts *JournalOptions) *cobra.Command {
	var cycle int64
	cmd := &cobra.Command{
		Use:   "show <session>",
		Short: "Print the requests of a session",
		Long: `Print the journaled requests of a session in order, one per line:

  <seq> <cycle> <client> <channel> <request> -> <reply>

Example:
  pondoc journal show latest --db journal.db
  pondoc journal show latest --db journal.db --cycle 12`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openJournal(opts.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			sess, err := resolveSession(ctx, st, args[0])
			if err != nil {
				return err
			}
			var reqs []store.Request
			if cycle >= 0 {
				reqs, err = st.ReadCycleRequests(ctx, sess.ID, uint64(cycle))
			} else {
				reqs, err = st.ReadRequests(ctx, sess.ID)
			}
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read requests", err)
			}

			return opts.formatter(cmd).Emit(reqs, func(w io.Writer) {
				for _, r := range reqs {
					fmt.Fprintf(w, "%d %d %s %s %s -> %s\n", r.Seq, r.Cycle, r.Client, r.Channel, r.Request, r.Reply)
				}
			})
		},
	}
	cmd.Flags().Int64Var(&cycle, "cycle", -1, "only the requests handled in this cycle")
	return cmd
}

// ReplayReport is the output of "journal replay".
type ReplayReport struct {
	Session           string   `json:"session"`
	From              uint64   `json:"from"`
	Requests          int      `json:"requests"`
	Cycles            int      `json:"cycles"`
	Verified          []uint64 `json:"verified"`
	Mismatches        []uint64 `json:"mismatches"`
	OutcomeMismatches []int64  `json:"outcome_mismatches"`
	Deterministic     bool     `json:"deterministic"`
}

func newJournalReplayCommand(opts *JournalOptions) *cobra.Command {
	var (
		from int64
		dump string
	)
	cmd := &cobra.Command{
		Use:   "replay <session>",
		Short: "Rebuild a session's document and verify its snapshots",
		Long: `Rebuild the document of a session from a snapshot by re-applying the
journaled requests cycle by cycle, comparing every later snapshot and
every request outcome with the journal.

Exit codes:
  0 - Replay reproduced the journal
  1 - A snapshot or an outcome differed
  2 - Command error (database not found, unknown session, no snapshot)

Example:
  pondoc journal replay latest --db journal.db
  pondoc journal replay latest --db journal.db --dump replayed.xml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := opts.formatter(cmd)
			st, err := openJournal(opts.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			sess, err := resolveSession(ctx, st, args[0])
			if err != nil {
				return err
			}
			registry, err := newRegistry()
			if err != nil {
				return err
			}

			doc, res, err := engine.Replay(ctx, st, sess.ID, registry, from)
			if err != nil {
				return f.Fail(CodeReplay, WrapExitError(ExitCommandError, "replay failed", err))
			}
			if dump != "" {
				if err := dumpTo(doc, dump); err != nil {
					return WrapExitError(ExitCommandError, "failed to write dump", err)
				}
			}

			report := ReplayReport{
				Session:           sess.ID,
				From:              res.From,
				Requests:          res.Requests,
				Cycles:            res.Cycles,
				Verified:          nonNil(res.Verified),
				Mismatches:        nonNil(res.Mismatches),
				OutcomeMismatches: nonNil(res.OutcomeMismatches),
				Deterministic:     res.OK(),
			}
			if err := f.Emit(report, func(w io.Writer) { writeReplayText(w, report) }); err != nil {
				return err
			}
			if !report.Deterministic {
				return NewExitError(ExitFailure, "replay diverged from the journal")
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&from, "from", -1, "cycle of the snapshot to start from (default: the first)")
	cmd.Flags().StringVar(&dump, "dump", "", "write the replayed document to this file")
	return cmd
}

func writeReplayText(w io.Writer, r ReplayReport) {
	mark := "✓"
	if !r.Deterministic {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s session %s: replayed %d request(s) in %d cycle(s) from cycle %d\n",
		mark, r.Session, r.Requests, r.Cycles, r.From)
	fmt.Fprintf(w, "  snapshots verified: %d\n", len(r.Verified))
	for _, c := range r.Mismatches {
		fmt.Fprintf(w, "  snapshot of cycle %d differs\n", c)
	}
	for _, seq := range r.OutcomeMismatches {
		fmt.Fprintf(w, "  outcome of request %d differs\n", seq)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
