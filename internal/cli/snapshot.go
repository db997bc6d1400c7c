package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/pondoc/internal/store"
)

// SnapshotOptions holds flags for the snapshot command.
type SnapshotOptions struct {
	*RootOptions
	Database string
	Cycle    int64
	List     bool
}

// SnapshotInfo describes one stored snapshot.
type SnapshotInfo struct {
	Cycle    uint64 `json:"cycle"`
	Entities int    `json:"entities"`
	Hash     string `json:"hash"`
	XML      string `json:"xml,omitempty"`
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot <session>",
		Short: "Print a journaled document snapshot",
		Long: `Print the XML of a document snapshot stored in the journal.

Without --cycle the latest snapshot of the session is printed.
Use "latest" as the session id for the most recent session.

Exit codes:
  0 - Snapshot printed
  2 - Command error (database not found, unknown session or cycle)

Example:
  pondoc snapshot latest --db journal.db
  pondoc snapshot latest --db journal.db --list
  pondoc snapshot 0192d3c4-... --db journal.db --cycle 40 > doc.xml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().Int64Var(&opts.Cycle, "cycle", -1, "cycle of the snapshot (default: latest)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list the session's snapshots instead")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSnapshot(opts *SnapshotOptions, sessionID string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	st, err := openJournal(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	sess, err := resolveSession(ctx, st, sessionID)
	if err != nil {
		return err
	}

	if opts.List {
		snaps, err := st.ReadSnapshots(ctx, sess.ID)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read snapshots", err)
		}
		infos := make([]SnapshotInfo, 0, len(snaps))
		for _, s := range snaps {
			infos = append(infos, SnapshotInfo{Cycle: s.Cycle, Entities: s.Entities, Hash: s.Hash})
		}
		return f.Emit(infos, func(w io.Writer) {
			if len(infos) == 0 {
				fmt.Fprintln(w, "No snapshots.")
				return
			}
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CYCLE\tENTITIES\tHASH")
			for _, s := range infos {
				fmt.Fprintf(tw, "%d\t%d\t%s\n", s.Cycle, s.Entities, s.Hash)
			}
			tw.Flush()
		})
	}

	var snap store.Snapshot
	if opts.Cycle >= 0 {
		snap, err = st.ReadSnapshot(ctx, sess.ID, uint64(opts.Cycle))
	} else {
		snap, err = st.LatestSnapshot(ctx, sess.ID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		msg := fmt.Sprintf("no snapshot for session %s", sess.ID)
		if opts.Cycle >= 0 {
			msg = fmt.Sprintf("no snapshot of cycle %d for session %s", opts.Cycle, sess.ID)
		}
		return f.Fail(CodeNotFound, NewExitError(ExitCommandError, msg))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}

	info := SnapshotInfo{Cycle: snap.Cycle, Entities: snap.Entities, Hash: snap.Hash, XML: snap.XML}
	return f.Emit(info, func(w io.Writer) {
		f.VerboseLog("snapshot of cycle %d: %d entities, hash %s", snap.Cycle, snap.Entities, snap.Hash)
		fmt.Fprint(w, snap.XML)
	})
}
