package engine

// # Replay
//
// A journaled session can be rebuilt from its store:
//
//	[snapshot c] → load XML → [requests with cycle > c, in seq order]
//	                                  ↓
//	                    group by cycle, dispatch, CloseCycle
//	                                  ↓
//	                  compare with the snapshot of that cycle, if any
//
// Replay goes through the same dispatcher as live traffic, so a request
// that was rejected live is rejected again. Entity ids are assigned in
// document order on load, so #id selectors only replay faithfully from
// the baseline snapshot written when the session began. Reloads of the
// document file are not journaled; a session that reloaded diverges
// from its later snapshots.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/pondoc/internal/channel"
	"github.com/roach88/pondoc/internal/document"
	"github.com/roach88/pondoc/internal/eval"
	"github.com/roach88/pondoc/internal/store"
	"github.com/roach88/pondoc/internal/stream"
)

// ReplayResult summarizes a replay.
type ReplayResult struct {
	// From is the cycle of the snapshot replay started from.
	From uint64

	// Requests counts replayed requests.
	Requests int

	// Cycles counts replayed cycles that had requests.
	Cycles int

	// OutcomeMismatches lists seqs whose replayed outcome differs from
	// the journaled one.
	OutcomeMismatches []int64

	// Verified lists cycles whose snapshot hash matched.
	Verified []uint64

	// Mismatches lists cycles whose snapshot hash differed.
	Mismatches []uint64

	// LastSeq is the highest replayed seq, for resuming the clock.
	LastSeq int64
}

// OK reports whether replay reproduced the journal.
func (r *ReplayResult) OK() bool {
	return len(r.OutcomeMismatches) == 0 && len(r.Mismatches) == 0
}

// Replay rebuilds the document of a session, starting from the
// snapshot of cycle from, or from the first snapshot when from is
// negative.
func Replay(ctx context.Context, s *store.Store, sessionID string, registry *eval.Registry, from int64) (*document.Document, *ReplayResult, error) {
	var (
		base store.Snapshot
		err  error
	)
	if from < 0 {
		base, err = s.FirstSnapshot(ctx, sessionID)
	} else {
		base, err = s.ReadSnapshot(ctx, sessionID, uint64(from))
	}
	if err != nil {
		return nil, nil, &RuntimeError{Code: ErrCodeReplay, Message: "read base snapshot", Err: err}
	}

	if _, ok := registry.Function("set_properties"); !ok {
		if err := channel.RegisterRequests(registry); err != nil {
			return nil, nil, fmt.Errorf("register requests: %w", err)
		}
	}
	doc, warnings, err := document.LoadString(registry, base.XML)
	if err != nil {
		return nil, nil, &RuntimeError{Code: ErrCodeReplay, Message: "load base snapshot", Cycle: base.Cycle, Err: err}
	}
	if len(warnings) > 0 {
		slog.Warn("base snapshot loaded with warnings", "session", sessionID, "count", len(warnings))
	}
	doc.CloseCycle()

	snaps, err := s.ReadSnapshots(ctx, sessionID)
	if err != nil {
		return nil, nil, &RuntimeError{Code: ErrCodeReplay, Message: "read snapshots", Err: err}
	}
	hashes := make(map[uint64]string, len(snaps))
	for _, snap := range snaps {
		hashes[snap.Cycle] = snap.Hash
	}

	streams := stream.NewRegistry()
	dispatch := channel.NewDispatcher(registry, channel.DocumentHandler(doc), streams.Handler(doc))
	result := &ReplayResult{From: base.Cycle}

	current := base.Cycle
	open := false
	closeCycle := func() {
		doc.CloseCycle()
		result.Cycles++
		open = false
		want, ok := hashes[current]
		if !ok {
			return
		}
		got, err := doc.XML()
		if err == nil && store.SnapshotHash(got) == want {
			result.Verified = append(result.Verified, current)
			return
		}
		result.Mismatches = append(result.Mismatches, current)
		slog.Warn("replayed document differs from snapshot", "session", sessionID, "cycle", current)
	}

	_, err = s.Replay(ctx, sessionID, base.Cycle, func(r store.Request) error {
		if open && r.Cycle != current {
			closeCycle()
		}
		current = r.Cycle
		open = true

		line := r.Channel + " " + r.Request
		replies := dispatch.HandleLine(channel.ClientID(r.Client), line)
		outcome := store.OutcomeOK
		if n := len(replies); n > 0 && replies[n-1].Err != nil {
			outcome = string(replies[n-1].Err.Type)
		}
		if outcome != r.Outcome {
			result.OutcomeMismatches = append(result.OutcomeMismatches, r.Seq)
			slog.Warn("replayed outcome differs",
				"session", sessionID,
				"seq", r.Seq,
				"journaled", r.Outcome,
				"replayed", outcome,
				"request", strings.TrimSpace(r.Request))
		}
		result.Requests++
		result.LastSeq = r.Seq
		return nil
	})
	if err != nil {
		return nil, nil, &RuntimeError{Code: ErrCodeReplay, Message: "replay requests", Cycle: current, Err: err}
	}
	if open {
		closeCycle()
	}
	return doc, result, nil
}
