package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SessionState summarizes a session's journal.
type SessionState struct {
	Session        Session
	Requests       int
	BadRequests    int
	Failures       int
	LastSeq        int64
	LastCycle      uint64
	Snapshots      int
	LatestHash     string
	LatestEntities int
}

// GetSessionState reads the counters of one session.
// Returns sql.ErrNoRows if the session does not exist.
func (s *Store) GetSessionState(ctx context.Context, sessionID string) (SessionState, error) {
	sess, err := s.ReadSession(ctx, sessionID)
	if err != nil {
		return SessionState{}, err
	}
	state := SessionState{Session: sess}

	var lastSeq, lastCycle sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(outcome = 'bad_request'), 0),
			COALESCE(SUM(outcome = 'internal_error'), 0),
			MAX(seq),
			MAX(cycle)
		FROM requests
		WHERE session_id = ?
	`, sessionID).Scan(&state.Requests, &state.BadRequests, &state.Failures, &lastSeq, &lastCycle)
	if err != nil {
		return state, fmt.Errorf("get session state: %w", err)
	}
	state.LastSeq = lastSeq.Int64
	state.LastCycle = uint64(lastCycle.Int64)

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE session_id = ?`, sessionID,
	).Scan(&state.Snapshots); err != nil {
		return state, fmt.Errorf("get session state: %w", err)
	}

	latest, err := s.LatestSnapshot(ctx, sessionID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return state, fmt.Errorf("get session state: %w", err)
	default:
		state.LatestHash = latest.Hash
		state.LatestEntities = latest.Entities
		if latest.Cycle > state.LastCycle {
			state.LastCycle = latest.Cycle
		}
	}
	return state, nil
}

// Replay hands the session's requests handled after cycle after to fn
// in seq order. A snapshot of cycle c already contains every request
// of cycles up to c. It stops at the first error.
func (s *Store) Replay(ctx context.Context, sessionID string, after uint64, fn func(Request) error) (int, error) {
	reqs, err := s.ReadRequests(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("replay: %w", err)
	}
	n := 0
	for _, r := range reqs {
		if r.Cycle <= after {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := fn(r); err != nil {
			return n, fmt.Errorf("replay seq %d: %w", r.Seq, err)
		}
		n++
	}
	return n, nil
}
