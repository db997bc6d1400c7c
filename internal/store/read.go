package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReadSessions returns every session, oldest first.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ReadSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, document_path
		FROM sessions
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadSession retrieves a single session by ID.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, document_path
		FROM sessions
		WHERE id = ?
	`, id)
	return scanSession(row)
}

// LatestSession returns the most recently started session.
// Returns sql.ErrNoRows when the store is empty.
func (s *Store) LatestSession(ctx context.Context) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, document_path
		FROM sessions
		ORDER BY started_at DESC, id COLLATE BINARY DESC
		LIMIT 1
	`)
	return scanSession(row)
}

// ReadRequests returns the journal of a session ordered by seq.
func (s *Store) ReadRequests(ctx context.Context, sessionID string) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, cycle, client_id, channel_id, request, outcome, reply
		FROM requests
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	return collectRequests(rows)
}

// ReadCycleRequests returns the requests handled during one cycle.
func (s *Store) ReadCycleRequests(ctx context.Context, sessionID string, cycle uint64) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, cycle, client_id, channel_id, request, outcome, reply
		FROM requests
		WHERE session_id = ? AND cycle = ?
		ORDER BY seq ASC
	`, sessionID, int64(cycle))
	if err != nil {
		return nil, fmt.Errorf("query cycle requests: %w", err)
	}
	return collectRequests(rows)
}

func collectRequests(rows *sql.Rows) ([]Request, error) {
	defer rows.Close()
	reqs := []Request{}
	for rows.Next() {
		var r Request
		var cycle int64
		if err := rows.Scan(&r.SessionID, &r.Seq, &cycle, &r.Client, &r.Channel, &r.Request, &r.Outcome, &r.Reply); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		r.Cycle = uint64(cycle)
		reqs = append(reqs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return reqs, nil
}

// ReadSnapshots returns the snapshots of a session ordered by cycle.
// The XML text is left empty; use ReadSnapshot to load it.
func (s *Store) ReadSnapshots(ctx context.Context, sessionID string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, cycle, entities, hash
		FROM snapshots
		WHERE session_id = ?
		ORDER BY cycle ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []Snapshot{}
	for rows.Next() {
		var snap Snapshot
		var cycle int64
		if err := rows.Scan(&snap.SessionID, &cycle, &snap.Entities, &snap.Hash); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.Cycle = uint64(cycle)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

// ReadSnapshot loads one snapshot including its XML.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadSnapshot(ctx context.Context, sessionID string, cycle uint64) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, cycle, entities, hash, xml
		FROM snapshots
		WHERE session_id = ? AND cycle = ?
	`, sessionID, int64(cycle))
	return scanSnapshot(row)
}

// LatestSnapshot loads the snapshot with the highest cycle.
// Returns sql.ErrNoRows if the session has none.
func (s *Store) LatestSnapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, cycle, entities, hash, xml
		FROM snapshots
		WHERE session_id = ?
		ORDER BY cycle DESC
		LIMIT 1
	`, sessionID)
	return scanSnapshot(row)
}

// FirstSnapshot loads the snapshot with the lowest cycle.
// Returns sql.ErrNoRows if the session has none.
func (s *Store) FirstSnapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, cycle, entities, hash, xml
		FROM snapshots
		WHERE session_id = ?
		ORDER BY cycle ASC
		LIMIT 1
	`, sessionID)
	return scanSnapshot(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var started int64
	if err := row.Scan(&sess.ID, &started, &sess.DocumentPath); err != nil {
		return Session{}, err
	}
	sess.StartedAt = time.UnixMilli(started).UTC()
	return sess, nil
}

func scanSnapshot(row scanner) (Snapshot, error) {
	var snap Snapshot
	var cycle int64
	if err := row.Scan(&snap.SessionID, &cycle, &snap.Entities, &snap.Hash, &snap.XML); err != nil {
		return Snapshot{}, err
	}
	snap.Cycle = uint64(cycle)
	return snap, nil
}
