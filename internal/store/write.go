package store

import (
	"context"
	"fmt"
	"time"
)

// Outcome values of a journaled request.
const (
	OutcomeOK            = "ok"
	OutcomeBadRequest    = "bad_request"
	OutcomeInternalError = "internal_error"
)

// Session is one server run.
type Session struct {
	ID           string
	StartedAt    time.Time
	DocumentPath string
}

// Request is one journaled request line.
type Request struct {
	SessionID string
	Seq       int64
	Cycle     uint64
	Client    string
	Channel   string
	Request   string
	Outcome   string
	Reply     string
}

// Snapshot is the XML dump of the document at the end of a cycle.
type Snapshot struct {
	SessionID string
	Cycle     uint64
	Entities  int
	Hash      string
	XML       string
}

// WriteSession inserts a session record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) WriteSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, started_at, document_path)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, sess.ID, sess.StartedAt.UnixMilli(), sess.DocumentPath)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// WriteRequest appends a request to the journal.
// A second write with the same (session, seq) is silently ignored.
// The session must exist (foreign key constraint).
func (s *Store) WriteRequest(ctx context.Context, req Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests
		(session_id, seq, cycle, client_id, channel_id, request, outcome, reply)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`,
		req.SessionID,
		req.Seq,
		int64(req.Cycle),
		req.Client,
		req.Channel,
		req.Request,
		req.Outcome,
		req.Reply,
	)
	if err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// WriteSnapshot stores a document dump. The hash is computed when
// empty. A second snapshot of the same cycle is silently ignored.
func (s *Store) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	if snap.Hash == "" {
		snap.Hash = SnapshotHash(snap.XML)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, cycle, entities, hash, xml)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, cycle) DO NOTHING
	`, snap.SessionID, int64(snap.Cycle), snap.Entities, snap.Hash, snap.XML)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
