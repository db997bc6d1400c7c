package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a new on-disk store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession writes a session with a fixed start time.
func createTestSession(t *testing.T, s *Store, id string, startedMillis int64) Session {
	t.Helper()
	sess := Session{ID: id, StartedAt: time.UnixMilli(startedMillis).UTC(), DocumentPath: "doc.xml"}
	if err := s.WriteSession(context.Background(), sess); err != nil {
		t.Fatalf("WriteSession() failed: %v", err)
	}
	return sess
}

// createTestRequest creates a request record with minimal required fields.
func createTestRequest(sessionID string, seq int64, cycle uint64, outcome string) Request {
	return Request{
		SessionID: sessionID,
		Seq:       seq,
		Cycle:     cycle,
		Client:    "client-1",
		Channel:   "1",
		Request:   "set_properties { entity: root, properties: { x: 5 } }",
		Outcome:   outcome,
		Reply:     "1 ok ()",
	}
}
