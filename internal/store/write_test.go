package store

import (
	"context"
	"testing"
)

func TestWriteSession_Basic(t *testing.T) {
	s := createTestStore(t)
	sess := createTestSession(t, s, "sess-1", 1700000000000)

	var id, path string
	var started int64
	err := s.db.QueryRow(`SELECT id, started_at, document_path FROM sessions WHERE id = ?`, sess.ID).
		Scan(&id, &started, &path)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if started != 1700000000000 {
		t.Errorf("started_at = %d, want 1700000000000", started)
	}
	if path != "doc.xml" {
		t.Errorf("document_path = %q, want %q", path, "doc.xml")
	}
}

func TestWriteSession_Idempotent(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", 1)
	createTestSession(t, s, "sess-1", 2)

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("sessions = %d, want 1", count)
	}
}

func TestWriteRequest_Basic(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", 1)

	req := createTestRequest("sess-1", 1, 3, OutcomeOK)
	if err := s.WriteRequest(context.Background(), req); err != nil {
		t.Fatalf("WriteRequest() failed: %v", err)
	}

	var cycle int64
	var text, outcome string
	err := s.db.QueryRow(`SELECT cycle, request, outcome FROM requests WHERE session_id = ? AND seq = ?`, "sess-1", 1).
		Scan(&cycle, &text, &outcome)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if cycle != 3 {
		t.Errorf("cycle = %d, want 3", cycle)
	}
	if text != req.Request {
		t.Errorf("request = %q, want %q", text, req.Request)
	}
	if outcome != OutcomeOK {
		t.Errorf("outcome = %q, want %q", outcome, OutcomeOK)
	}
}

func TestWriteRequest_DuplicateSeqIgnored(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", 1)
	ctx := context.Background()

	first := createTestRequest("sess-1", 1, 1, OutcomeOK)
	second := createTestRequest("sess-1", 1, 1, OutcomeBadRequest)
	if err := s.WriteRequest(ctx, first); err != nil {
		t.Fatalf("first WriteRequest() failed: %v", err)
	}
	if err := s.WriteRequest(ctx, second); err != nil {
		t.Fatalf("duplicate WriteRequest() should be ignored, got: %v", err)
	}

	var outcome string
	if err := s.db.QueryRow(`SELECT outcome FROM requests WHERE seq = 1`).Scan(&outcome); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if outcome != OutcomeOK {
		t.Errorf("outcome = %q, first write should win", outcome)
	}
}

func TestWriteRequest_UnknownSession(t *testing.T) {
	s := createTestStore(t)
	err := s.WriteRequest(context.Background(), createTestRequest("missing", 1, 1, OutcomeOK))
	if err == nil {
		t.Error("expected foreign key violation, got nil")
	}
}

func TestWriteRequest_BadOutcome(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", 1)
	err := s.WriteRequest(context.Background(), createTestRequest("sess-1", 1, 1, "maybe"))
	if err == nil {
		t.Error("expected check constraint violation, got nil")
	}
}

func TestWriteSnapshot_ComputesHash(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", 1)

	xml := "<?xml version=\"1.1\" encoding=\"UTF-8\"?>\n<Root />\n"
	if err := s.WriteSnapshot(context.Background(), Snapshot{SessionID: "sess-1", Cycle: 0, Entities: 1, XML: xml}); err != nil {
		t.Fatalf("WriteSnapshot() failed: %v", err)
	}

	var hash string
	if err := s.db.QueryRow(`SELECT hash FROM snapshots WHERE cycle = 0`).Scan(&hash); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if hash != SnapshotHash(xml) {
		t.Errorf("hash = %q, want %q", hash, SnapshotHash(xml))
	}
}
