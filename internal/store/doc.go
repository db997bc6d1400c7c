// Package store provides SQLite-backed storage for document sessions.
//
// A session is one run of the server. For each session the store keeps:
//   - Requests: every request line handled, with its outcome and reply
//   - Snapshots: the XML dump of the document at chosen cycles
//
// Snapshots use the same textual format as document files; the store is
// a diagnostic journal, not a second persistence format.
//
// # Ordering
//
// Requests are ordered by seq, a logical counter stamped by the engine.
// Snapshots are ordered by cycle. Queries always ORDER BY these columns
// so reads are deterministic.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
