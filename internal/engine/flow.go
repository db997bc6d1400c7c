package engine

import (
	"sync"

	"github.com/google/uuid"
)

// ClientIDGenerator names connecting clients.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type ClientIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 client ids, so journal
// rows sort by connection time.
//
// UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails.
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids for deterministic tests and
// golden traces.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
//	gen := NewFixedGenerator("client-1", "client-2")
//	gen.Generate() // "client-1"
//	gen.Generate() // "client-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id. Panics when exhausted,
// which catches a test connecting more clients than it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
