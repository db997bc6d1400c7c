// Package testutil holds helpers shared by the engine, server and
// harness tests.
package testutil

import "sync"

// Lines collects the output lines delivered to one client.
//
// Append has the signature of engine.Sink, so a *Lines can be handed
// to Engine.Connect directly. All methods are safe for concurrent use.
type Lines struct {
	mu    sync.Mutex
	lines []string
	taken int
}

// Append records lines in delivery order.
func (l *Lines) Append(lines []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, lines...)
}

// Take returns the lines delivered since the previous Take.
// Returns nil when nothing new arrived.
func (l *Lines) Take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.taken == len(l.lines) {
		return nil
	}
	out := append([]string(nil), l.lines[l.taken:]...)
	l.taken = len(l.lines)
	return out
}

// All returns every line delivered so far, taken or not.
func (l *Lines) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// Len returns the number of lines delivered so far.
func (l *Lines) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
}
