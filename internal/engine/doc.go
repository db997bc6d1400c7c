// Package engine runs a document as a live service.
//
// The engine owns the document, the stream registry and the request
// dispatcher, and drives them from one goroutine:
//
//  1. Connections, disconnections, request lines and reloads are
//     enqueued from any goroutine (Connect, Send, Disconnect, Reload).
//  2. Run closes one cycle per tick, paced to the configured frames per
//     second.
//  3. Step drains the queue, dispatches each line, journals it, closes
//     the document cycle, collects stream output and hands every line
//     to its client's sink.
//
// Requests within a cycle are handled in arrival order. Their replies
// come before the stream messages of the cycle that saw them.
//
// Journaled requests are numbered by a logical Clock, never by wall
// time, so a session replays in its original order.
package engine
