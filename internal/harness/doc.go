// Package harness runs scripted client sessions against the engine.
//
// A scenario names a document, a set of clients and a list of steps.
// Each step queues request lines, disconnects or reloads, then closes
// exactly one engine cycle and records every line delivered to each
// client. The run is deterministic: client ids come from the scenario
// and every step reports a fixed dtime, so the same scenario always
// produces the same trace.
//
// # Scenario Format
//
//	name: doc_stream_basics
//	description: "A doc stream reports property updates"
//	document: |
//	  <Root><Entity name="a" x="1" /></Root>
//	clients: [c1]
//	steps:
//	  - send:
//	      - { client: c1, line: "1 set_properties { entity: root:[name=a], properties: { x: 2 } }" }
//	    expect:
//	      c1: ["1 ok ()"]
//	assertions:
//	  - type: property
//	    entity: root:[name=a]
//	    key: x
//	    value: "2"
//
// # Assertion Types
//
//   - trace_contains: a client received a line matching pattern
//   - trace_order: a client received lines matching patterns in order
//   - trace_count: a client received exactly count lines matching pattern
//   - property: a property of the final document evaluates to value,
//     or fails with an error containing error
//   - entity_count: a selector matches exactly count entities
//
// # Golden Traces
//
// RunWithGolden compares the JSON trace and final XML dump of a
// scenario with testdata/golden/<name>.golden.
package harness
