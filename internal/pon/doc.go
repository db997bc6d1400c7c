// Package pon implements the value model shared by every layer of the
// document engine: the closed set of expression values, the selector
// syntax used to address entities, and the textual grammar that reads
// and writes both.
//
// # Values
//
// A Value is one of:
//
//	Nil          ()
//	Number       5, -1.5
//	String       'text', with \' and \\ escapes
//	Bool         true, false
//	Array        [a, b]
//	Object       { key: value, other: value }
//	Call         name arg, name { fields }
//	Selector     root:[x=5]/Mesh
//	Reference    this.key        (read at evaluation time)
//	DepReference @this.key       (resolved once when attached to an entity)
//	Native       runtime-computed values (vectors, matrices, requests)
//
// Value is a sealed interface. Natives are registered in a NativeRegistry
// which supplies clone, equality and formatting for each tag, so the
// closed set stays closed while engine-specific types can still flow
// through property evaluation.
//
// # Round-tripping
//
// Stringify produces canonical text: object keys are sorted and numbers
// use their shortest form. For every value built from the grammar,
// Parse(Stringify(v)) is Equal to v.
package pon
