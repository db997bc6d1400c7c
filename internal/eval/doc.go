// Package eval is the expression runtime.
//
// A Registry maps function names to documented functions. Each function
// declares its argument as a Schema: nil, a single typed value, a typed
// array, a pass-through object, a map of named fields (required,
// optional or defaulted), an enum of strings, or a capture binding one
// of those under a name. Translating a call binds the argument against
// the schema, producing Args for the body, and wraps any failure in a
// CALL_FAILED error that quotes the call.
//
// Translation reads dependency references through an Env; the document
// provides one backed by its property bus. Values that are not calls or
// references translate to themselves, with arrays and objects
// translated element by element.
//
// The standard library (RegisterStd) adds arithmetic, boolean, string,
// color, vector and matrix functions. Vectors and matrices are natives
// that stringify back to the calls constructing them:
//
//	vec3 { x: 1, y: 2, z: 3 }
package eval
