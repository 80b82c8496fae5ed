// Package transform implements the per-field value converters applied while
// mapping a local record onto a destination schema.
//
// Transformer configurations form a closed sum type (Config). Apply
// dispatches over it with a single exhaustive type switch; adding a variant
// means adding a type here and a case there.
//
// Transformers never fail with a Go error. Every outcome is a Result that
// carries a value, a value plus a warning, or an error message, so previews
// can show failures inline. Index lookups go through the read-only Resolver.
package transform
