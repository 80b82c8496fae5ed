// Package schema models the structured record schemas exchanged with
// connectors and declared for local data folders.
//
// A Node is one of:
//   - a primitive (string, number, boolean)
//   - an object with ordered, named child fields
//   - an array with a single item schema
//   - a union, which in practice is an optional/nullable wrapper holding one
//     non-null variant plus null
//
// Paths into a schema are dot-separated field names that traverse object
// nodes. Array elements are not addressable by schema paths.
package schema
