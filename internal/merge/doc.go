// Package merge implements the three-lane edit state kept per local record.
//
// Each field of a record carries up to three values:
//
//   - remote: the last value confirmed by the external store
//   - staged: a pending local edit, or a deletion tombstone
//   - suggested: a proposed value awaiting accept or reject
//
// The staged and suggested lanes only hold values that differ from remote.
// Deleting a whole record is a tombstone staged under RecordKey, so a pending
// delete moves through the same accept, reject and publish transitions as a
// field edit.
//
// Model serializes updates per record key over a pluggable Backend.
package merge
