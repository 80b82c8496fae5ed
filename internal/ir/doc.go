// Package ir holds the records shared by the store, the engine and the
// outer surfaces: folders and their local files, correspondence index
// entries, publish pipelines and their entries.
//
// Key design constraints:
//   - All JSON tags use snake_case
//   - Pipeline entries are keyed by file path and phase
//   - Phase order is fixed: edit, create, delete, backfill
//   - Reserved meta field names never appear in user content
package ir
