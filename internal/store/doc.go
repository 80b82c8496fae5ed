// Package store provides SQLite-backed durable state for syncbook.
//
// The store holds:
//   - Folders: local collections with their schemas and field maps
//   - Files: local records with their three-lane edit state
//   - File Index: (folder path, filename) to remote record identity
//   - Ref Index: resolved or deferred cross-folder references per branch
//   - Pipelines and Entries: planned publish operations and their outcome
//
// The index tables are the only place remote identity is persisted.
//
// # Critical Patterns
//
// Idempotent writes
//   - Index upserts use ON CONFLICT ... DO UPDATE
//   - Pipeline entries are UNIQUE(pipeline_id, file_path, phase)
//
// Deterministic reads
//   - Every list query has a total ORDER BY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
