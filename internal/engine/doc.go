// Package engine implements the syncbook publish pipeline: planning,
// execution and the queued service around them.
//
// ARCHITECTURE:
//
// Planner:
// Reads folders, local file state and the correspondence index and
// classifies every dirty record within scope into one phase. Each record
// yields one entry holding a materialized operation: the field map applied,
// transformers run and cross-folder references resolved through the index.
// Planning never calls a connector and never writes the store.
//
// Executor:
// Applies entries in phase order through the folder's connector. After a
// successful entry the index is updated (new identity for creates, removal
// for deletes) and the merge model advanced for the fields that were sent.
// A failed entry is recorded and execution continues.
//
// Service:
// Engine wraps both behind folder locks and a job queue. Runs and pulls are
// queued and picked up by a small worker pool; callers poll the pipeline.
//
// CRITICAL PATTERNS:
//
// Phase order:
// edit < create < delete < backfill. Within a phase entries keep planning
// order.
//
// Identity:
// Remote identity comes from the file index only, never from file names.
//
// Folder locks:
// At most one pipeline or pull per folder. A request against a locked
// folder is rejected, not queued behind the holder.
//
// Per-record serialization:
// Index and merge model writes for one file are linearized; distinct files
// proceed independently.
package engine
