// Package harness runs publish scenarios end to end against a real engine.
//
// A scenario names a syncbook config (folders, accounts, collections),
// then drives the engine through a list of steps: local edits, remote
// changes on memory collections, injected connector failures, publishes,
// pulls and folder moves. Every publish and pull is recorded in a trace
// and the final state is checked by assertions.
//
// Each scenario runs on a fresh in-memory store with a deterministic clock
// and sequential ids, so the same scenario always yields the same trace.
// RunWithGolden compares that trace against testdata/golden.
//
// Scenario format:
//
//	name: backfill
//	description: a person created with its company gets a backfill
//	config: ../config/syncbook.yaml
//	steps:
//	  - create: {folder: companies, file: acme, content: {name: Acme}}
//	  - create: {folder: people, file: bob, content: {name: Bob, company: acme}}
//	  - publish: {}
//	assertions:
//	  - type: pipeline
//	    expect: {status: completed, completed: 3}
//	  - type: clean
package harness
