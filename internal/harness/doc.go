// Package harness runs convergence scenarios against the document engine.
//
// A scenario names a set of replicas, an optional setup transaction that
// every replica starts from, and a list of concurrent edits. Each edit is
// one transaction on one replica. The harness captures every edit's update
// and replays the updates into a fresh reader in every delivery order,
// requiring byte-identical canonical state across all orders and across
// the authoring replicas after a full sync.
//
// # Scenario Format
//
//	name: concurrent_text
//	description: "Inserts at distinct positions interleave"
//	replicas: [a, b, c]
//	setup:
//	  replica: a
//	  ops:
//	    - { type: insert_text, container: body, index: 0, text: "AC" }
//	edits:
//	  - replica: b
//	    ops:
//	      - { type: insert_text, container: body, index: 1, text: "B" }
//	assertions:
//	  - { type: text, container: body, expect: "ZABC" }
//
// # Assertion Types
//
//   - text: a Text container's plain text
//   - map_entry: one Map entry; a missing expect asserts the key is absent
//   - array: an Array container's values
//   - state: the whole canonical state JSON
//   - pending: number of operations still waiting for dependencies
//
// # Deterministic Testing
//
// Replicas run with testutil.DeterministicClock timestamps and fixed
// operation-id suffixes, so traces and states are identical across runs
// and can be compared against golden files.
package harness
