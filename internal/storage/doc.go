// Package storage persists the subscriber registry.
//
// Two drivers are available:
//   - "file": a human-readable JSON array rewritten atomically on every
//     change, plus an optional <name>.audit.jsonl next to it
//   - "sqlite": a single database file holding subscribers and audit rows
package storage
