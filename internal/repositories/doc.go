// Package repositories implements SQLite persistence for the control attribution log.
//
// Key Implementations:
//   - [ControlEventRepository] : grants, releases and commands attributed to client identities
//
// Sequence numbers provide stable, human-readable ordering (e.g., event #42) independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
// Playback state itself is never persisted.
package repositories
