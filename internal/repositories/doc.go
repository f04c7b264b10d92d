// Package repositories implements SQLite persistence for the migration engine.
//
// Key Implementations:
//   - [JobRepository] : migration job rows with guarded status transitions and soft deletes
//   - [LedgerRepository] : the idempotency map of (job, source type, source id) to target id
//   - [WorkspaceRepository] : write API of the destination workspace tables
//
// Destination rows are written with caller-chosen ids and ON CONFLICT DO NOTHING, so a repeated
// insert after a crash is absorbed by the store instead of producing a duplicate.
//
// Sequence numbers provide stable, human-readable ordering (e.g., job #42) independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
