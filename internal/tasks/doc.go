// Package tasks runs board migration jobs.
//
// # Runs
//
// A job is driven by repeated calls to [MigrationRunner.Run], each bounded by a deadline. A run moves
// the job to running, imports each configured board in order and ends in one of four ways:
//
//   - completed: every board went through every phase
//   - pending with needs_resume set: the deadline came within the safety margin or the context ended
//   - cancelled: the job row was cancelled from outside; the status is left as the canceller wrote it
//   - failed: a destination write or an unexpected error stopped the run
//
// # Phases
//
// Each board goes through board, labels, lists, cards, attachments, covers and finally comments
// together with checklists. Progress and the report are checkpointed after every phase. The cards,
// attachments and comments phases are not started when the deadline is near.
//
// # Idempotency
//
// Every destination row created by a job has an id derived from the job and source id, and every
// insert ignores conflicts. A mapping is written to the ledger only after its rows exist, so a run
// interrupted anywhere is repaired by the next one. Before creating anything the engine looks for an
// existing row: this job's ledger, the operator's merge target (boards only), another job's ledger,
// and finally a same-named row on the board.
//
// # Concurrency
//
// Per-card source calls and destination updates run through [Limiter] pools sized by
// [shared.LimitsConfig]. [ForEach] admits tasks in item order and waits for all of them.
// [Reporter] serialises counter and error updates from concurrent tasks.
package tasks
