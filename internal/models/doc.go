// Package models defines the entities shared by the boardx migration engine.
//
// The package contains four categories of types:
//
// 1. Source DTOs: lightweight structs decoded from the source board API
//   - [SourceBoard], [SourceMember], [SourceList], [SourceLabel], [SourceCard]
//   - [SourceAction] : comment actions, paginated
//   - [SourceChecklist], [SourceCheckItem], [SourceAttachment]
//
// 2. Workspace rows: the destination entities the engine creates and reconciles
//   - [Board], [List], [Card], [Placement], [Label], [Comment], [Checklist], [ChecklistItem], [Attachment]
//
// 3. Ledger records
//   - [EntityMapping] : (job, source type, source id) to destination id, with [MappingMetadata]
//   - [ManifestEntry] : one row of a cached per-board attachment listing
//
// 4. Persistent entities with lifecycle management
//   - [MigrationJob] : one migration run with its [JobConfig], [Progress] and [Report]
//
// Persistent entities implement the Model interface providing ID, timestamps and validation.
// The Repository[T] interface defines standard CRUD operations for database access.
package models
