package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/desertthunder/boardx/internal/models"
)

// LedgerPageSize is the page size used when loading mappings in bulk.
const LedgerPageSize = 1000

// LedgerRepository persists the idempotency map in migration_entity_map.
//
// A row is only ever inserted once per (job, type, source id); the attachment manifest
// pseudo-type is the one exception and is upserted.
type LedgerRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewLedgerRepository creates a new LedgerRepository with the given database connection
func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db, now: time.Now}
}

// Get returns the mapping for a source entity within a job.
func (r *LedgerRepository) Get(ctx context.Context, jobID string, t models.EntityType, sourceID string) (models.EntityMapping, bool, error) {
	query := `
		SELECT job_id, source_type, source_id, target_id, metadata, created_at
		FROM migration_entity_map
		WHERE job_id = ? AND source_type = ? AND source_id = ?
	`
	m, err := scanMapping(r.db.QueryRowContext(ctx, query, jobID, string(t), sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.EntityMapping{}, false, nil
	}
	if err != nil {
		return models.EntityMapping{}, false, fmt.Errorf("failed to get mapping: %w", err)
	}
	return m, true, nil
}

// Record inserts a mapping. Recording an existing key is a no-op.
func (r *LedgerRepository) Record(ctx context.Context, m models.EntityMapping) error {
	return r.RecordBatch(ctx, []models.EntityMapping{m})
}

// RecordBatch inserts mappings with multi-row statements. Existing keys are left untouched.
func (r *LedgerRepository) RecordBatch(ctx context.Context, ms []models.EntityMapping) error {
	if len(ms) == 0 {
		return nil
	}

	now := r.now().UTC()
	rows := make([][]any, 0, len(ms))
	for _, m := range ms {
		if m.SourceType == models.EntityAttachmentManifest {
			return fmt.Errorf("manifest entries must be written with PutManifest")
		}
		meta, err := json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode mapping metadata: %w", err)
		}
		rows = append(rows, []any{m.JobID, string(m.SourceType), m.SourceID, m.TargetID, string(meta), now})
	}

	err := insertRows(ctx, r.db,
		"INSERT INTO migration_entity_map (job_id, source_type, source_id, target_id, metadata, created_at)",
		"ON CONFLICT (job_id, source_type, source_id) DO NOTHING",
		6, rows)
	if err != nil {
		return fmt.Errorf("failed to record mappings: %w", err)
	}
	return nil
}

// BatchGet loads every mapping of the given types recorded by a job.
func (r *LedgerRepository) BatchGet(ctx context.Context, jobID string, types ...models.EntityType) (models.Mappings, error) {
	out := make(models.Mappings)
	err := r.page(ctx, "job_id = ?", jobID, types, func(m models.EntityMapping) {
		out.Put(m)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings: %w", err)
	}
	return out, nil
}

// Global loads mappings of the given types recorded by every job except excludeJobID.
// When several jobs mapped the same source entity the earliest mapping wins.
func (r *LedgerRepository) Global(ctx context.Context, excludeJobID string, types ...models.EntityType) (models.Mappings, error) {
	all, err := r.Candidates(ctx, excludeJobID, types...)
	if err != nil {
		return nil, err
	}
	out := make(models.Mappings, len(all))
	for key, ms := range all {
		out[key] = ms[0]
	}
	return out, nil
}

// Candidates loads every mapping of the given types recorded by jobs other than excludeJobID,
// grouped by source entity and ordered oldest first.
func (r *LedgerRepository) Candidates(ctx context.Context, excludeJobID string, types ...models.EntityType) (models.Candidates, error) {
	out := make(models.Candidates)
	err := r.page(ctx, "job_id <> ?", excludeJobID, types, func(m models.EntityMapping) {
		key := models.MappingKey{Type: m.SourceType, SourceID: m.SourceID}
		out[key] = append(out[key], m)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load cross-job mappings: %w", err)
	}
	for _, ms := range out {
		slices.SortStableFunc(ms, func(a, b models.EntityMapping) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return strings.Compare(a.JobID, b.JobID)
		})
	}
	return out, nil
}

// page walks matching rows in keyset pages of [LedgerPageSize].
func (r *LedgerRepository) page(ctx context.Context, jobClause, jobArg string, types []models.EntityType, fn func(models.EntityMapping)) error {
	if len(types) == 0 {
		return nil
	}
	typeArgs := make([]any, len(types))
	for i, t := range types {
		typeArgs[i] = string(t)
	}

	query := fmt.Sprintf(`
		SELECT job_id, source_type, source_id, target_id, metadata, created_at
		FROM migration_entity_map
		WHERE %s AND source_type IN (%s) AND (source_type, source_id, job_id) > (?, ?, ?)
		ORDER BY source_type, source_id, job_id
		LIMIT %d
	`, jobClause, inList(len(types)), LedgerPageSize)

	var lastType, lastSource, lastJob string
	for {
		args := append([]any{jobArg}, typeArgs...)
		args = append(args, lastType, lastSource, lastJob)

		var batch []models.EntityMapping
		err := eachRow(ctx, r.db, query, args, func(rows *sql.Rows) error {
			m, err := scanMapping(rows)
			if err != nil {
				return err
			}
			batch = append(batch, m)
			return nil
		})
		if err != nil {
			return err
		}

		for _, m := range batch {
			fn(m)
		}
		if len(batch) < LedgerPageSize {
			return nil
		}
		last := batch[len(batch)-1]
		lastType, lastSource, lastJob = string(last.SourceType), last.SourceID, last.JobID
	}
}

type manifestPayload struct {
	Entries []models.ManifestEntry `json:"entries"`
}

// PutManifest stores or replaces the cached attachment listing of a board.
func (r *LedgerRepository) PutManifest(ctx context.Context, jobID, boardSourceID, boardTargetID string, entries []models.ManifestEntry) error {
	payload, err := json.Marshal(manifestPayload{Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	query := `
		INSERT INTO migration_entity_map (job_id, source_type, source_id, target_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id, source_type, source_id)
		DO UPDATE SET target_id = excluded.target_id, metadata = excluded.metadata, created_at = excluded.created_at
	`
	_, err = r.db.ExecContext(ctx, query,
		jobID, string(models.EntityAttachmentManifest), boardSourceID, boardTargetID, string(payload), r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to store manifest: %w", err)
	}
	return nil
}

// Manifest returns the cached attachment listing of a board, if any.
func (r *LedgerRepository) Manifest(ctx context.Context, jobID, boardSourceID string) ([]models.ManifestEntry, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		"SELECT metadata FROM migration_entity_map WHERE job_id = ? AND source_type = ? AND source_id = ?",
		jobID, string(models.EntityAttachmentManifest), boardSourceID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read manifest: %w", err)
	}

	var payload manifestPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, false, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return payload.Entries, true, nil
}

// Counts returns the number of mappings per type recorded by a job.
func (r *LedgerRepository) Counts(ctx context.Context, jobID string) (map[models.EntityType]int, error) {
	counts := make(map[models.EntityType]int)
	err := eachRow(ctx, r.db,
		"SELECT source_type, COUNT(*) FROM migration_entity_map WHERE job_id = ? GROUP BY source_type",
		[]any{jobID},
		func(rows *sql.Rows) error {
			var t string
			var n int
			if err := rows.Scan(&t, &n); err != nil {
				return err
			}
			counts[models.EntityType(t)] = n
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to count mappings: %w", err)
	}
	return counts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMapping(s scanner) (models.EntityMapping, error) {
	var (
		m          models.EntityMapping
		sourceType string
		meta       string
	)
	if err := s.Scan(&m.JobID, &sourceType, &m.SourceID, &m.TargetID, &meta, &m.CreatedAt); err != nil {
		return models.EntityMapping{}, err
	}
	m.SourceType = models.EntityType(sourceType)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return models.EntityMapping{}, fmt.Errorf("failed to decode mapping metadata: %w", err)
		}
	}
	return m, nil
}
