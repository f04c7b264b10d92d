// package repositories provides persistence layer implementations for the migration engine.
//
// Each repository wraps a [sql.DB] and never holds a result set open while issuing another
// statement, so a single-connection pool cannot deadlock.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// maxParams bounds the bind parameters of one generated statement.
const maxParams = 900

// NextSequence atomically increments and returns the next sequence number for the given table.
//
// Sequence numbers give jobs a human-readable ordering (job #42) independent of UUIDs.
func NextSequence(ctx context.Context, db *sql.DB, table string) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sequenceTable := table + "_sequence"

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET value = value + 1 WHERE id = 1", sequenceTable)); err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	var sequence int
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT value FROM %s WHERE id = 1", sequenceTable)).Scan(&sequence); err != nil {
		return 0, fmt.Errorf("failed to get sequence value: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sequence transaction: %w", err)
	}

	return sequence, nil
}

// placeholders returns "(?, ?, ?), (?, ?, ?)" for rows of width cols.
func placeholders(rows, cols int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", cols), ", ") + ")"
	return strings.TrimSuffix(strings.Repeat(row+", ", rows), ", ")
}

// inList returns "?, ?, ?" for n values.
func inList(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// insertRows writes rows with as few multi-row INSERT statements as the parameter limit allows.
//
// head is everything up to VALUES, e.g. "INSERT INTO lists (id, name)"; tail follows the values.
func insertRows(ctx context.Context, db *sql.DB, head, tail string, cols int, rows [][]any) error {
	per := maxParams / cols
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		chunk := rows[start:end]

		args := make([]any, 0, len(chunk)*cols)
		for _, r := range chunk {
			args = append(args, r...)
		}

		query := head + " VALUES " + placeholders(len(chunk), cols) + " " + tail
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

// queryIn runs query once per chunk of ids, substituting "%s" with the IN placeholder list.
// scan is called for every row; rows are closed before the next chunk is queried.
func queryIn(ctx context.Context, db *sql.DB, query string, ids []string, prefix []any, scan func(*sql.Rows) error) error {
	per := maxParams - len(prefix)
	for start := 0; start < len(ids); start += per {
		end := min(start+per, len(ids))
		chunk := ids[start:end]

		args := make([]any, 0, len(prefix)+len(chunk))
		args = append(args, prefix...)
		for _, id := range chunk {
			args = append(args, id)
		}

		if err := eachRow(ctx, db, fmt.Sprintf(query, inList(len(chunk))), args, scan); err != nil {
			return err
		}
	}
	return nil
}

func eachRow(ctx context.Context, db *sql.DB, query string, args []any, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
