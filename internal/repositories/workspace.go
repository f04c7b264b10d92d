package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/boardx/internal/models"
)

// WorkspaceRepository is the write API of the destination workspace tables.
//
// Inserts carry caller-chosen ids and ignore rows that already exist, so repeating an
// insert after a crash never duplicates a row. Nothing here deletes boards, lists or cards.
type WorkspaceRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewWorkspaceRepository creates a new WorkspaceRepository with the given database connection
func NewWorkspaceRepository(db *sql.DB) *WorkspaceRepository {
	return &WorkspaceRepository{db: db, now: time.Now}
}

// Board retrieves a board by id.
func (r *WorkspaceRepository) Board(ctx context.Context, id string) (models.Board, bool, error) {
	var b models.Board
	err := r.db.QueryRowContext(ctx,
		"SELECT id, owner_id, name, description, board_type, created_at, updated_at FROM boards WHERE id = ?", id,
	).Scan(&b.ID, &b.OwnerID, &b.Name, &b.Description, &b.BoardType, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Board{}, false, nil
	}
	if err != nil {
		return models.Board{}, false, fmt.Errorf("failed to get board: %w", err)
	}
	return b, true, nil
}

// BoardsByOwner lists the boards of an owner, oldest first.
func (r *WorkspaceRepository) BoardsByOwner(ctx context.Context, ownerID string) ([]models.Board, error) {
	var boards []models.Board
	err := eachRow(ctx, r.db,
		"SELECT id, owner_id, name, description, board_type, created_at, updated_at FROM boards WHERE owner_id = ? ORDER BY created_at, id",
		[]any{ownerID},
		func(rows *sql.Rows) error {
			var b models.Board
			if err := rows.Scan(&b.ID, &b.OwnerID, &b.Name, &b.Description, &b.BoardType, &b.CreatedAt, &b.UpdatedAt); err != nil {
				return err
			}
			boards = append(boards, b)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	return boards, nil
}

// InsertBoard creates a board.
func (r *WorkspaceRepository) InsertBoard(ctx context.Context, b models.Board) error {
	now := r.now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO boards (id, owner_id, name, description, board_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, b.ID, b.OwnerID, b.Name, b.Description, b.BoardType, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert board: %w", err)
	}
	return nil
}

// ListsByBoard lists the lists of a board by position.
func (r *WorkspaceRepository) ListsByBoard(ctx context.Context, boardID string) ([]models.List, error) {
	var lists []models.List
	err := eachRow(ctx, r.db,
		"SELECT id, board_id, name, position FROM lists WHERE board_id = ? ORDER BY position, id",
		[]any{boardID},
		func(rows *sql.Rows) error {
			var l models.List
			if err := rows.Scan(&l.ID, &l.BoardID, &l.Name, &l.Position); err != nil {
				return err
			}
			lists = append(lists, l)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	return lists, nil
}

// InsertLists creates lists with one multi-row statement per chunk.
func (r *WorkspaceRepository) InsertLists(ctx context.Context, lists []models.List) error {
	now := r.now().UTC()
	rows := make([][]any, len(lists))
	for i, l := range lists {
		rows[i] = []any{l.ID, l.BoardID, l.Name, l.Position, now, now}
	}
	if err := insertRows(ctx, r.db,
		"INSERT INTO lists (id, board_id, name, position, created_at, updated_at)",
		"ON CONFLICT DO NOTHING", 6, rows); err != nil {
		return fmt.Errorf("failed to insert lists: %w", err)
	}
	return nil
}

// LabelsByBoard lists the labels of a board.
func (r *WorkspaceRepository) LabelsByBoard(ctx context.Context, boardID string) ([]models.Label, error) {
	var labels []models.Label
	err := eachRow(ctx, r.db,
		"SELECT id, board_id, name, color FROM labels WHERE board_id = ? ORDER BY created_at, id",
		[]any{boardID},
		func(rows *sql.Rows) error {
			var l models.Label
			if err := rows.Scan(&l.ID, &l.BoardID, &l.Name, &l.Color); err != nil {
				return err
			}
			labels = append(labels, l)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list labels: %w", err)
	}
	return labels, nil
}

// InsertLabels creates labels.
func (r *WorkspaceRepository) InsertLabels(ctx context.Context, labels []models.Label) error {
	now := r.now().UTC()
	rows := make([][]any, len(labels))
	for i, l := range labels {
		rows[i] = []any{l.ID, l.BoardID, l.Name, l.Color, now}
	}
	if err := insertRows(ctx, r.db,
		"INSERT INTO labels (id, board_id, name, color, created_at)",
		"ON CONFLICT DO NOTHING", 5, rows); err != nil {
		return fmt.Errorf("failed to insert labels: %w", err)
	}
	return nil
}

// InsertCards creates cards and returns their ids in input order.
func (r *WorkspaceRepository) InsertCards(ctx context.Context, cards []models.Card) ([]string, error) {
	now := r.now().UTC()
	rows := make([][]any, len(cards))
	ids := make([]string, len(cards))
	for i, c := range cards {
		priority := c.Priority
		if priority == "" {
			priority = models.PriorityNone
		}
		rows[i] = []any{c.ID, c.BoardID, c.Title, c.Description, nullTime(c.DueDate), priority, nullString(c.CoverAttachmentID), now, now}
		ids[i] = c.ID
	}
	if err := insertRows(ctx, r.db,
		"INSERT INTO cards (id, board_id, title, description, due_date, priority, cover_attachment_id, created_at, updated_at)",
		"ON CONFLICT DO NOTHING", 9, rows); err != nil {
		return nil, fmt.Errorf("failed to insert cards: %w", err)
	}
	return ids, nil
}

// CardsByIDs loads cards keyed by id. Missing ids are absent from the result.
func (r *WorkspaceRepository) CardsByIDs(ctx context.Context, ids []string) (map[string]models.Card, error) {
	out := make(map[string]models.Card, len(ids))
	err := queryIn(ctx, r.db,
		"SELECT id, board_id, title, description, due_date, priority, cover_attachment_id FROM cards WHERE id IN (%s)",
		ids, nil,
		func(rows *sql.Rows) error {
			var (
				c     models.Card
				due   sql.NullTime
				cover sql.NullString
			)
			if err := rows.Scan(&c.ID, &c.BoardID, &c.Title, &c.Description, &due, &c.Priority, &cover); err != nil {
				return err
			}
			if due.Valid {
				t := due.Time
				c.DueDate = &t
			}
			c.CoverAttachmentID = cover.String
			out[c.ID] = c
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to load cards: %w", err)
	}
	return out, nil
}

// UpdateCardFields overwrites title, description, due date and priority.
// It reports whether any of them changed.
func (r *WorkspaceRepository) UpdateCardFields(ctx context.Context, c models.Card) (bool, error) {
	due := nullTime(c.DueDate)
	result, err := r.db.ExecContext(ctx, `
		UPDATE cards
		SET title = ?, description = ?, due_date = ?, priority = ?, updated_at = ?
		WHERE id = ? AND (title IS NOT ? OR description IS NOT ? OR due_date IS NOT ? OR priority IS NOT ?)
	`, c.Title, c.Description, due, c.Priority, r.now().UTC(),
		c.ID, c.Title, c.Description, due, c.Priority)
	if err != nil {
		return false, fmt.Errorf("failed to update card: %w", err)
	}
	return changed(result)
}

// SetCardCover points a card's cover at an attachment. It reports whether the cover changed.
func (r *WorkspaceRepository) SetCardCover(ctx context.Context, cardID, attachmentID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE cards SET cover_attachment_id = ?, updated_at = ? WHERE id = ? AND cover_attachment_id IS NOT ?",
		attachmentID, r.now().UTC(), cardID, attachmentID)
	if err != nil {
		return false, fmt.Errorf("failed to set card cover: %w", err)
	}
	return changed(result)
}

func scanPlacement(rows *sql.Rows) (models.Placement, error) {
	var (
		p       models.Placement
		primary int
	)
	if err := rows.Scan(&p.ID, &p.CardID, &p.ListID, &p.Position, &primary); err != nil {
		return models.Placement{}, err
	}
	p.IsPrimary = primary == 1
	return p, nil
}

// PlacementsByCards loads placements grouped by card id.
func (r *WorkspaceRepository) PlacementsByCards(ctx context.Context, cardIDs []string) (map[string][]models.Placement, error) {
	out := make(map[string][]models.Placement)
	err := queryIn(ctx, r.db,
		"SELECT id, card_id, list_id, position, is_primary FROM card_placements WHERE card_id IN (%s) ORDER BY is_primary DESC, created_at",
		cardIDs, nil,
		func(rows *sql.Rows) error {
			p, err := scanPlacement(rows)
			if err != nil {
				return err
			}
			out[p.CardID] = append(out[p.CardID], p)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to load placements: %w", err)
	}
	return out, nil
}

// PlacementsByLists loads every placement in the given lists ordered by list and position.
func (r *WorkspaceRepository) PlacementsByLists(ctx context.Context, listIDs []string) ([]models.Placement, error) {
	var out []models.Placement
	err := queryIn(ctx, r.db,
		"SELECT id, card_id, list_id, position, is_primary FROM card_placements WHERE list_id IN (%s) ORDER BY list_id, position",
		listIDs, nil,
		func(rows *sql.Rows) error {
			p, err := scanPlacement(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to load placements: %w", err)
	}
	return out, nil
}

// MaxPositions returns the highest placement position per list. Empty lists are absent.
func (r *WorkspaceRepository) MaxPositions(ctx context.Context, listIDs []string) (map[string]int, error) {
	out := make(map[string]int)
	err := queryIn(ctx, r.db,
		"SELECT list_id, MAX(position) FROM card_placements WHERE list_id IN (%s) GROUP BY list_id",
		listIDs, nil,
		func(rows *sql.Rows) error {
			var id string
			var pos int
			if err := rows.Scan(&id, &pos); err != nil {
				return err
			}
			out[id] = pos
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to load list positions: %w", err)
	}
	return out, nil
}

// InsertPlacements creates placements; a card already placed in a list is left as is.
func (r *WorkspaceRepository) InsertPlacements(ctx context.Context, placements []models.Placement) error {
	now := r.now().UTC()
	rows := make([][]any, len(placements))
	for i, p := range placements {
		rows[i] = []any{p.ID, p.CardID, p.ListID, p.Position, boolInt(p.IsPrimary), now}
	}
	if err := insertRows(ctx, r.db,
		"INSERT INTO card_placements (id, card_id, list_id, position, is_primary, created_at)",
		"ON CONFLICT DO NOTHING", 6, rows); err != nil {
		return fmt.Errorf("failed to insert placements: %w", err)
	}
	return nil
}

// MovePlacement moves a placement to another list and position.
// A secondary placement of the same card in the target list is replaced.
func (r *WorkspaceRepository) MovePlacement(ctx context.Context, placementID, listID string, position int) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE OR REPLACE card_placements SET list_id = ?, position = ? WHERE id = ?",
		listID, position, placementID)
	if err != nil {
		return fmt.Errorf("failed to move placement: %w", err)
	}
	return nil
}

// SetPlacementPosition updates a placement's position and reports whether it changed.
func (r *WorkspaceRepository) SetPlacementPosition(ctx context.Context, placementID string, position int) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE card_placements SET position = ? WHERE id = ? AND position <> ?",
		position, placementID, position)
	if err != nil {
		return false, fmt.Errorf("failed to update placement position: %w", err)
	}
	return changed(result)
}

// DeletePlacements removes placement rows and returns how many were deleted.
// Card rows are never touched.
func (r *WorkspaceRepository) DeletePlacements(ctx context.Context, ids []string) (int, error) {
	total := 0
	for start := 0; start < len(ids); start += maxParams {
		end := min(start+maxParams, len(ids))
		args := make([]any, 0, end-start)
		for _, id := range ids[start:end] {
			args = append(args, id)
		}
		result, err := r.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM card_placements WHERE id IN (%s)", inList(len(args))), args...)
		if err != nil {
			return total, fmt.Errorf("failed to delete placements: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get affected rows: %w", err)
		}
		total += int(n)
	}
	return total, nil
}

// InsertCardLabels associates labels with cards.
func (r *WorkspaceRepository) InsertCardLabels(ctx context.Context, links []models.CardLabel) error {
	rows := make([][]any, len(links))
	for i, l := range links {
		rows[i] = []any{l.CardID, l.LabelID}
	}
	if err := insertRows(ctx, r.db, "INSERT INTO card_labels (card_id, label_id)", "ON CONFLICT DO NOTHING", 2, rows); err != nil {
		return fmt.Errorf("failed to insert card labels: %w", err)
	}
	return nil
}

// InsertCardAssignees associates users with cards.
func (r *WorkspaceRepository) InsertCardAssignees(ctx context.Context, links []models.CardAssignee) error {
	rows := make([][]any, len(links))
	for i, l := range links {
		rows[i] = []any{l.CardID, l.UserID}
	}
	if err := insertRows(ctx, r.db, "INSERT INTO card_assignees (card_id, user_id)", "ON CONFLICT DO NOTHING", 2, rows); err != nil {
		return fmt.Errorf("failed to insert card assignees: %w", err)
	}
	return nil
}

// ReplaceCardLabels deletes every label association of a card and inserts labelIDs.
func (r *WorkspaceRepository) ReplaceCardLabels(ctx context.Context, cardID string, labelIDs []string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM card_labels WHERE card_id = ?", cardID); err != nil {
		return fmt.Errorf("failed to clear card labels: %w", err)
	}
	links := make([]models.CardLabel, len(labelIDs))
	for i, id := range labelIDs {
		links[i] = models.CardLabel{CardID: cardID, LabelID: id}
	}
	return r.InsertCardLabels(ctx, links)
}

// ReplaceCardAssignees deletes every assignee of a card and inserts userIDs.
func (r *WorkspaceRepository) ReplaceCardAssignees(ctx context.Context, cardID string, userIDs []string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM card_assignees WHERE card_id = ?", cardID); err != nil {
		return fmt.Errorf("failed to clear card assignees: %w", err)
	}
	links := make([]models.CardAssignee, len(userIDs))
	for i, id := range userIDs {
		links[i] = models.CardAssignee{CardID: cardID, UserID: id}
	}
	return r.InsertCardAssignees(ctx, links)
}

// CardLabelIDs returns the label ids associated with a card.
func (r *WorkspaceRepository) CardLabelIDs(ctx context.Context, cardID string) ([]string, error) {
	return r.column(ctx, "SELECT label_id FROM card_labels WHERE card_id = ? ORDER BY label_id", cardID)
}

// CardAssigneeIDs returns the user ids assigned to a card.
func (r *WorkspaceRepository) CardAssigneeIDs(ctx context.Context, cardID string) ([]string, error) {
	return r.column(ctx, "SELECT user_id FROM card_assignees WHERE card_id = ? ORDER BY user_id", cardID)
}

func (r *WorkspaceRepository) column(ctx context.Context, query string, args ...any) ([]string, error) {
	var out []string
	err := eachRow(ctx, r.db, query, args, func(rows *sql.Rows) error {
		var v string
		if err := rows.Scan(&v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return out, nil
}

// InsertComments creates comments.
func (r *WorkspaceRepository) InsertComments(ctx context.Context, comments []models.Comment) error {
	rows := make([][]any, len(comments))
	for i, c := range comments {
		created := c.CreatedAt
		if created.IsZero() {
			created = r.now()
		}
		rows[i] = []any{c.ID, c.CardID, c.UserID, c.AuthorName, c.Body, created.UTC()}
	}
	if err := insertRows(ctx, r.db,
		"INSERT INTO comments (id, card_id, user_id, author_name, body, created_at)",
		"ON CONFLICT DO NOTHING", 6, rows); err != nil {
		return fmt.Errorf("failed to insert comments: %w", err)
	}
	return nil
}

// InsertChecklists creates checklists.
func (r *WorkspaceRepository) InsertChecklists(ctx context.Context, checklists []models.Checklist) error {
	now := r.now().UTC()
	rows := make([][]any, len(checklists))
	for i, c := range checklists {
		rows[i] = []any{c.ID, c.CardID, c.Title, c.Position, now}
	}
	if err := insertRows(ctx, r.db,
		"INSERT INTO checklists (id, card_id, title, position, created_at)",
		"ON CONFLICT DO NOTHING", 5, rows); err != nil {
		return fmt.Errorf("failed to insert checklists: %w", err)
	}
	return nil
}

// InsertChecklistItems creates checklist items.
func (r *WorkspaceRepository) InsertChecklistItems(ctx context.Context, items []models.ChecklistItem) error {
	now := r.now().UTC()
	rows := make([][]any, len(items))
	for i, it := range items {
		rows[i] = []any{it.ID, it.ChecklistID, it.Title, boolInt(it.IsCompleted), it.Position, now, now}
	}
	if err := insertRows(ctx, r.db,
		"INSERT INTO checklist_items (id, checklist_id, title, is_completed, position, created_at, updated_at)",
		"ON CONFLICT DO NOTHING", 7, rows); err != nil {
		return fmt.Errorf("failed to insert checklist items: %w", err)
	}
	return nil
}

// ChecklistItems loads items grouped by checklist id.
func (r *WorkspaceRepository) ChecklistItems(ctx context.Context, checklistIDs []string) (map[string][]models.ChecklistItem, error) {
	out := make(map[string][]models.ChecklistItem)
	err := queryIn(ctx, r.db,
		"SELECT id, checklist_id, title, is_completed, position FROM checklist_items WHERE checklist_id IN (%s) ORDER BY position",
		checklistIDs, nil,
		func(rows *sql.Rows) error {
			var (
				it   models.ChecklistItem
				done int
			)
			if err := rows.Scan(&it.ID, &it.ChecklistID, &it.Title, &done, &it.Position); err != nil {
				return err
			}
			it.IsCompleted = done == 1
			out[it.ChecklistID] = append(out[it.ChecklistID], it)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to load checklist items: %w", err)
	}
	return out, nil
}

// SetChecklistItemCompleted updates completion state and reports whether it changed.
func (r *WorkspaceRepository) SetChecklistItemCompleted(ctx context.Context, itemID string, done bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE checklist_items SET is_completed = ?, updated_at = ? WHERE id = ? AND is_completed <> ?",
		boolInt(done), r.now().UTC(), itemID, boolInt(done))
	if err != nil {
		return false, fmt.Errorf("failed to update checklist item: %w", err)
	}
	return changed(result)
}

// InsertAttachment creates an attachment row.
func (r *WorkspaceRepository) InsertAttachment(ctx context.Context, a models.Attachment) error {
	created := a.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attachments (id, card_id, file_name, file_size, mime_type, storage_key, storage_backend, url, is_external, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, a.ID, a.CardID, a.FileName, a.FileSize, a.MimeType, a.StorageKey, a.StorageBackend, a.URL, boolInt(a.IsExternal), created.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

// AttachmentsByIDs loads attachments keyed by id.
func (r *WorkspaceRepository) AttachmentsByIDs(ctx context.Context, ids []string) (map[string]models.Attachment, error) {
	out := make(map[string]models.Attachment, len(ids))
	err := queryIn(ctx, r.db, `
		SELECT id, card_id, file_name, file_size, mime_type, storage_key, storage_backend, url, is_external, created_at
		FROM attachments WHERE id IN (%s)
	`, ids, nil,
		func(rows *sql.Rows) error {
			var (
				a        models.Attachment
				external int
			)
			if err := rows.Scan(&a.ID, &a.CardID, &a.FileName, &a.FileSize, &a.MimeType, &a.StorageKey,
				&a.StorageBackend, &a.URL, &external, &a.CreatedAt); err != nil {
				return err
			}
			a.IsExternal = external == 1
			out[a.ID] = a
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to load attachments: %w", err)
	}
	return out, nil
}

func changed(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}
