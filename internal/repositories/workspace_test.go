package repositories

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/desertthunder/boardx/internal/models"
)

func seedBoard(t *testing.T, repo *WorkspaceRepository) {
	t.Helper()
	ctx := context.Background()

	if err := repo.InsertBoard(ctx, models.Board{ID: "b1", OwnerID: "o1", Name: "Roadmap", BoardType: "kanban"}); err != nil {
		t.Fatalf("failed to insert board: %v", err)
	}
	if err := repo.InsertLists(ctx, []models.List{
		{ID: "l1", BoardID: "b1", Name: "To Do", Position: 0},
		{ID: "l2", BoardID: "b1", Name: "Done", Position: 1},
	}); err != nil {
		t.Fatalf("failed to insert lists: %v", err)
	}
}

func TestWorkspaceRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Boards", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewWorkspaceRepository(db)
		seedBoard(t, repo)

		if err := repo.InsertBoard(ctx, models.Board{ID: "b1", OwnerID: "o1", Name: "Renamed"}); err != nil {
			t.Fatalf("repeated insert should be ignored: %v", err)
		}

		b, ok, err := repo.Board(ctx, "b1")
		if err != nil || !ok {
			t.Fatalf("expected board, got ok=%v err=%v", ok, err)
		}
		if b.Name != "Roadmap" {
			t.Errorf("repeated insert must not overwrite, got %s", b.Name)
		}

		boards, err := repo.BoardsByOwner(ctx, "o1")
		if err != nil || len(boards) != 1 {
			t.Errorf("expected 1 board for owner, got %d (%v)", len(boards), err)
		}

		if _, ok, _ := repo.Board(ctx, "missing"); ok {
			t.Error("missing board should not be found")
		}
	})

	t.Run("Cards And Placements", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewWorkspaceRepository(db)
		seedBoard(t, repo)

		due := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		ids, err := repo.InsertCards(ctx, []models.Card{
			{ID: "c1", BoardID: "b1", Title: "First", DueDate: &due},
			{ID: "c2", BoardID: "b1", Title: "Second", Priority: models.PriorityHigh},
		})
		if err != nil {
			t.Fatalf("failed to insert cards: %v", err)
		}
		if !slices.Equal(ids, []string{"c1", "c2"}) {
			t.Errorf("expected ids in input order, got %v", ids)
		}

		if err := repo.InsertPlacements(ctx, []models.Placement{
			{ID: "p1", CardID: "c1", ListID: "l1", Position: 0, IsPrimary: true},
			{ID: "p2", CardID: "c2", ListID: "l1", Position: 1, IsPrimary: true},
			{ID: "p-dup", CardID: "c2", ListID: "l1", Position: 5, IsPrimary: true},
		}); err != nil {
			t.Fatalf("failed to insert placements: %v", err)
		}

		cards, err := repo.CardsByIDs(ctx, []string{"c1", "c2", "missing"})
		if err != nil {
			t.Fatalf("failed to load cards: %v", err)
		}
		if len(cards) != 2 || cards["c1"].DueDate == nil || !cards["c1"].DueDate.Equal(due) {
			t.Errorf("unexpected cards %+v", cards)
		}
		if cards["c1"].Priority != models.PriorityNone || cards["c2"].Priority != models.PriorityHigh {
			t.Errorf("unexpected priorities %s %s", cards["c1"].Priority, cards["c2"].Priority)
		}

		maxPos, err := repo.MaxPositions(ctx, []string{"l1", "l2"})
		if err != nil {
			t.Fatalf("failed to load max positions: %v", err)
		}
		if maxPos["l1"] != 1 {
			t.Errorf("expected max position 1, duplicate placement must be ignored, got %d", maxPos["l1"])
		}
		if _, ok := maxPos["l2"]; ok {
			t.Error("empty list should have no max position")
		}

		if err := repo.MovePlacement(ctx, "p2", "l2", 0); err != nil {
			t.Fatalf("failed to move placement: %v", err)
		}
		byCard, err := repo.PlacementsByCards(ctx, []string{"c2"})
		if err != nil {
			t.Fatalf("failed to load placements: %v", err)
		}
		if len(byCard["c2"]) != 1 || byCard["c2"][0].ListID != "l2" {
			t.Errorf("expected c2 moved to l2, got %+v", byCard["c2"])
		}

		changed, err := repo.SetPlacementPosition(ctx, "p1", 0)
		if err != nil || changed {
			t.Errorf("same position should not count as a change, got %v %v", changed, err)
		}
		changed, _ = repo.SetPlacementPosition(ctx, "p1", 3)
		if !changed {
			t.Error("new position should count as a change")
		}

		n, err := repo.DeletePlacements(ctx, []string{"p1"})
		if err != nil || n != 1 {
			t.Errorf("expected 1 deleted placement, got %d (%v)", n, err)
		}
		if cards, _ := repo.CardsByIDs(ctx, []string{"c1"}); len(cards) != 1 {
			t.Error("deleting a placement must keep the card row")
		}
	})

	t.Run("UpdateCardFields", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewWorkspaceRepository(db)
		seedBoard(t, repo)
		card := models.Card{ID: "c1", BoardID: "b1", Title: "First", Priority: models.PriorityNone}
		if _, err := repo.InsertCards(ctx, []models.Card{card}); err != nil {
			t.Fatalf("failed to insert card: %v", err)
		}

		changed, err := repo.UpdateCardFields(ctx, card)
		if err != nil || changed {
			t.Errorf("identical fields should not count as a change, got %v %v", changed, err)
		}

		card.Title = "First (edited)"
		changed, err = repo.UpdateCardFields(ctx, card)
		if err != nil || !changed {
			t.Errorf("edited title should count as a change, got %v %v", changed, err)
		}
	})

	t.Run("Associations", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewWorkspaceRepository(db)
		seedBoard(t, repo)
		if _, err := repo.InsertCards(ctx, []models.Card{{ID: "c1", BoardID: "b1", Title: "First"}}); err != nil {
			t.Fatalf("failed to insert card: %v", err)
		}
		if err := repo.InsertLabels(ctx, []models.Label{
			{ID: "lb1", BoardID: "b1", Name: "bug", Color: "red"},
			{ID: "lb2", BoardID: "b1", Name: "feature", Color: "green"},
		}); err != nil {
			t.Fatalf("failed to insert labels: %v", err)
		}

		if err := repo.InsertCardLabels(ctx, []models.CardLabel{{CardID: "c1", LabelID: "lb1"}}); err != nil {
			t.Fatalf("failed to insert card labels: %v", err)
		}
		if err := repo.ReplaceCardLabels(ctx, "c1", []string{"lb2"}); err != nil {
			t.Fatalf("failed to replace card labels: %v", err)
		}
		labels, _ := repo.CardLabelIDs(ctx, "c1")
		if !slices.Equal(labels, []string{"lb2"}) {
			t.Errorf("expected only lb2, got %v", labels)
		}

		if err := repo.ReplaceCardAssignees(ctx, "c1", []string{"u2", "u1"}); err != nil {
			t.Fatalf("failed to replace assignees: %v", err)
		}
		assignees, _ := repo.CardAssigneeIDs(ctx, "c1")
		if !slices.Equal(assignees, []string{"u1", "u2"}) {
			t.Errorf("expected u1 and u2, got %v", assignees)
		}
	})

	t.Run("Checklists And Attachments", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewWorkspaceRepository(db)
		seedBoard(t, repo)
		if _, err := repo.InsertCards(ctx, []models.Card{{ID: "c1", BoardID: "b1", Title: "First"}}); err != nil {
			t.Fatalf("failed to insert card: %v", err)
		}

		if err := repo.InsertChecklists(ctx, []models.Checklist{{ID: "cl1", CardID: "c1", Title: "Launch"}}); err != nil {
			t.Fatalf("failed to insert checklist: %v", err)
		}
		if err := repo.InsertChecklistItems(ctx, []models.ChecklistItem{
			{ID: "i1", ChecklistID: "cl1", Title: "Write docs", Position: 0},
			{ID: "i2", ChecklistID: "cl1", Title: "Ship", Position: 1, IsCompleted: true},
		}); err != nil {
			t.Fatalf("failed to insert items: %v", err)
		}

		changed, err := repo.SetChecklistItemCompleted(ctx, "i1", true)
		if err != nil || !changed {
			t.Errorf("expected completion change, got %v %v", changed, err)
		}
		changed, _ = repo.SetChecklistItemCompleted(ctx, "i2", true)
		if changed {
			t.Error("already complete item should not count as a change")
		}

		items, err := repo.ChecklistItems(ctx, []string{"cl1"})
		if err != nil || len(items["cl1"]) != 2 || !items["cl1"][0].IsCompleted {
			t.Errorf("unexpected items %+v (%v)", items, err)
		}

		if err := repo.InsertAttachment(ctx, models.Attachment{
			ID: "a1", CardID: "c1", FileName: "shot.png", FileSize: 10, MimeType: "image/png", StorageKey: "k", StorageBackend: "small",
		}); err != nil {
			t.Fatalf("failed to insert attachment: %v", err)
		}
		atts, err := repo.AttachmentsByIDs(ctx, []string{"a1"})
		if err != nil || !atts["a1"].IsImage() {
			t.Errorf("expected image attachment, got %+v (%v)", atts, err)
		}

		changed, err = repo.SetCardCover(ctx, "c1", "a1")
		if err != nil || !changed {
			t.Errorf("expected cover change, got %v %v", changed, err)
		}
		changed, _ = repo.SetCardCover(ctx, "c1", "a1")
		if changed {
			t.Error("setting the same cover should not count as a change")
		}
	})

	t.Run("Comments", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewWorkspaceRepository(db)
		seedBoard(t, repo)
		if _, err := repo.InsertCards(ctx, []models.Card{{ID: "c1", BoardID: "b1", Title: "First"}}); err != nil {
			t.Fatalf("failed to insert card: %v", err)
		}

		comments := []models.Comment{
			{ID: "m1", CardID: "c1", UserID: "u1", Body: "hello"},
			{ID: "m2", CardID: "c1", UserID: "u1", Body: "again"},
		}
		if err := repo.InsertComments(ctx, comments); err != nil {
			t.Fatalf("failed to insert comments: %v", err)
		}
		if err := repo.InsertComments(ctx, comments); err != nil {
			t.Fatalf("repeated comment insert should be ignored: %v", err)
		}

		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM comments").Scan(&n); err != nil || n != 2 {
			t.Errorf("expected 2 comments, got %d (%v)", n, err)
		}
	})
}
