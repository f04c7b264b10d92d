package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := shared.RunMigrations(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

func testJobConfig() models.JobConfig {
	return models.JobConfig{
		Credentials: models.Credentials{APIKey: "key", Token: "token"},
		BoardIDs:    []string{"b1"},
		SyncMode:    models.SyncFresh,
		OwnerID:     "owner-1",
	}
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seq1, err := NextSequence(ctx, db, "migration_jobs")
	if err != nil {
		t.Fatalf("failed to get first sequence: %v", err)
	}
	if seq1 != 1 {
		t.Errorf("expected first sequence to be 1, got %d", seq1)
	}

	seq2, err := NextSequence(ctx, db, "migration_jobs")
	if err != nil {
		t.Fatalf("failed to get second sequence: %v", err)
	}
	if seq2 != 2 {
		t.Errorf("expected second sequence to be 2, got %d", seq2)
	}

	if _, err := NextSequence(ctx, db, "missing"); err == nil {
		t.Error("expected error for unknown sequence table")
	}
}

func TestJobRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewJobRepository(db)
		job := models.NewMigrationJob(testJobConfig())

		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}
		if job.ID() == "" {
			t.Error("job ID should be set after creation")
		}
		if job.Sequence() != 1 {
			t.Errorf("expected sequence 1, got %d", job.Sequence())
		}
	})

	t.Run("Create Validation", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewJobRepository(db)

		noCreds := testJobConfig()
		noCreds.Credentials = models.Credentials{}
		if err := repo.Create(ctx, models.NewMigrationJob(noCreds)); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}

		noBoards := testJobConfig()
		noBoards.BoardIDs = nil
		if err := repo.Create(ctx, models.NewMigrationJob(noBoards)); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}

		badMode := testJobConfig()
		badMode.SyncMode = "mirror"
		if err := repo.Create(ctx, models.NewMigrationJob(badMode)); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("Get", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewJobRepository(db)
		config := testJobConfig()
		config.UserMap = map[string]string{"m1": "u1"}
		config.ListFilters = map[string][]string{"b1": {"l1"}}
		job := models.NewMigrationJob(config)
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}

		got, err := repo.Get(ctx, job.ID())
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if got.Status() != models.StatusPending {
			t.Errorf("expected pending, got %s", got.Status())
		}
		if got.Config().UserMap["m1"] != "u1" || got.Config().ListFilters["b1"][0] != "l1" {
			t.Errorf("config did not round trip: %+v", got.Config())
		}
		if got.StartedAt() != nil {
			t.Error("new job should not have started")
		}

		if _, err := repo.Get(ctx, "missing"); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("Transition", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewJobRepository(db)
		job := models.NewMigrationJob(testJobConfig())
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}

		ok, err := repo.Transition(ctx, job.ID(), []models.JobStatus{models.StatusPending}, models.StatusRunning, "")
		if err != nil || !ok {
			t.Fatalf("expected pending -> running, got %v %v", ok, err)
		}

		ok, err = repo.Transition(ctx, job.ID(), []models.JobStatus{models.StatusPending}, models.StatusRunning, "")
		if err != nil || ok {
			t.Fatalf("expected no transition from running, got %v %v", ok, err)
		}

		ok, err = repo.Transition(ctx, job.ID(), []models.JobStatus{models.StatusRunning}, models.StatusFailed, "boom")
		if err != nil || !ok {
			t.Fatalf("expected running -> failed, got %v %v", ok, err)
		}

		got, err := repo.Get(ctx, job.ID())
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if got.Status() != models.StatusFailed || got.ErrorMessage() != "boom" {
			t.Errorf("unexpected job state %s %q", got.Status(), got.ErrorMessage())
		}
		if got.StartedAt() == nil || got.CompletedAt() == nil {
			t.Error("expected started_at and completed_at to be set")
		}

		if _, err := repo.Transition(ctx, "missing", []models.JobStatus{models.StatusPending}, models.StatusRunning, ""); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("SaveCheckpoint Keeps Status", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewJobRepository(db)
		job := models.NewMigrationJob(testJobConfig())
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}
		if err := repo.Cancel(ctx, job.ID()); err != nil {
			t.Fatalf("failed to cancel job: %v", err)
		}

		report := models.Report{Counters: models.Counters{Cards: 7}}
		report.AddError(models.ReportError{Phase: models.PhaseCards, Message: "bad card"})
		progress := models.Progress{Current: 1, Total: 2, Phase: models.PhaseCards}
		if err := repo.SaveCheckpoint(ctx, job.ID(), progress, report); err != nil {
			t.Fatalf("failed to save checkpoint: %v", err)
		}

		got, err := repo.Get(ctx, job.ID())
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if got.Status() != models.StatusCancelled {
			t.Errorf("checkpoint must not overwrite status, got %s", got.Status())
		}
		if got.Report().Cards != 7 || len(got.Report().Errors) != 1 {
			t.Errorf("report did not round trip: %+v", got.Report())
		}
		if got.Progress().Phase != models.PhaseCards {
			t.Errorf("progress did not round trip: %+v", got.Progress())
		}

		if err := repo.SaveProgress(ctx, job.ID(), models.Progress{Phase: models.PhaseComments}); err != nil {
			t.Fatalf("failed to save progress: %v", err)
		}
		got, _ = repo.Get(ctx, job.ID())
		if got.Progress().Phase != models.PhaseComments || got.Report().Cards != 7 {
			t.Error("SaveProgress should only replace progress")
		}
	})

	t.Run("Cancel And Relaunch", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewJobRepository(db)
		job := models.NewMigrationJob(testJobConfig())
		if err := repo.Create(ctx, job); err != nil {
			t.Fatalf("failed to create job: %v", err)
		}

		if _, err := repo.Relaunch(ctx, job.ID()); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("pending job should not relaunch, got %v", err)
		}

		if err := repo.Cancel(ctx, job.ID()); err != nil {
			t.Fatalf("failed to cancel: %v", err)
		}
		if err := repo.Cancel(ctx, job.ID()); !errors.Is(err, shared.ErrJobTerminal) {
			t.Errorf("expected ErrJobTerminal on second cancel, got %v", err)
		}

		relaunched, err := repo.Relaunch(ctx, job.ID())
		if err != nil {
			t.Fatalf("failed to relaunch: %v", err)
		}
		if relaunched.ID() == job.ID() || relaunched.Status() != models.StatusPending {
			t.Errorf("expected a new pending job, got %s %s", relaunched.ID(), relaunched.Status())
		}
		if relaunched.Config().OwnerID != "owner-1" {
			t.Error("relaunched job should copy the configuration")
		}
	})

	t.Run("List And Delete", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewJobRepository(db)
		var ids []string
		for range 3 {
			job := models.NewMigrationJob(testJobConfig())
			if err := repo.Create(ctx, job); err != nil {
				t.Fatalf("failed to create job: %v", err)
			}
			ids = append(ids, job.ID())
		}
		if err := repo.Cancel(ctx, ids[0]); err != nil {
			t.Fatalf("failed to cancel: %v", err)
		}

		all, err := repo.List(ctx, nil)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(all) != 3 || all[0].ID() != ids[2] {
			t.Errorf("expected 3 jobs newest first, got %d", len(all))
		}

		pending, err := repo.List(ctx, map[string]any{"status": models.StatusPending})
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(pending) != 2 {
			t.Errorf("expected 2 pending jobs, got %d", len(pending))
		}

		limited, _ := repo.List(ctx, map[string]any{"limit": 1})
		if len(limited) != 1 {
			t.Errorf("expected 1 job with limit, got %d", len(limited))
		}

		if err := repo.Delete(ctx, ids[1]); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		if _, err := repo.Get(ctx, ids[1]); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("deleted job should not be found, got %v", err)
		}
		if err := repo.Delete(ctx, ids[1]); !errors.Is(err, shared.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound deleting twice, got %v", err)
		}
	})
}
