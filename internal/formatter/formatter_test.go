package formatter

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/shared"
	th "github.com/desertthunder/boardx/internal/testing"
)

func testJob() *models.MigrationJob {
	job := models.NewMigrationJob(models.JobConfig{
		Credentials: models.Credentials{APIKey: "secret-key", Token: "secret-token"},
		BoardIDs:    []string{"tb1", "tb2"},
		SyncMode:    models.SyncMerge,
	})
	job.SetID("job-123")
	job.SetSequence(7)
	job.SetStatus(models.StatusPending)
	job.SetProgress(models.Progress{Phase: models.PhaseAttachments, Current: 1, Total: 2, Detail: "attachments 3/9", NeedsResume: true})
	job.SetReport(models.Report{
		Counters: models.Counters{Boards: 2, Lists: 5, Cards: 40, CardsUpdated: 3},
		Errors: []models.ReportError{
			{Time: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), Phase: models.PhaseCards, Board: "tb1", Entity: "c9", Message: "constraint failed"},
			{Phase: models.PhaseBoard, Board: "tb2", Message: "merge target missing"},
		},
		NeedsResume: true,
	})
	return job
}

func TestRender(t *testing.T) {
	job := testJob()

	t.Run("JSON", func(t *testing.T) {
		data, err := Render(job, FormatJSON)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}

		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if doc["id"] != "job-123" || doc["status"] != "pending" || doc["sync_mode"] != "merge" {
			t.Errorf("unexpected document header: %v", doc)
		}
		report := doc["report"].(map[string]any)
		if report["cards"] != float64(40) {
			t.Errorf("expected 40 cards, got %v", report["cards"])
		}
		if len(report["errors"].([]any)) != 2 {
			t.Errorf("expected 2 errors, got %v", report["errors"])
		}
		if strings.Contains(string(data), "secret") {
			t.Error("credentials must not be rendered")
		}
	})

	t.Run("JSON without errors has empty list", func(t *testing.T) {
		clean := models.NewMigrationJob(models.JobConfig{BoardIDs: []string{"tb1"}})
		data, err := ReportToJSON(clean)
		if err != nil {
			t.Fatalf("ReportToJSON failed: %v", err)
		}
		if !strings.Contains(string(data), `"errors": []`) {
			t.Errorf("expected empty error list, got %s", data)
		}
	})

	t.Run("CSV", func(t *testing.T) {
		data, err := Render(job, FormatCSV)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		output := string(data)

		if !strings.HasPrefix(output, "Kind,Name,Value,Phase,Board,Entity,Time\n") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "counter,cards,40,,,,") {
			t.Errorf("CSV missing cards counter")
		}
		if !strings.Contains(output, "counter,cards_updated,3,,,,") {
			t.Errorf("CSV missing cards_updated counter")
		}
		if !strings.Contains(output, "error,,constraint failed,cards,tb1,c9,2026-01-02T03:04:05Z") {
			t.Errorf("CSV missing error row, got: %s", output)
		}
	})

	t.Run("Markdown", func(t *testing.T) {
		data, err := Render(job, FormatMarkdown)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		output := string(data)

		for _, want := range []string{
			"# Migration job 7",
			"**Status**: pending",
			"**Phase**: attachments (1/2)",
			"**Needs resume**: yes",
			"| cards | 40 |",
			"## Errors (2)",
			"1. [cards] tb1/c9: constraint failed",
			"2. [board] tb2: merge target missing",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got: %s", want, output)
			}
		}
	})

	t.Run("Markdown notes dropped errors", func(t *testing.T) {
		j := testJob()
		r := j.Report()
		r.ErrorsDropped = 5
		j.SetReport(r)

		data, _ := ReportToMarkdown(j)
		if !strings.Contains(string(data), "## Errors (7)") || !strings.Contains(string(data), "_5 more errors were not recorded._") {
			t.Errorf("expected dropped errors to be reported, got: %s", data)
		}
	})

	t.Run("Text", func(t *testing.T) {
		data, err := Render(job, FormatText)
		if err != nil {
			t.Fatalf("Render failed: %v", err)
		}
		output := string(data)

		if !strings.Contains(output, "Job: job-123 (#7)") {
			t.Errorf("Text missing job header")
		}
		if !strings.Contains(output, "Phase: attachments (1/2) attachments 3/9") {
			t.Errorf("Text missing progress detail, got: %s", output)
		}
		if !strings.Contains(output, "Errors: 2") {
			t.Errorf("Text missing error count")
		}
		if !strings.Contains(output, "cards: tb1/c9: constraint failed") {
			t.Errorf("Text missing error line")
		}
	})

	t.Run("Unknown Format", func(t *testing.T) {
		_, err := Render(job, "xml")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestWriteReport(t *testing.T) {
	job := testJob()

	t.Run("explicit path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "report.md")
		got, err := WriteReport(job, FormatMarkdown, path)
		if err != nil {
			t.Fatalf("WriteReport failed: %v", err)
		}
		if got != path {
			t.Errorf("expected %s, got %s", path, got)
		}
		if !strings.Contains(th.MustReadFile(t, path), "# Migration job 7") {
			t.Error("written file missing content")
		}
	})

	t.Run("default path", func(t *testing.T) {
		tempDir := t.TempDir()
		originalDir := th.MustGetwd(t)
		th.MustChdir(t, tempDir)
		defer th.MustChdir(t, originalDir)

		got, err := WriteReport(job, FormatCSV, "")
		if err != nil {
			t.Fatalf("WriteReport failed: %v", err)
		}
		if got != "job-123_report.csv" {
			t.Errorf("unexpected default path %s", got)
		}
		th.AssertFileExists(t, filepath.Join(tempDir, got))
	})

	t.Run("unwritable path", func(t *testing.T) {
		_, err := WriteReport(job, FormatText, filepath.Join(t.TempDir(), "missing", "report.txt"))
		if err == nil {
			t.Error("expected error for missing directory")
		}
	})
}

func TestWriteJobTable(t *testing.T) {
	jobs := []*models.MigrationJob{testJob()}

	t.Run("rows", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteJobTable(&buf, jobs); err != nil {
			t.Fatalf("WriteJobTable failed: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("expected header and one row, got %d lines", len(lines))
		}
		if !strings.HasPrefix(lines[0], "SEQ") {
			t.Errorf("missing header, got %q", lines[0])
		}
		for _, want := range []string{"job-123", "pending (resume)", "attachments"} {
			if !strings.Contains(lines[1], want) {
				t.Errorf("row missing %q: %q", want, lines[1])
			}
		}
	})

	t.Run("write failure", func(t *testing.T) {
		if err := WriteJobTable(&th.FWriter{}, jobs); err == nil {
			t.Error("expected write error")
		}
	})

	t.Run("limited writer", func(t *testing.T) {
		var buf bytes.Buffer
		w := th.NewLimitedWriter(0, 0, &buf)
		if err := WriteJobTable(&w, jobs); err == nil {
			t.Error("expected write limit error")
		}
	})
}
