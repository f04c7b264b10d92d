// package formatter renders migration job reports as JSON, CSV, Markdown or plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/shared"
)

const (
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

// Formats lists the accepted report formats.
func Formats() []string {
	return []string{FormatJSON, FormatCSV, FormatMarkdown, FormatText}
}

// jobDocument is the JSON shape of a job and its report.
type jobDocument struct {
	ID           string          `json:"id"`
	Sequence     int             `json:"sequence"`
	Status       string          `json:"status"`
	SyncMode     string          `json:"sync_mode"`
	Boards       []string        `json:"boards"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Progress     models.Progress `json:"progress"`
	Report       models.Report   `json:"report"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// Render converts a job report to the named format.
func Render(job *models.MigrationJob, format string) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return ReportToJSON(job)
	case FormatCSV:
		return ReportToCSV(job)
	case FormatMarkdown, "md":
		return ReportToMarkdown(job)
	case FormatText, "txt":
		return ReportToText(job)
	}
	return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
}

// ReportToJSON renders the job, its progress and full report. Credentials are never included.
func ReportToJSON(job *models.MigrationJob) ([]byte, error) {
	doc := jobDocument{
		ID:           job.ID(),
		Sequence:     job.Sequence(),
		Status:       string(job.Status()),
		SyncMode:     string(job.Config().Mode()),
		Boards:       job.Config().BoardIDs,
		ErrorMessage: job.ErrorMessage(),
		Progress:     job.Progress(),
		Report:       job.Report(),
		CreatedAt:    job.CreatedAt(),
		StartedAt:    job.StartedAt(),
		CompletedAt:  job.CompletedAt(),
	}
	if doc.Report.Errors == nil {
		doc.Report.Errors = []models.ReportError{}
	}
	return shared.MarshalJSON(doc, true)
}

// ReportToCSV converts a report to CSV with columns: Kind, Name, Value, Phase, Board, Entity, Time.
//
// Counter rows fill Name and Value; error rows fill the message into Value with its location.
func ReportToCSV(job *models.MigrationJob) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Kind", "Name", "Value", "Phase", "Board", "Entity", "Time"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	report := job.Report()
	for _, c := range report.List() {
		if err := writer.Write([]string{"counter", c.Name, strconv.Itoa(c.Value), "", "", "", ""}); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	for _, e := range report.Errors {
		record := []string{"error", "", e.Message, string(e.Phase), e.Board, e.Entity, e.Time.UTC().Format(time.RFC3339)}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// ReportToMarkdown converts a report to a Markdown document with a counter table and an error list.
func ReportToMarkdown(job *models.MigrationJob) ([]byte, error) {
	var buf bytes.Buffer
	report := job.Report()
	progress := job.Progress()

	fmt.Fprintf(&buf, "# Migration job %d\n\n", job.Sequence())
	fmt.Fprintf(&buf, "**ID**: %s\n", job.ID())
	fmt.Fprintf(&buf, "**Status**: %s\n", job.Status())
	fmt.Fprintf(&buf, "**Mode**: %s\n", job.Config().Mode())
	fmt.Fprintf(&buf, "**Phase**: %s (%d/%d)\n", progress.Phase, progress.Current, progress.Total)
	if progress.NeedsResume {
		buf.WriteString("**Needs resume**: yes\n")
	}
	if msg := job.ErrorMessage(); msg != "" {
		fmt.Fprintf(&buf, "**Error**: %s\n", msg)
	}

	buf.WriteString("\n## Counters\n\n| Counter | Value |\n|---|---|\n")
	for _, c := range report.List() {
		fmt.Fprintf(&buf, "| %s | %d |\n", c.Name, c.Value)
	}

	fmt.Fprintf(&buf, "\n## Errors (%d)\n\n", len(report.Errors)+report.ErrorsDropped)
	for i, e := range report.Errors {
		fmt.Fprintf(&buf, "%d. [%s] %s\n", i+1, e.Phase, errorLine(e))
	}
	if report.ErrorsDropped > 0 {
		fmt.Fprintf(&buf, "\n_%d more errors were not recorded._\n", report.ErrorsDropped)
	}
	return buf.Bytes(), nil
}

// ReportToText converts a report to plain text
func ReportToText(job *models.MigrationJob) ([]byte, error) {
	var buf bytes.Buffer
	report := job.Report()
	progress := job.Progress()

	fmt.Fprintf(&buf, "Job: %s (#%d)\n", job.ID(), job.Sequence())
	fmt.Fprintf(&buf, "Status: %s\n", job.Status())
	fmt.Fprintf(&buf, "Phase: %s (%d/%d)", progress.Phase, progress.Current, progress.Total)
	if progress.Detail != "" {
		fmt.Fprintf(&buf, " %s", progress.Detail)
	}
	buf.WriteString("\n")
	if progress.NeedsResume {
		buf.WriteString("Needs resume: yes\n")
	}
	if msg := job.ErrorMessage(); msg != "" {
		fmt.Fprintf(&buf, "Error: %s\n", msg)
	}
	buf.WriteString("\n")

	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	for _, c := range report.List() {
		fmt.Fprintf(tw, "%s\t%d\n", c.Name, c.Value)
	}
	if err := tw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to write counters: %w", err)
	}

	if n := len(report.Errors) + report.ErrorsDropped; n > 0 {
		fmt.Fprintf(&buf, "\nErrors: %d\n", n)
		for _, e := range report.Errors {
			fmt.Fprintf(&buf, "  %s: %s\n", e.Phase, errorLine(e))
		}
	}
	return buf.Bytes(), nil
}

func errorLine(e models.ReportError) string {
	switch {
	case e.Board != "" && e.Entity != "":
		return fmt.Sprintf("%s/%s: %s", e.Board, e.Entity, e.Message)
	case e.Board != "":
		return fmt.Sprintf("%s: %s", e.Board, e.Message)
	case e.Entity != "":
		return fmt.Sprintf("%s: %s", e.Entity, e.Message)
	}
	return e.Message
}

// Extension returns the file extension used for a format.
func Extension(format string) string {
	switch format {
	case FormatCSV:
		return "csv"
	case FormatMarkdown, "md":
		return "md"
	case FormatText, "txt":
		return "txt"
	}
	return "json"
}

// WriteReport renders a report to a file.
//
// Defaults to {job.ID}_report.{ext} as the filename.
func WriteReport(job *models.MigrationJob, format, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("%s_report.%s", job.ID(), Extension(format))
	}

	data, err := Render(job, format)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}
	return path, nil
}

// WriteJobTable writes one aligned row per job: sequence, id, status, phase, boards and cards.
func WriteJobTable(w io.Writer, jobs []*models.MigrationJob) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tSTATUS\tPHASE\tBOARDS\tCARDS\tERRORS\tCREATED")
	for _, j := range jobs {
		report := j.Report()
		status := string(j.Status())
		if j.Progress().NeedsResume && j.Status() == models.StatusPending {
			status += " (resume)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			j.Sequence(), j.ID(), status, j.Progress().Phase,
			report.Boards, report.Cards, len(report.Errors)+report.ErrorsDropped,
			j.CreatedAt().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
