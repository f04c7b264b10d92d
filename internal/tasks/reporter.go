package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/boardx/internal/models"
)

// DefaultDetailInterval throttles detail-only progress writes.
const DefaultDetailInterval = 2 * time.Second

// Reporter owns a run's progress and report and writes them to the job row.
//
// Counter and error updates stay in memory until the next Checkpoint. Detail messages are
// written on their own at most once per interval.
type Reporter struct {
	mu         sync.Mutex
	jobs       JobStore
	jobID      string
	progress   models.Progress
	report     models.Report
	interval   time.Duration
	lastDetail time.Time
	now        func() time.Time
	logger     *log.Logger
}

// NewReporter creates a reporter seeded with the persisted progress and report.
func NewReporter(jobs JobStore, jobID string, progress models.Progress, report models.Report, interval time.Duration, logger *log.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultDetailInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Reporter{
		jobs:     jobs,
		jobID:    jobID,
		progress: progress,
		report:   report.Clone(),
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Snapshot returns copies of the current progress and report.
func (r *Reporter) Snapshot() (models.Progress, models.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress, r.report.Clone()
}

// Update mutates the report under the reporter's lock.
func (r *Reporter) Update(fn func(*models.Report)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.report)
}

// AddError records a per-entity failure.
func (r *Reporter) AddError(phase models.Phase, board, entity string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.AddError(models.ReportError{
		Time:    r.now().UTC(),
		Phase:   phase,
		Board:   board,
		Entity:  entity,
		Message: err.Error(),
	})
	r.logger.Warn("entity failed", "phase", phase, "board", board, "entity", entity, "err", err)
}

// SetPhase moves progress to a new phase without writing it.
func (r *Reporter) SetPhase(phase models.Phase, current, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.Phase = phase
	r.progress.Current = current
	r.progress.Total = total
	r.progress.Detail = ""
}

// Detail sets the progress detail and writes progress when the throttle interval has passed.
func (r *Reporter) Detail(ctx context.Context, detail string) {
	r.mu.Lock()
	r.progress.Detail = detail
	now := r.now()
	if !r.lastDetail.IsZero() && now.Sub(r.lastDetail) < r.interval {
		r.mu.Unlock()
		return
	}
	r.lastDetail = now
	r.progress.UpdatedAt = now.UTC()
	progress := r.progress
	r.mu.Unlock()

	if err := r.jobs.SaveProgress(ctx, r.jobID, progress); err != nil {
		r.logger.Warn("failed to save progress", "err", err)
	}
}

// MarkResume flags progress and report as needing another invocation.
func (r *Reporter) MarkResume(needs bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress.NeedsResume = needs
	r.report.NeedsResume = needs
}

// Checkpoint writes progress and report to the job row. The job status is never touched.
func (r *Reporter) Checkpoint(ctx context.Context) error {
	r.mu.Lock()
	r.progress.UpdatedAt = r.now().UTC()
	progress := r.progress
	report := r.report.Clone()
	r.mu.Unlock()

	return r.jobs.SaveCheckpoint(ctx, r.jobID, progress, report)
}
