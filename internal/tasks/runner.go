package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/boardx/internal/blob"
	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/services"
	"github.com/desertthunder/boardx/internal/shared"
)

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeSuspended
	outcomeCancelled
	outcomeFailed
)

// MigrationRunner drives a migration job through its boards and phases.
//
// A job is run by repeated invocations of [MigrationRunner.Run]: each one picks up where the ledger
// says the previous one stopped, and returns with the job pending again when the deadline gets close.
type MigrationRunner struct {
	jobs      JobStore
	ledger    Ledger
	dest      Destination
	blobs     *blob.Router
	newSource SourceFactory
	opts      Options
	logger    *log.Logger
	now       func() time.Time
}

// NewMigrationRunner creates a runner. blobs may be nil when no attachment store is configured.
func NewMigrationRunner(jobs JobStore, ledger Ledger, dest Destination, blobs *blob.Router, newSource SourceFactory, opts Options, logger *log.Logger) *MigrationRunner {
	if logger == nil {
		logger = log.Default()
	}
	if opts.DeadlineMargin <= 0 {
		opts.DeadlineMargin = 30 * time.Second
	}
	if opts.DownloadMargin <= 0 {
		opts.DownloadMargin = opts.DeadlineMargin
	}
	return &MigrationRunner{
		jobs:      jobs,
		ledger:    ledger,
		dest:      dest,
		blobs:     blobs,
		newSource: newSource,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes a job until it completes, fails, is cancelled or the deadline comes within the
// safety margin. A zero deadline means no limit.
//
// Jobs already in a terminal status are returned untouched. The returned job is re-read after the
// final status write. A non-nil error means the job failed or ctx ended the run.
func (m *MigrationRunner) Run(ctx context.Context, jobID string, deadline time.Time) (*models.MigrationJob, error) {
	job, err := m.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status().Terminal() {
		m.logger.Info("job already finished", "job", jobID, "status", job.Status())
		return job, nil
	}

	ok, err := m.jobs.Transition(ctx, jobID, []models.JobStatus{models.StatusPending, models.StatusRunning}, models.StatusRunning, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return m.jobs.Get(ctx, jobID)
	}

	logger := shared.WithLogger(m.logger, "job", jobID)
	logger.Info("run started", "boards", len(job.Config().BoardIDs), "mode", job.Config().Mode())

	progress := job.Progress()
	progress.NeedsResume = false
	rep := NewReporter(m.jobs, jobID, progress, job.Report(), m.opts.DetailInterval, logger)
	rep.now = m.now
	rep.MarkResume(false)

	r, err := m.prepare(ctx, job, rep, logger, deadline)
	if err != nil {
		return m.finish(ctx, jobID, rep, logger, outcomeFailed, err)
	}
	defer r.cache.Close()

	out, runErr := m.execute(ctx, r)
	return m.finish(ctx, jobID, rep, logger, out, runErr)
}

func (m *MigrationRunner) prepare(ctx context.Context, job *models.MigrationJob, rep *Reporter, logger *log.Logger, deadline time.Time) (*run, error) {
	counts, err := m.ledger.Counts(ctx, job.ID())
	if err != nil {
		return nil, err
	}
	rep.Update(func(report *models.Report) { rederive(&report.Counters, counts) })

	cache, err := services.NewRunCache(m.opts.CacheEntries)
	if err != nil {
		return nil, err
	}
	source, err := m.newSource(job.Config(), cache)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("failed to create source client: %w", err)
	}

	return &run{
		jobID:    job.ID(),
		cfg:      job.Config(),
		source:   source,
		cache:    cache,
		jobs:     m.jobs,
		ledger:   m.ledger,
		dest:     m.dest,
		blobs:    m.blobs,
		rep:      rep,
		limits:   newLimiters(m.opts.Limits),
		opts:     m.opts,
		logger:   logger,
		deadline: deadline,
		now:      m.now,
	}, nil
}

func (m *MigrationRunner) execute(ctx context.Context, r *run) (out outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = outcomeFailed, fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()

	for i, boardID := range r.cfg.BoardIDs {
		err := r.runBoard(ctx, i, boardID)
		switch {
		case err == nil:
		case errors.Is(err, shared.ErrJobCancelled):
			return outcomeCancelled, nil
		case errors.Is(err, shared.ErrDeadline):
			r.logger.Info("deadline near, suspending", "board", boardID)
			return outcomeSuspended, nil
		case ctx.Err() != nil:
			return outcomeSuspended, ctx.Err()
		case errors.Is(err, shared.ErrPhaseFatal):
			r.rep.AddError(models.PhaseBoard, boardID, "", err)
			if err := r.rep.Checkpoint(ctx); err != nil {
				return outcomeFailed, err
			}
		default:
			return outcomeFailed, err
		}
	}
	return outcomeCompleted, nil
}

// finish writes the final checkpoint and status. Writes use a context detached from ctx's
// cancellation so an interrupted run still leaves a resumable job behind.
func (m *MigrationRunner) finish(ctx context.Context, jobID string, rep *Reporter, logger *log.Logger, out outcome, runErr error) (*models.MigrationJob, error) {
	bg := context.WithoutCancel(ctx)
	running := []models.JobStatus{models.StatusRunning}

	var err error
	switch out {
	case outcomeCompleted:
		progress, _ := rep.Snapshot()
		rep.SetPhase(models.PhaseDone, progress.Total, progress.Total)
		if err = rep.Checkpoint(bg); err == nil {
			_, err = m.jobs.Transition(bg, jobID, running, models.StatusCompleted, "")
		}
		logger.Info("run completed")
	case outcomeSuspended:
		rep.MarkResume(true)
		if err = rep.Checkpoint(bg); err == nil {
			_, err = m.jobs.Transition(bg, jobID, running, models.StatusPending, "")
		}
		logger.Info("run suspended", "needs_resume", true)
	case outcomeCancelled:
		err = rep.Checkpoint(bg)
		logger.Info("run cancelled")
	case outcomeFailed:
		progress, _ := rep.Snapshot()
		rep.AddError(progress.Phase, "", "", runErr)
		if err = rep.Checkpoint(bg); err != nil {
			logger.Error("failed to checkpoint failed job", "err", err)
		}
		_, err = m.jobs.Transition(bg, jobID, running, models.StatusFailed, runErr.Error())
		logger.Error("run failed", "err", runErr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record job outcome: %w", err)
	}

	job, err := m.jobs.Get(bg, jobID)
	if err != nil {
		return nil, err
	}
	return job, runErr
}

// runBoard imports one board phase by phase, checkpointing after each.
func (r *run) runBoard(ctx context.Context, index int, sourceID string) error {
	b := newBoardRun(r, index, sourceID)
	total := len(r.cfg.BoardIDs)
	defer func() {
		for _, kind := range []string{services.CacheCards, services.CacheLabels, services.CacheLists} {
			r.cache.Invalidate(kind, sourceID)
		}
	}()

	phase := func(p models.Phase, guarded bool, fn func(context.Context) error) error {
		if err := r.checkCancelled(ctx); err != nil {
			return err
		}
		if guarded && r.nearDeadline(r.opts.DeadlineMargin) {
			return fmt.Errorf("%w: before %s of board %s", shared.ErrDeadline, p, sourceID)
		}
		r.rep.SetPhase(p, index, total)
		b.logger.Debug("phase started", "phase", p)
		if err := fn(ctx); err != nil {
			return err
		}
		return r.rep.Checkpoint(ctx)
	}

	if err := phase(models.PhaseBoard, false, b.importBoard); err != nil {
		return err
	}
	if err := phase(models.PhaseLabels, false, b.importLabels); err != nil {
		return err
	}
	if err := phase(models.PhaseLists, false, b.importLists); err != nil {
		return err
	}
	if err := phase(models.PhaseCards, true, b.importCards); err != nil {
		return err
	}
	if err := phase(models.PhaseAttachments, true, b.importAttachments); err != nil {
		return err
	}
	if err := phase(models.PhaseCovers, false, b.resolveCovers); err != nil {
		return err
	}
	return phase(models.PhaseComments, true, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return b.importComments(gctx) })
		g.Go(func() error { return b.importChecklists(gctx) })
		return g.Wait()
	})
}

// checkCancelled returns [shared.ErrJobCancelled] once the job row was cancelled externally.
func (r *run) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	status, err := r.jobs.Status(ctx, r.jobID)
	if err != nil {
		return err
	}
	if status == models.StatusCancelled {
		return shared.ErrJobCancelled
	}
	return nil
}
