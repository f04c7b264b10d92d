package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/desertthunder/boardx/internal/formatter"
	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/shared"
	"github.com/urfave/cli/v3"
)

// loadJobConfig reads a TOML job definition. Unknown keys are rejected.
func loadJobConfig(path string) (models.JobConfig, error) {
	var config models.JobConfig
	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return config, fmt.Errorf("%w: failed to parse job definition: %w", shared.ErrInvalidConfig, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return config, fmt.Errorf("%w: unknown keys in job definition: %s", shared.ErrInvalidConfig, strings.Join(keys, ", "))
	}
	return config, nil
}

// JobCreate stores a pending job from a job definition file.
func (r *Runner) JobCreate(ctx context.Context, cmd *cli.Command) error {
	config, err := loadJobConfig(cmd.String("file"))
	if err != nil {
		return err
	}
	if v := cmd.String("api-key"); v != "" {
		config.Credentials.APIKey = v
	}
	if v := cmd.String("token"); v != "" {
		config.Credentials.Token = v
	}
	if v := cmd.String("access-token"); v != "" {
		config.Credentials.AccessToken = v
	}

	s, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	job := models.NewMigrationJob(config)
	if err := s.jobs.Create(ctx, job); err != nil {
		return err
	}

	r.logger.Info("job created", "job", job.ID(), "sequence", job.Sequence(), "boards", len(config.BoardIDs))
	return r.writePlain("%s\n", job.ID())
}

// JobRun runs a job until it finishes or the deadline is near, then prints its report.
//
// An interrupt suspends the run so that the next invocation resumes it.
func (r *Runner) JobRun(ctx context.Context, cmd *cli.Command) error {
	budget := r.config.Runner.Deadline
	if cmd.IsSet("deadline") {
		budget = cmd.Duration("deadline")
	}
	var deadline time.Time
	if budget > 0 {
		deadline = r.now().Add(budget)
	}

	s, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	runner, err := r.migrationRunner(s)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, runErr := runner.Run(ctx, cmd.String("id"), deadline)
	if job != nil {
		data, err := formatter.ReportToText(job)
		if err != nil {
			return err
		}
		if err := r.writePlain("%s", data); err != nil {
			return err
		}
		if job.Status() == models.StatusPending && job.Progress().NeedsResume {
			if err := r.writePlain("\nJob suspended; run again to resume.\n"); err != nil {
				return err
			}
		}
	}
	return runErr
}

// JobStatus renders a job's report to stdout or, with --output, to a file.
func (r *Runner) JobStatus(ctx context.Context, cmd *cli.Command) error {
	s, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	job, err := s.jobs.Get(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	format := cmd.String("format")
	if path := cmd.String("output"); path != "" {
		written, err := formatter.WriteReport(job, format, path)
		if err != nil {
			return err
		}
		r.logger.Info("report written", "path", written)
		return nil
	}

	data, err := formatter.Render(job, format)
	if err != nil {
		return err
	}
	if _, err := r.output.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// JobList prints a table of jobs.
func (r *Runner) JobList(ctx context.Context, cmd *cli.Command) error {
	status := models.JobStatus(cmd.String("status"))
	if status != "" && !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidArgument, status)
	}

	s, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	jobs, err := s.jobs.List(ctx, map[string]any{"status": status, "limit": int(cmd.Int("limit"))})
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return r.writePlain("No jobs found.\n")
	}
	return formatter.WriteJobTable(r.output, jobs)
}

// JobCancel marks a job cancelled. A running job stops at its next phase boundary.
func (r *Runner) JobCancel(ctx context.Context, cmd *cli.Command) error {
	s, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	id := cmd.String("id")
	if err := s.jobs.Cancel(ctx, id); err != nil {
		return err
	}
	r.logger.Info("job cancelled", "job", id)
	return r.writePlain("✓ Cancelled %s\n", id)
}

// JobRelaunch creates a new pending job with the configuration of a failed or cancelled one.
func (r *Runner) JobRelaunch(ctx context.Context, cmd *cli.Command) error {
	s, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	job, err := s.jobs.Relaunch(ctx, cmd.String("id"))
	if err != nil {
		return err
	}
	r.logger.Info("job relaunched", "from", cmd.String("id"), "job", job.ID())
	return r.writePlain("%s\n", job.ID())
}
