package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/boardx/internal/blob"
	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/repositories"
	"github.com/desertthunder/boardx/internal/services"
	"github.com/desertthunder/boardx/internal/shared"
	"github.com/desertthunder/boardx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config      *shared.Config
	configPath  string
	logger      *log.Logger
	output      io.Writer
	openBrowser func(ctx context.Context, url string) error
	now         func() time.Time
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config      *shared.Config
	ConfigPath  string
	Logger      *log.Logger
	Output      io.Writer
	OpenBrowser func(ctx context.Context, url string) error
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	return &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		logger:      opts.Logger,
		output:      opts.Output,
		openBrowser: opts.OpenBrowser,
		now:         time.Now,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		configCommand, databaseCommand, jobCommand, attachmentCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// Before loads the configuration named by --config when the file exists and applies its log level.
// A missing file keeps the defaults so that `config init` and first runs work.
func (r *Runner) Before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	r.configPath = path

	if _, err := os.Stat(path); err == nil {
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config = config
	} else {
		r.logger.Debug("config file not found, using defaults", "path", path)
	}

	shared.SetLogLevelString(r.logger, r.config.Log.Level)
	return ctx, nil
}

// store is the set of repositories backed by one database connection.
type store struct {
	db        *sql.DB
	jobs      *repositories.JobRepository
	ledger    *repositories.LedgerRepository
	workspace *repositories.WorkspaceRepository
}

func (s *store) Close() error { return s.db.Close() }

// openStore opens the configured database and applies pending migrations.
func (r *Runner) openStore(ctx context.Context) (*store, error) {
	db, err := r.openDatabase()
	if err != nil {
		return nil, err
	}
	if err := shared.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &store{
		db:        db,
		jobs:      repositories.NewJobRepository(db),
		ledger:    repositories.NewLedgerRepository(db),
		workspace: repositories.NewWorkspaceRepository(db),
	}, nil
}

func (r *Runner) openDatabase() (*sql.DB, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
	return db, nil
}

// sourceFactory builds Trello clients for each run from the [source] settings and the job's credentials.
func (r *Runner) sourceFactory() tasks.SourceFactory {
	src := r.config.Source
	return func(config models.JobConfig, cache *services.RunCache) (services.Source, error) {
		retry := services.DefaultRetryPolicy()
		if src.MaxAttempts > 0 {
			retry.MaxAttempts = src.MaxAttempts
		}
		return services.NewTrelloService(services.TrelloOptions{
			BaseURL:           src.BaseURL,
			Credentials:       config.Credentials,
			RequestsPerSecond: src.RequestsPerSecond,
			Burst:             src.Burst,
			Timeout:           src.Timeout,
			Retry:             retry,
			Cache:             cache,
			Logger:            r.logger,
		})
	}
}

// migrationRunner wires a [tasks.MigrationRunner] to s and the configured blob stores.
func (r *Runner) migrationRunner(s *store) (*tasks.MigrationRunner, error) {
	router, err := blob.NewRouter(r.config.Blob)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob storage: %w", err)
	}
	opts := tasks.OptionsFromConfig(r.config)
	return tasks.NewMigrationRunner(s.jobs, s.ledger, s.workspace, router, r.sourceFactory(), opts, r.logger), nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
