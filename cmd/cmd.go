// submodule cmd contains command definitions
package main

import (
	"strings"

	"github.com/desertthunder/boardx/internal/formatter"
	"github.com/urfave/cli/v3"
)

func jobIDFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "id",
		Usage:    "Migration job ID",
		Required: true,
	}
}

// configCommand handles configuration files
func configCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration file commands",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Write a default configuration file to the --config path",
				Action: r.ConfigInit,
			},
		},
	}
}

// databaseCommand handles schema migrations of the destination database.
func databaseCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "database",
		Aliases: []string{"db"},
		Usage:   "Destination database commands",
		Commands: []*cli.Command{
			{
				Name:   "setup",
				Usage:  "Initialize database and run migrations",
				Action: r.DatabaseSetup,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recently applied migration",
				Action: r.DatabaseRollback,
			},
			{
				Name:   "status",
				Usage:  "List migrations and when they were applied",
				Action: r.DatabaseStatus,
			},
		},
	}
}

// jobCommand handles migration jobs
func jobCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "job",
		Usage: "Create, run and inspect migration jobs",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a pending job from a TOML job definition",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the job definition",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "api-key",
						Usage:   "Trello API key, overrides the definition",
						Sources: cli.EnvVars("TRELLO_API_KEY"),
					},
					&cli.StringFlag{
						Name:    "token",
						Usage:   "Trello token, overrides the definition",
						Sources: cli.EnvVars("TRELLO_TOKEN"),
					},
					&cli.StringFlag{
						Name:    "access-token",
						Usage:   "OAuth2 bearer token, overrides the definition",
						Sources: cli.EnvVars("TRELLO_ACCESS_TOKEN"),
					},
				},
				Action: r.JobCreate,
			},
			{
				Name:  "run",
				Usage: "Run or resume a job until it finishes or the deadline is near",
				Flags: []cli.Flag{
					jobIDFlag(),
					&cli.DurationFlag{
						Name:  "deadline",
						Usage: "Wall-clock budget for this invocation, 0 for none (default: runner.deadline)",
					},
				},
				Action: r.JobRun,
			},
			{
				Name:  "status",
				Usage: "Show a job's progress and report",
				Flags: []cli.Flag{
					jobIDFlag(),
					&cli.StringFlag{
						Name:  "format",
						Usage: "Report format: " + strings.Join(formatter.Formats(), ", "),
						Value: formatter.FormatText,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the report to a file instead of stdout",
					},
				},
				Action: r.JobStatus,
			},
			{
				Name:  "list",
				Usage: "List jobs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only show jobs in this status",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of jobs to show",
						Value: 20,
					},
				},
				Action: r.JobList,
			},
			{
				Name:   "cancel",
				Usage:  "Cancel a pending or running job",
				Flags:  []cli.Flag{jobIDFlag()},
				Action: r.JobCancel,
			},
			{
				Name:   "relaunch",
				Usage:  "Create a new job from a failed or cancelled job's configuration",
				Flags:  []cli.Flag{jobIDFlag()},
				Action: r.JobRelaunch,
			},
		},
	}
}

// attachmentCommand handles migrated attachments
func attachmentCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "attachment",
		Usage: "Migrated attachment commands",
		Commands: []*cli.Command{
			{
				Name:  "url",
				Usage: "Print a time-limited download URL for a migrated attachment",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "job",
						Usage:    "Migration job ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "source-id",
						Usage:    "Trello attachment ID",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "open",
						Usage: "Open the URL in the system browser",
					},
				},
				Action: r.AttachmentURL,
			},
		},
	}
}
