package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/boardx/internal/shared"
)

// JobStatus is the lifecycle state of a [MigrationJob].
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// SyncMode selects between create-only imports and reconciling re-runs.
type SyncMode string

const (
	SyncFresh SyncMode = "fresh"
	SyncMerge SyncMode = "merge"
)

// Credentials authenticate against the source API.
//
// Either APIKey and Token, or a bearer AccessToken, must be set.
type Credentials struct {
	APIKey      string `json:"api_key,omitempty" toml:"api_key"`
	Token       string `json:"token,omitempty" toml:"token"`
	AccessToken string `json:"access_token,omitempty" toml:"access_token"`
}

// Empty reports whether no usable credential pair is present.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && (c.APIKey == "" || c.Token == "")
}

// JobConfig is what the caller selected for a migration run.
//
// Per-board maps are keyed by source board id. UserMap keys are source member ids or usernames.
type JobConfig struct {
	Credentials  Credentials         `json:"credentials" toml:"credentials"`
	BoardIDs     []string            `json:"board_ids" toml:"board_ids"`
	BoardTypes   map[string]string   `json:"board_types,omitempty" toml:"board_types"`
	ListFilters  map[string][]string `json:"list_filters,omitempty" toml:"list_filters"`
	MergeTargets map[string]string   `json:"merge_targets,omitempty" toml:"merge_targets"`
	UserMap      map[string]string   `json:"user_map,omitempty" toml:"user_map"`
	SyncMode     SyncMode            `json:"sync_mode" toml:"sync_mode"`
	OwnerID      string              `json:"owner_id" toml:"owner_id"`
}

// Mode returns the sync mode, defaulting to [SyncFresh].
func (c JobConfig) Mode() SyncMode {
	if c.SyncMode == "" {
		return SyncFresh
	}
	return c.SyncMode
}

// BoardType returns the configured board type for a source board, defaulting to "kanban".
func (c JobConfig) BoardType(boardID string) string {
	if t := c.BoardTypes[boardID]; t != "" {
		return t
	}
	return "kanban"
}

// Validate checks that the configuration can drive a run.
func (c JobConfig) Validate() error {
	if c.Credentials.Empty() {
		return shared.ErrMissingCredentials
	}
	if len(c.BoardIDs) == 0 {
		return fmt.Errorf("%w: at least one board id is required", shared.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(c.BoardIDs))
	for _, id := range c.BoardIDs {
		if id == "" {
			return fmt.Errorf("%w: empty board id", shared.ErrInvalidInput)
		}
		if seen[id] {
			return fmt.Errorf("%w: board %s selected twice", shared.ErrInvalidInput, id)
		}
		seen[id] = true
	}
	if m := c.Mode(); m != SyncFresh && m != SyncMerge {
		return fmt.Errorf("%w: unknown sync mode %q", shared.ErrInvalidInput, c.SyncMode)
	}
	return nil
}

// MigrationJob represents one migration run and its persisted state.
type MigrationJob struct {
	id           string
	sequence     int
	status       JobStatus
	config       JobConfig
	progress     Progress
	report       Report
	errorMessage string
	startedAt    *time.Time
	completedAt  *time.Time
	createdAt    time.Time
	updatedAt    time.Time
	deletedAt    *time.Time
}

// NewMigrationJob creates a pending job for the given configuration.
func NewMigrationJob(config JobConfig) *MigrationJob {
	now := time.Now().UTC()
	return &MigrationJob{
		status:    StatusPending,
		config:    config,
		createdAt: now,
		updatedAt: now,
	}
}

func (j *MigrationJob) ID() string              { return j.id }
func (j *MigrationJob) Sequence() int           { return j.sequence }
func (j *MigrationJob) Status() JobStatus       { return j.status }
func (j *MigrationJob) Config() JobConfig       { return j.config }
func (j *MigrationJob) Progress() Progress      { return j.progress }
func (j *MigrationJob) Report() Report          { return j.report }
func (j *MigrationJob) ErrorMessage() string    { return j.errorMessage }
func (j *MigrationJob) StartedAt() *time.Time   { return j.startedAt }
func (j *MigrationJob) CompletedAt() *time.Time { return j.completedAt }
func (j *MigrationJob) CreatedAt() time.Time    { return j.createdAt }
func (j *MigrationJob) UpdatedAt() time.Time    { return j.updatedAt }
func (j *MigrationJob) DeletedAt() *time.Time   { return j.deletedAt }

func (j *MigrationJob) SetID(id string)             { j.id = id }
func (j *MigrationJob) SetSequence(seq int)         { j.sequence = seq }
func (j *MigrationJob) SetStatus(s JobStatus)       { j.status = s }
func (j *MigrationJob) SetProgress(p Progress)      { j.progress = p }
func (j *MigrationJob) SetReport(r Report)          { j.report = r }
func (j *MigrationJob) SetErrorMessage(msg string)  { j.errorMessage = msg }
func (j *MigrationJob) SetStartedAt(t *time.Time)   { j.startedAt = t }
func (j *MigrationJob) SetCompletedAt(t *time.Time) { j.completedAt = t }
func (j *MigrationJob) SetCreatedAt(t time.Time)    { j.createdAt = t }
func (j *MigrationJob) SetUpdatedAt(t time.Time)    { j.updatedAt = t }
func (j *MigrationJob) SetDeletedAt(t *time.Time)   { j.deletedAt = t }
func (j *MigrationJob) SetConfig(config JobConfig)  { j.config = config }

// Validate checks the job's status and configuration.
func (j *MigrationJob) Validate() error {
	if !j.status.Valid() {
		return fmt.Errorf("%w: unknown status %q", shared.ErrInvalidInput, j.status)
	}
	return j.config.Validate()
}
