package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/boardx/internal/blob"
	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/services"
	"github.com/desertthunder/boardx/internal/shared"
)

// JobStore is the job persistence the runner depends on.
type JobStore interface {
	Get(ctx context.Context, id string) (*models.MigrationJob, error)
	Status(ctx context.Context, id string) (models.JobStatus, error)
	Transition(ctx context.Context, id string, from []models.JobStatus, to models.JobStatus, errorMessage string) (bool, error)
	SaveCheckpoint(ctx context.Context, id string, progress models.Progress, report models.Report) error
	SaveProgress(ctx context.Context, id string, progress models.Progress) error
}

// Ledger is the idempotency map consulted before every creation.
type Ledger interface {
	Get(ctx context.Context, jobID string, t models.EntityType, sourceID string) (models.EntityMapping, bool, error)
	Record(ctx context.Context, m models.EntityMapping) error
	RecordBatch(ctx context.Context, ms []models.EntityMapping) error
	BatchGet(ctx context.Context, jobID string, types ...models.EntityType) (models.Mappings, error)
	Global(ctx context.Context, excludeJobID string, types ...models.EntityType) (models.Mappings, error)
	Candidates(ctx context.Context, excludeJobID string, types ...models.EntityType) (models.Candidates, error)
	PutManifest(ctx context.Context, jobID, boardSourceID, boardTargetID string, entries []models.ManifestEntry) error
	Manifest(ctx context.Context, jobID, boardSourceID string) ([]models.ManifestEntry, bool, error)
	Counts(ctx context.Context, jobID string) (map[models.EntityType]int, error)
}

// Destination is the write API of the target workspace.
type Destination interface {
	Board(ctx context.Context, id string) (models.Board, bool, error)
	BoardsByOwner(ctx context.Context, ownerID string) ([]models.Board, error)
	InsertBoard(ctx context.Context, b models.Board) error

	ListsByBoard(ctx context.Context, boardID string) ([]models.List, error)
	InsertLists(ctx context.Context, lists []models.List) error
	LabelsByBoard(ctx context.Context, boardID string) ([]models.Label, error)
	InsertLabels(ctx context.Context, labels []models.Label) error

	InsertCards(ctx context.Context, cards []models.Card) ([]string, error)
	CardsByIDs(ctx context.Context, ids []string) (map[string]models.Card, error)
	UpdateCardFields(ctx context.Context, c models.Card) (bool, error)
	SetCardCover(ctx context.Context, cardID, attachmentID string) (bool, error)

	PlacementsByCards(ctx context.Context, cardIDs []string) (map[string][]models.Placement, error)
	PlacementsByLists(ctx context.Context, listIDs []string) ([]models.Placement, error)
	MaxPositions(ctx context.Context, listIDs []string) (map[string]int, error)
	InsertPlacements(ctx context.Context, placements []models.Placement) error
	MovePlacement(ctx context.Context, placementID, listID string, position int) error
	SetPlacementPosition(ctx context.Context, placementID string, position int) (bool, error)
	DeletePlacements(ctx context.Context, ids []string) (int, error)

	InsertCardLabels(ctx context.Context, links []models.CardLabel) error
	InsertCardAssignees(ctx context.Context, links []models.CardAssignee) error
	ReplaceCardLabels(ctx context.Context, cardID string, labelIDs []string) error
	ReplaceCardAssignees(ctx context.Context, cardID string, userIDs []string) error
	CardLabelIDs(ctx context.Context, cardID string) ([]string, error)
	CardAssigneeIDs(ctx context.Context, cardID string) ([]string, error)

	InsertComments(ctx context.Context, comments []models.Comment) error
	InsertChecklists(ctx context.Context, checklists []models.Checklist) error
	InsertChecklistItems(ctx context.Context, items []models.ChecklistItem) error
	ChecklistItems(ctx context.Context, checklistIDs []string) (map[string][]models.ChecklistItem, error)
	SetChecklistItemCompleted(ctx context.Context, itemID string, done bool) (bool, error)

	InsertAttachment(ctx context.Context, a models.Attachment) error
	AttachmentsByIDs(ctx context.Context, ids []string) (map[string]models.Attachment, error)
}

// SourceFactory builds the source client of one run. The cache is owned by that run.
type SourceFactory func(config models.JobConfig, cache *services.RunCache) (services.Source, error)

// Options tunes a [MigrationRunner].
type Options struct {
	Limits         shared.LimitsConfig
	DeadlineMargin time.Duration
	DownloadMargin time.Duration
	DetailInterval time.Duration
	CacheEntries   int64
}

// OptionsFromConfig reads runner options from the application configuration.
func OptionsFromConfig(cfg *shared.Config) Options {
	return Options{
		Limits:         cfg.Limits,
		DeadlineMargin: cfg.Runner.DeadlineMargin,
		DownloadMargin: cfg.Runner.DownloadMargin,
		DetailInterval: cfg.Runner.DetailInterval,
		CacheEntries:   cfg.Runner.CacheEntries,
	}
}

// DefaultOptions returns the options of the embedded default configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(shared.DefaultConfig())
}

type limiters struct {
	scan       *Limiter
	download   *Limiter
	checklist  *Limiter
	cardUpdate *Limiter
	position   *Limiter
	cover      *Limiter
}

func newLimiters(l shared.LimitsConfig) limiters {
	return limiters{
		scan:       NewLimiter(l.AttachmentScan),
		download:   NewLimiter(l.AttachmentDownload),
		checklist:  NewLimiter(l.ChecklistFetch),
		cardUpdate: NewLimiter(l.CardUpdate),
		position:   NewLimiter(l.PositionSync),
		cover:      NewLimiter(l.CoverResolution),
	}
}

// run is everything one Runner invocation shares between boards and phases.
type run struct {
	jobID    string
	cfg      models.JobConfig
	source   services.Source
	cache    *services.RunCache
	jobs     JobStore
	ledger   Ledger
	dest     Destination
	blobs    *blob.Router
	rep      *Reporter
	limits   limiters
	opts     Options
	logger   *log.Logger
	deadline time.Time
	now      func() time.Time
}

func (r *run) merge() bool {
	return r.cfg.Mode() == models.SyncMerge
}

// nearDeadline reports whether less than margin is left before the deadline.
func (r *run) nearDeadline(margin time.Duration) bool {
	if r.deadline.IsZero() {
		return false
	}
	return !r.now().Add(margin).Before(r.deadline)
}

// record writes new mappings of this job and bumps the matching report counters.
func (r *run) record(ctx context.Context, ms []models.EntityMapping) error {
	var err error
	switch len(ms) {
	case 0:
		return nil
	case 1:
		err = r.ledger.Record(ctx, ms[0])
	default:
		err = r.ledger.RecordBatch(ctx, ms)
	}
	if err != nil {
		return err
	}
	r.rep.Update(func(rep *models.Report) {
		for _, m := range ms {
			addCount(&rep.Counters, m.SourceType, 1)
		}
	})
	return nil
}

func (r *run) mapping(t models.EntityType, sourceID, targetID string, meta models.MappingMetadata) models.EntityMapping {
	return models.EntityMapping{JobID: r.jobID, SourceType: t, SourceID: sourceID, TargetID: targetID, Metadata: meta}
}

// adopt copies a mapping another job recorded into this job.
func (r *run) adopt(m models.EntityMapping) models.EntityMapping {
	meta := m.Metadata
	meta.Reused, meta.ResolvedBy, meta.SourceJobID = true, models.ResolvedCrossJob, m.JobID
	return r.mapping(m.SourceType, m.SourceID, m.TargetID, meta)
}

// newID derives the destination id of a row this job creates.
func (r *run) newID(t models.EntityType, sourceID string) string {
	return shared.TargetID(r.jobID, string(t), sourceID)
}

func progressDetail(what string, done, total int) string {
	return fmt.Sprintf("%s %d/%d", what, done, total)
}

// addCount adds n to the ledger-backed counter of t.
func addCount(c *models.Counters, t models.EntityType, n int) {
	switch t {
	case models.EntityBoard:
		c.Boards += n
	case models.EntityList:
		c.Lists += n
	case models.EntityLabel:
		c.Labels += n
	case models.EntityCard:
		c.Cards += n
	case models.EntityComment:
		c.Comments += n
	case models.EntityChecklist:
		c.Checklists += n
	case models.EntityAttachment:
		c.Attachments += n
	}
}

// rederive replaces the ledger-backed counters with ledger row counts.
func rederive(c *models.Counters, counts map[models.EntityType]int) {
	for _, t := range models.CountedEntities {
		addCount(c, t, counts[t]-count(*c, t))
	}
}

func count(c models.Counters, t models.EntityType) int {
	switch t {
	case models.EntityBoard:
		return c.Boards
	case models.EntityList:
		return c.Lists
	case models.EntityLabel:
		return c.Labels
	case models.EntityCard:
		return c.Cards
	case models.EntityComment:
		return c.Comments
	case models.EntityChecklist:
		return c.Checklists
	case models.EntityAttachment:
		return c.Attachments
	}
	return 0
}
