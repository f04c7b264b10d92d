package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/shared"
)

// boardRun is the state one board accumulates while its phases run in order.
type boardRun struct {
	*run
	index    int
	sourceID string
	targetID string
	name     string
	logger   *log.Logger

	users      map[string]string  // source member id -> destination user id
	labels     map[string]string  // source label id -> destination label id
	labelNames map[string]string  // source label id -> display name
	lists      map[string]string  // source list id -> destination list id
	listPos    map[string]float64 // source list id -> source position
	cards      []models.SourceCard
	cardIDs    map[string]string // source card id -> destination card id
}

// ownedByCard returns another job's mapping of a card child when that job attached the child to
// the same destination card this job mapped cardSourceID to.
func (b *boardRun) ownedByCard(others models.Candidates, t models.EntityType, sourceID, cardSourceID string) (models.EntityMapping, bool) {
	card, ok := b.cardIDs[cardSourceID]
	if !ok {
		return models.EntityMapping{}, false
	}
	return others.Owned(t, sourceID, models.EntityCard, cardSourceID, card)
}

func newBoardRun(r *run, index int, sourceID string) *boardRun {
	return &boardRun{
		run:        r,
		index:      index,
		sourceID:   sourceID,
		logger:     r.logger.With("board", sourceID),
		users:      make(map[string]string),
		labels:     make(map[string]string),
		labelNames: make(map[string]string),
		lists:      make(map[string]string),
		listPos:    make(map[string]float64),
		cardIDs:    make(map[string]string),
	}
}

// phaseFatal marks err as fatal for this board only.
func phaseFatal(err error) error {
	return fmt.Errorf("%w: %w", shared.ErrPhaseFatal, err)
}

// importBoard resolves the destination board: local ledger, operator merge target, cross-job
// ledger, same-named board of the owner, and finally a new board.
func (b *boardRun) importBoard(ctx context.Context) error {
	src, err := b.source.Board(ctx, b.sourceID)
	if err != nil {
		return phaseFatal(err)
	}
	b.name = src.Name
	b.loadUsers(ctx)

	if m, ok, err := b.ledger.Get(ctx, b.jobID, models.EntityBoard, b.sourceID); err != nil {
		return err
	} else if ok {
		b.targetID = m.TargetID
		return nil
	}

	target, resolution, err := b.resolveBoard(ctx, src)
	if err != nil {
		return err
	}
	if target == "" {
		target = b.newID(models.EntityBoard, b.sourceID)
		err := b.dest.InsertBoard(ctx, models.Board{
			ID:          target,
			OwnerID:     b.cfg.OwnerID,
			Name:        src.Name,
			Description: src.Desc,
			BoardType:   b.cfg.BoardType(b.sourceID),
		})
		if err != nil {
			return err
		}
		resolution = models.ResolvedCreated
	}

	b.targetID = target
	meta := models.MappingMetadata{Name: src.Name, ResolvedBy: resolution, Reused: resolution != models.ResolvedCreated}
	b.logger.Info("board mapped", "target", target, "resolved_by", resolution)
	return b.record(ctx, []models.EntityMapping{b.mapping(models.EntityBoard, b.sourceID, target, meta)})
}

// resolveBoard returns an existing destination board for src, or "" when one must be created.
func (b *boardRun) resolveBoard(ctx context.Context, src *models.SourceBoard) (string, models.Resolution, error) {
	if target := b.cfg.MergeTargets[b.sourceID]; target != "" {
		_, ok, err := b.dest.Board(ctx, target)
		if err != nil {
			return "", "", err
		}
		if !ok {
			return "", "", phaseFatal(fmt.Errorf("%w: merge target board %s", shared.ErrNotFound, target))
		}
		return target, models.ResolvedMergeTarget, nil
	}

	global, err := b.ledger.Global(ctx, b.jobID, models.EntityBoard)
	if err != nil {
		return "", "", err
	}
	if target, ok := global.Target(models.EntityBoard, b.sourceID); ok {
		_, exists, err := b.dest.Board(ctx, target)
		if err != nil {
			return "", "", err
		}
		if exists {
			return target, models.ResolvedCrossJob, nil
		}
	}

	boards, err := b.dest.BoardsByOwner(ctx, b.cfg.OwnerID)
	if err != nil {
		return "", "", err
	}
	want := shared.NormalizeName(src.Name)
	for _, existing := range boards {
		if shared.NormalizeName(existing.Name) == want {
			return existing.ID, models.ResolvedName, nil
		}
	}
	return "", "", nil
}

// loadUsers builds the member mapping. Explicit member id keys win over usernames.
// A failed member fetch leaves only the id keys usable and is recorded.
func (b *boardRun) loadUsers(ctx context.Context) {
	for key, user := range b.cfg.UserMap {
		b.users[key] = user
	}

	members, err := b.source.Members(ctx, b.sourceID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			b.rep.AddError(models.PhaseBoard, b.sourceID, "members", err)
		}
		return
	}
	for _, m := range members {
		if _, ok := b.cfg.UserMap[m.ID]; ok {
			continue
		}
		if user, ok := b.cfg.UserMap[m.Username]; ok {
			b.users[m.ID] = user
		}
	}
}

// user maps a source member to a destination user, falling back to the job owner.
func (b *boardRun) user(memberID string) string {
	if u, ok := b.users[memberID]; ok {
		return u
	}
	return b.cfg.OwnerID
}
