package tasks

import (
	"context"
	"slices"

	"github.com/desertthunder/boardx/internal/models"
)

const commentBatchSize = 100

// importComments copies the comments of mapped cards, oldest first. Comments another job already
// copied onto the same destination card are adopted. A failed listing is recorded and skipped so the board's checklists still import.
func (b *boardRun) importComments(ctx context.Context) error {
	actions, err := b.source.CommentActions(ctx, b.sourceID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.rep.AddError(models.PhaseComments, b.sourceID, "", err)
		return nil
	}
	local, err := b.ledger.BatchGet(ctx, b.jobID, models.EntityComment)
	if err != nil {
		return err
	}

	others, err := b.ledger.Candidates(ctx, b.jobID, models.EntityCard, models.EntityComment)
	if err != nil {
		return err
	}

	var copies []models.EntityMapping
	pending := actions[:0]
	for _, a := range actions {
		if _, mapped := b.cardIDs[a.Data.Card.ID]; !mapped || (a.Type != "" && a.Type != "commentCard") {
			continue
		}
		if _, done := local.Target(models.EntityComment, a.ID); done {
			continue
		}
		if m, ok := b.ownedByCard(others, models.EntityComment, a.ID, a.Data.Card.ID); ok {
			copies = append(copies, b.adopt(m))
			continue
		}
		pending = append(pending, a)
	}
	if err := b.record(ctx, copies); err != nil {
		return err
	}
	actions = pending
	slices.SortStableFunc(actions, func(x, y models.SourceAction) int {
		if c := x.Date.Compare(y.Date); c != 0 {
			return c
		}
		return cmpPos(0, 0, x.ID, y.ID)
	})

	for start := 0; start < len(actions); start += commentBatchSize {
		end := min(start+commentBatchSize, len(actions))
		batch := actions[start:end]
		if err := b.insertComments(ctx, batch); err != nil {
			b.logger.Warn("comment batch failed, retrying one by one", "size", len(batch), "err", err)
			for _, a := range batch {
				if err := b.insertComments(ctx, []models.SourceAction{a}); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					b.rep.AddError(models.PhaseComments, b.sourceID, a.ID, err)
				}
			}
		}
		b.rep.Detail(ctx, progressDetail("comments", end, len(actions)))
	}
	b.logger.Debug("comments imported", "count", len(actions))
	return nil
}

func (b *boardRun) insertComments(ctx context.Context, actions []models.SourceAction) error {
	comments := make([]models.Comment, len(actions))
	mappings := make([]models.EntityMapping, len(actions))
	for i, a := range actions {
		author := a.MemberCreator.FullName
		if author == "" {
			author = a.MemberCreator.Username
		}
		target := b.newID(models.EntityComment, a.ID)
		comments[i] = models.Comment{
			ID:         target,
			CardID:     b.cardIDs[a.Data.Card.ID],
			UserID:     b.user(a.IDMemberCreator),
			AuthorName: author,
			Body:       a.Data.Text,
			CreatedAt:  a.Date,
		}
		mappings[i] = b.mapping(models.EntityComment, a.ID, target, models.MappingMetadata{ResolvedBy: models.ResolvedCreated})
	}
	if err := b.dest.InsertComments(ctx, comments); err != nil {
		return err
	}
	return b.record(ctx, mappings)
}
