package tasks

import (
	"context"
	"slices"

	"github.com/desertthunder/boardx/internal/models"
)

// importChecklists copies the checklists and items of mapped cards. Checklists mapped by an
// earlier run, or by another job onto the same destination card, only get their missing items;
// merge mode also syncs item completion.
func (b *boardRun) importChecklists(ctx context.Context) error {
	local, err := b.ledger.BatchGet(ctx, b.jobID, models.EntityChecklist, models.EntityChecklistItem)
	if err != nil {
		return err
	}
	others, err := b.ledger.Candidates(ctx, b.jobID, models.EntityCard, models.EntityChecklist, models.EntityChecklistItem)
	if err != nil {
		return err
	}

	var cards []models.SourceCard
	for _, c := range b.cards {
		if _, ok := b.cardIDs[c.ID]; ok {
			cards = append(cards, c)
		}
	}

	_, err = ForEach(ctx, b.limits.checklist, cards, nil, func(ctx context.Context, _ int, c models.SourceCard) error {
		checklists, err := b.source.CardChecklists(ctx, c.ID)
		if err == nil {
			err = b.importCardChecklists(ctx, c.ID, checklists, local, others)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.rep.AddError(models.PhaseChecklists, b.sourceID, c.ID, err)
		}
		return nil
	})
	return err
}

// checklistPlan is what one card's checklists need written.
type checklistPlan struct {
	checklists []models.Checklist
	items      []models.ChecklistItem
	mappings   []models.EntityMapping
	synced     []string        // existing checklists whose items are synced
	sync       map[string]bool // destination item id -> source completion
}

// importCardChecklists writes every new checklist of a card in one insert and every new item in a
// second, then records their mappings.
func (b *boardRun) importCardChecklists(ctx context.Context, cardSourceID string, checklists []models.SourceChecklist, local models.Mappings, others models.Candidates) error {
	checklists = slices.Clone(checklists)
	slices.SortStableFunc(checklists, func(x, y models.SourceChecklist) int {
		return cmpPos(x.Pos, y.Pos, x.ID, y.ID)
	})

	plan := checklistPlan{sync: make(map[string]bool)}
	for pos, cl := range checklists {
		b.planChecklist(&plan, cardSourceID, pos, cl, local, others)
	}

	if err := b.dest.InsertChecklists(ctx, plan.checklists); err != nil {
		return err
	}
	if err := b.dest.InsertChecklistItems(ctx, plan.items); err != nil {
		return err
	}
	if err := b.record(ctx, plan.mappings); err != nil {
		return err
	}
	return b.syncCompletion(ctx, plan.synced, plan.sync)
}

func (b *boardRun) planChecklist(plan *checklistPlan, cardSourceID string, pos int, cl models.SourceChecklist, local models.Mappings, others models.Candidates) {
	target, mapped := local.Target(models.EntityChecklist, cl.ID)
	if !mapped {
		if m, ok := b.ownedByCard(others, models.EntityChecklist, cl.ID, cardSourceID); ok {
			target, mapped = m.TargetID, true
			plan.mappings = append(plan.mappings, b.adopt(m))
		}
	}
	if !mapped {
		target = b.newID(models.EntityChecklist, cl.ID)
		plan.checklists = append(plan.checklists, models.Checklist{
			ID: target, CardID: b.cardIDs[cardSourceID], Title: cl.Name, Position: pos,
		})
		plan.mappings = append(plan.mappings, b.mapping(models.EntityChecklist, cl.ID, target,
			models.MappingMetadata{Name: cl.Name, ResolvedBy: models.ResolvedCreated}))
	}

	if mapped && b.merge() {
		plan.synced = append(plan.synced, target)
	}

	items := slices.Clone(cl.CheckItems)
	slices.SortStableFunc(items, func(x, y models.SourceCheckItem) int {
		return cmpPos(x.Pos, y.Pos, x.ID, y.ID)
	})
	for i, it := range items {
		t, ok := local.Target(models.EntityChecklistItem, it.ID)
		if !ok && mapped {
			if m, found := others.Owned(models.EntityChecklistItem, it.ID, models.EntityChecklist, cl.ID, target); found {
				t, ok = m.TargetID, true
				plan.mappings = append(plan.mappings, b.adopt(m))
			}
		}
		if ok {
			if b.merge() {
				plan.sync[t] = it.Complete()
			}
			continue
		}
		id := b.newID(models.EntityChecklistItem, it.ID)
		plan.items = append(plan.items, models.ChecklistItem{
			ID:          id,
			ChecklistID: target,
			Title:       it.Name,
			IsCompleted: it.Complete(),
			Position:    i,
		})
		plan.mappings = append(plan.mappings, b.mapping(models.EntityChecklistItem, it.ID, id,
			models.MappingMetadata{Name: it.Name, ResolvedBy: models.ResolvedCreated}))
	}
}

// syncCompletion updates the completion state of existing items that differ from the source.
func (b *boardRun) syncCompletion(ctx context.Context, checklistIDs []string, want map[string]bool) error {
	if len(want) == 0 {
		return nil
	}
	existing, err := b.dest.ChecklistItems(ctx, checklistIDs)
	if err != nil {
		return err
	}
	for _, items := range existing {
		for _, it := range items {
			done, ok := want[it.ID]
			if !ok || done == it.IsCompleted {
				continue
			}
			changed, err := b.dest.SetChecklistItemCompleted(ctx, it.ID, done)
			if err != nil {
				return err
			}
			if changed {
				b.rep.Update(func(r *models.Report) { r.ChecklistItemsUpdated++ })
			}
		}
	}
	return nil
}
