package tasks

import (
	"context"
	"slices"
	"strings"
	"unicode"

	"github.com/desertthunder/boardx/internal/models"
)

const (
	cardBatchSize = 50

	// placementType seeds placement ids; placements have no ledger rows of their own.
	placementType models.EntityType = "placement"
)

var priorityRank = map[string]int{
	models.PriorityLow:    1,
	models.PriorityMedium: 2,
	models.PriorityHigh:   3,
	models.PriorityUrgent: 4,
}

// cardRow is one card with everything written alongside it.
type cardRow struct {
	src       models.SourceCard
	card      models.Card
	placement models.Placement
	labels    []models.CardLabel
	assignees []models.CardAssignee
	mapping   models.EntityMapping
}

// importCards maps the open cards on mapped lists, in (list, card position, id) order.
//
// Cards mapped by this job are kept, cards mapped by another job onto this board are adopted, and the
// rest are created in batches. Merge mode then reconciles fields, placements and associations.
func (b *boardRun) importCards(ctx context.Context) error {
	cards, err := b.source.Cards(ctx, b.sourceID)
	if err != nil {
		return phaseFatal(err)
	}
	cards = slices.DeleteFunc(cards, func(c models.SourceCard) bool {
		_, mapped := b.lists[c.IDList]
		return c.Closed || !mapped
	})
	slices.SortStableFunc(cards, func(a, c models.SourceCard) int {
		if pa, pc := b.listPos[a.IDList], b.listPos[c.IDList]; pa != pc || a.IDList != c.IDList {
			return cmpPos(pa, pc, a.IDList, c.IDList)
		}
		return cmpPos(a.Pos, c.Pos, a.ID, c.ID)
	})
	b.cards = cards

	local, err := b.ledger.BatchGet(ctx, b.jobID, models.EntityCard)
	if err != nil {
		return err
	}

	var mapped, unmapped []models.SourceCard
	for _, c := range cards {
		if target, ok := local.Target(models.EntityCard, c.ID); ok {
			b.cardIDs[c.ID] = target
			mapped = append(mapped, c)
		} else {
			unmapped = append(unmapped, c)
		}
	}

	toCreate, adopted, err := b.adoptCards(ctx, unmapped)
	if err != nil {
		return err
	}
	mapped = append(mapped, adopted...)

	next, err := b.nextPositions(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(toCreate); start += cardBatchSize {
		end := min(start+cardBatchSize, len(toCreate))
		if err := b.createCards(ctx, toCreate[start:end], next); err != nil {
			return err
		}
		b.rep.Detail(ctx, progressDetail("cards", end, len(toCreate)))
	}
	b.logger.Info("cards mapped", "total", len(cards), "created", len(toCreate), "adopted", len(adopted))

	if !b.merge() {
		return nil
	}
	if err := b.reconcileCards(ctx, mapped); err != nil {
		return err
	}
	if err := b.resyncPositions(ctx); err != nil {
		return err
	}
	return b.removeStalePlacements(ctx)
}

// adoptCards copies mappings other jobs made for cards that still exist on this board.
// The oldest such mapping wins.
func (b *boardRun) adoptCards(ctx context.Context, unmapped []models.SourceCard) (toCreate, adopted []models.SourceCard, err error) {
	if len(unmapped) == 0 {
		return nil, nil, nil
	}
	others, err := b.ledger.Candidates(ctx, b.jobID, models.EntityCard)
	if err != nil {
		return nil, nil, err
	}

	var candidates []string
	for _, c := range unmapped {
		for _, m := range others[models.MappingKey{Type: models.EntityCard, SourceID: c.ID}] {
			candidates = append(candidates, m.TargetID)
		}
	}
	existing, err := b.dest.CardsByIDs(ctx, candidates)
	if err != nil {
		return nil, nil, err
	}

	var copies []models.EntityMapping
	for _, c := range unmapped {
		m, ok := others.Find(models.EntityCard, c.ID, func(m models.EntityMapping) bool {
			card, exists := existing[m.TargetID]
			return exists && card.BoardID == b.targetID
		})
		if !ok {
			toCreate = append(toCreate, c)
			continue
		}
		copies = append(copies, b.adopt(m))
		b.cardIDs[c.ID] = m.TargetID
		adopted = append(adopted, c)
	}
	return toCreate, adopted, b.record(ctx, copies)
}

// nextPositions returns, per mapped list, the position after its highest placement.
func (b *boardRun) nextPositions(ctx context.Context) (map[string]int, error) {
	targets := b.targetLists()
	highest, err := b.dest.MaxPositions(ctx, targets)
	if err != nil {
		return nil, err
	}
	next := make(map[string]int, len(targets))
	for _, l := range targets {
		if p, ok := highest[l]; ok {
			next[l] = p + 1
		}
	}
	return next, nil
}

func (b *boardRun) targetLists() []string {
	var out []string
	for _, t := range b.lists {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}

// createCards inserts a batch with multi-row statements, falling back to one card at a time
// when the batch fails so a single bad row cannot block the others.
func (b *boardRun) createCards(ctx context.Context, batch []models.SourceCard, next map[string]int) error {
	rows := make([]cardRow, len(batch))
	for i, c := range batch {
		rows[i] = b.buildCard(c, next)
	}

	err := b.insertCards(ctx, rows)
	if err == nil {
		return nil
	}
	b.logger.Warn("card batch failed, retrying one by one", "size", len(rows), "err", err)

	for _, row := range rows {
		if err := b.insertCards(ctx, []cardRow{row}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.rep.AddError(models.PhaseCards, b.sourceID, row.src.ID, err)
		}
	}
	return nil
}

func (b *boardRun) buildCard(c models.SourceCard, next map[string]int) cardRow {
	target := b.newID(models.EntityCard, c.ID)
	list := b.lists[c.IDList]
	pos := next[list]
	next[list] = pos + 1

	row := cardRow{
		src: c,
		card: models.Card{
			ID:          target,
			BoardID:     b.targetID,
			Title:       c.Name,
			Description: c.Desc,
			DueDate:     c.Due,
			Priority:    b.priority(c.IDLabels),
		},
		placement: models.Placement{
			ID:        b.newID(placementType, c.ID),
			CardID:    target,
			ListID:    list,
			Position:  pos,
			IsPrimary: true,
		},
		mapping: b.mapping(models.EntityCard, c.ID, target, models.MappingMetadata{Name: c.Name, ResolvedBy: models.ResolvedCreated}),
	}
	for _, id := range b.cardLabels(c) {
		row.labels = append(row.labels, models.CardLabel{CardID: target, LabelID: id})
	}
	for _, id := range b.cardAssignees(c) {
		row.assignees = append(row.assignees, models.CardAssignee{CardID: target, UserID: id})
	}
	return row
}

func (b *boardRun) insertCards(ctx context.Context, rows []cardRow) error {
	cards := make([]models.Card, len(rows))
	for i, r := range rows {
		cards[i] = r.card
	}
	ids, err := b.dest.InsertCards(ctx, cards)
	if err != nil {
		return err
	}

	var (
		placements []models.Placement
		labels     []models.CardLabel
		assignees  []models.CardAssignee
		mappings   []models.EntityMapping
	)
	for i, r := range rows {
		placements = append(placements, r.placement)
		labels = append(labels, r.labels...)
		assignees = append(assignees, r.assignees...)
		mappings = append(mappings, r.mapping)
		b.cardIDs[r.src.ID] = ids[i]
	}

	if err := b.dest.InsertPlacements(ctx, placements); err != nil {
		return err
	}
	if err := b.dest.InsertCardLabels(ctx, labels); err != nil {
		return err
	}
	if err := b.dest.InsertCardAssignees(ctx, assignees); err != nil {
		return err
	}
	return b.record(ctx, mappings)
}

// cardLabels returns the sorted destination label ids of a source card.
func (b *boardRun) cardLabels(c models.SourceCard) []string {
	var out []string
	for _, id := range c.IDLabels {
		if t, ok := b.labels[id]; ok && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}

// cardAssignees returns the sorted destination user ids of a source card's mapped members.
func (b *boardRun) cardAssignees(c models.SourceCard) []string {
	var out []string
	for _, id := range c.IDMembers {
		if u, ok := b.users[id]; ok && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	slices.Sort(out)
	return out
}

// priority derives a card priority from its label names. The highest matching word wins.
func (b *boardRun) priority(labelIDs []string) string {
	best := models.PriorityNone
	for _, id := range labelIDs {
		words := strings.FieldsFunc(strings.ToLower(b.labelNames[id]), func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		for _, w := range words {
			if priorityRank[w] > priorityRank[best] {
				best = w
			}
		}
	}
	return best
}

// reconcileCards brings previously mapped cards in line with the source: fields, primary list,
// labels and assignees. Each card counts as updated once when anything changed.
func (b *boardRun) reconcileCards(ctx context.Context, mapped []models.SourceCard) error {
	ids := make([]string, 0, len(mapped))
	for _, c := range mapped {
		ids = append(ids, b.cardIDs[c.ID])
	}
	placements, err := b.dest.PlacementsByCards(ctx, ids)
	if err != nil {
		return err
	}

	_, err = ForEach(ctx, b.limits.cardUpdate, mapped, nil, func(ctx context.Context, _ int, c models.SourceCard) error {
		updated, err := b.reconcileCard(ctx, c, placements[b.cardIDs[c.ID]])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.rep.AddError(models.PhaseCards, b.sourceID, c.ID, err)
		}
		if updated {
			b.rep.Update(func(r *models.Report) { r.CardsUpdated++ })
		}
		return nil
	})
	return err
}

func (b *boardRun) reconcileCard(ctx context.Context, c models.SourceCard, placements []models.Placement) (bool, error) {
	target := b.cardIDs[c.ID]
	updated, err := b.dest.UpdateCardFields(ctx, models.Card{
		ID:          target,
		Title:       c.Name,
		Description: c.Desc,
		DueDate:     c.Due,
		Priority:    b.priority(c.IDLabels),
	})
	if err != nil {
		return false, err
	}

	list := b.lists[c.IDList]
	switch {
	case len(placements) == 0 || !placements[0].IsPrimary:
		err := b.dest.InsertPlacements(ctx, []models.Placement{{
			ID: b.newID(placementType, c.ID), CardID: target, ListID: list, IsPrimary: true,
		}})
		if err != nil {
			return updated, err
		}
		updated = true
	case placements[0].ListID != list:
		if err := b.dest.MovePlacement(ctx, placements[0].ID, list, placements[0].Position); err != nil {
			return updated, err
		}
		updated = true
	}

	labels := b.cardLabels(c)
	current, err := b.dest.CardLabelIDs(ctx, target)
	if err != nil {
		return updated, err
	}
	if !slices.Equal(current, labels) {
		if err := b.dest.ReplaceCardLabels(ctx, target, labels); err != nil {
			return updated, err
		}
		updated = true
	}

	assignees := b.cardAssignees(c)
	current, err = b.dest.CardAssigneeIDs(ctx, target)
	if err != nil {
		return updated, err
	}
	if !slices.Equal(current, assignees) {
		if err := b.dest.ReplaceCardAssignees(ctx, target, assignees); err != nil {
			return updated, err
		}
		updated = true
	}
	return updated, nil
}

type positionUpdate struct {
	placementID string
	position    int
}

// resyncPositions sets every mapped card's primary placement to its index in current source order.
func (b *boardRun) resyncPositions(ctx context.Context) error {
	var ids []string
	for _, c := range b.cards {
		if t, ok := b.cardIDs[c.ID]; ok {
			ids = append(ids, t)
		}
	}
	placements, err := b.dest.PlacementsByCards(ctx, ids)
	if err != nil {
		return err
	}

	index := make(map[string]int)
	var updates []positionUpdate
	for _, c := range b.cards {
		i := index[c.IDList]
		index[c.IDList] = i + 1

		target, ok := b.cardIDs[c.ID]
		if !ok {
			continue
		}
		list := b.lists[c.IDList]
		for _, p := range placements[target] {
			if p.ListID == list {
				if p.Position != i {
					updates = append(updates, positionUpdate{placementID: p.ID, position: i})
				}
				break
			}
		}
	}

	_, err = ForEach(ctx, b.limits.position, updates, nil, func(ctx context.Context, _ int, u positionUpdate) error {
		changed, err := b.dest.SetPlacementPosition(ctx, u.placementID, u.position)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.rep.AddError(models.PhaseCards, b.sourceID, u.placementID, err)
			return nil
		}
		if changed {
			b.rep.Update(func(r *models.Report) { r.PositionsSynced++ })
		}
		return nil
	})
	return err
}

type placementKey struct {
	listID string
	cardID string
}

// removeStalePlacements deletes placements in mapped lists whose card was migrated, by this or any
// other job, but which the source no longer shows in that list. Card rows stay; cards never migrated
// are not touched.
func (b *boardRun) removeStalePlacements(ctx context.Context) error {
	local, err := b.ledger.BatchGet(ctx, b.jobID, models.EntityCard)
	if err != nil {
		return err
	}
	others, err := b.ledger.Candidates(ctx, b.jobID, models.EntityCard)
	if err != nil {
		return err
	}
	migrated := make(map[string]bool, len(local)+len(others))
	for _, m := range local {
		migrated[m.TargetID] = true
	}
	for _, ms := range others {
		for _, m := range ms {
			migrated[m.TargetID] = true
		}
	}

	current := make(map[placementKey]bool, len(b.cards))
	for _, c := range b.cards {
		if t, ok := b.cardIDs[c.ID]; ok {
			current[placementKey{listID: b.lists[c.IDList], cardID: t}] = true
		}
	}

	placements, err := b.dest.PlacementsByLists(ctx, b.targetLists())
	if err != nil {
		return err
	}
	var stale []string
	for _, p := range placements {
		if migrated[p.CardID] && !current[placementKey{listID: p.ListID, cardID: p.CardID}] {
			stale = append(stale, p.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	n, err := b.dest.DeletePlacements(ctx, stale)
	if err != nil {
		return err
	}
	b.rep.Update(func(r *models.Report) { r.PlacementsRemoved += n })
	b.logger.Info("stale placements removed", "count", n)
	return nil
}
