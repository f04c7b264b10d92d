package tasks

import (
	"context"
	"slices"

	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/shared"
)

// importLabels maps every source label of the board. Unnamed labels are matched and created
// under their color.
func (b *boardRun) importLabels(ctx context.Context) error {
	labels, err := b.source.Labels(ctx, b.sourceID)
	if err != nil {
		return phaseFatal(err)
	}
	existing, err := b.dest.LabelsByBoard(ctx, b.targetID)
	if err != nil {
		return err
	}

	owned := make(map[string]bool, len(existing))
	byName := make(map[string]string, len(existing))
	for _, l := range existing {
		owned[l.ID] = true
		if _, ok := byName[shared.NormalizeName(l.Name)]; !ok {
			byName[shared.NormalizeName(l.Name)] = l.ID
		}
	}

	local, err := b.ledger.BatchGet(ctx, b.jobID, models.EntityLabel)
	if err != nil {
		return err
	}
	var others models.Candidates

	var (
		created  []models.Label
		mappings []models.EntityMapping
	)
	for _, l := range labels {
		name := l.DisplayName()
		b.labelNames[l.ID] = name

		if target, ok := local.Target(models.EntityLabel, l.ID); ok {
			b.labels[l.ID] = target
			continue
		}
		if others == nil {
			if others, err = b.ledger.Candidates(ctx, b.jobID, models.EntityLabel); err != nil {
				return err
			}
		}

		meta := models.MappingMetadata{Name: name, Reused: true}
		target := ""
		if m, ok := others.Find(models.EntityLabel, l.ID, func(m models.EntityMapping) bool { return owned[m.TargetID] }); ok {
			target, meta.ResolvedBy = m.TargetID, models.ResolvedCrossJob
		} else if t, ok := byName[shared.NormalizeName(name)]; ok {
			target, meta.ResolvedBy = t, models.ResolvedName
		} else {
			target = b.newID(models.EntityLabel, l.ID)
			meta = models.MappingMetadata{Name: name, ResolvedBy: models.ResolvedCreated}
			created = append(created, models.Label{ID: target, BoardID: b.targetID, Name: name, Color: l.Color})
			byName[shared.NormalizeName(name)] = target
			owned[target] = true
		}

		b.labels[l.ID] = target
		mappings = append(mappings, b.mapping(models.EntityLabel, l.ID, target, meta))
	}

	if err := b.dest.InsertLabels(ctx, created); err != nil {
		return err
	}
	if err := b.record(ctx, mappings); err != nil {
		return err
	}
	b.logger.Debug("labels mapped", "total", len(labels), "created", len(created))
	return nil
}

// importLists maps the open lists of the board, restricted to the job's allow-list when one is set.
// New lists are appended after the board's highest existing list position.
func (b *boardRun) importLists(ctx context.Context) error {
	lists, err := b.source.Lists(ctx, b.sourceID)
	if err != nil {
		return phaseFatal(err)
	}

	allowed := b.cfg.ListFilters[b.sourceID]
	lists = slices.DeleteFunc(lists, func(l models.SourceList) bool {
		return l.Closed || (len(allowed) > 0 && !slices.Contains(allowed, l.ID))
	})
	slices.SortStableFunc(lists, func(a, c models.SourceList) int {
		return cmpPos(a.Pos, c.Pos, a.ID, c.ID)
	})

	existing, err := b.dest.ListsByBoard(ctx, b.targetID)
	if err != nil {
		return err
	}
	owned := make(map[string]bool, len(existing))
	byName := make(map[string]string, len(existing))
	next := 0
	for _, l := range existing {
		owned[l.ID] = true
		if _, ok := byName[shared.NormalizeName(l.Name)]; !ok {
			byName[shared.NormalizeName(l.Name)] = l.ID
		}
		next = max(next, l.Position+1)
	}

	local, err := b.ledger.BatchGet(ctx, b.jobID, models.EntityList)
	if err != nil {
		return err
	}
	var others models.Candidates

	var (
		created  []models.List
		mappings []models.EntityMapping
	)
	for _, l := range lists {
		b.listPos[l.ID] = l.Pos

		if target, ok := local.Target(models.EntityList, l.ID); ok {
			b.lists[l.ID] = target
			continue
		}
		if others == nil {
			if others, err = b.ledger.Candidates(ctx, b.jobID, models.EntityList); err != nil {
				return err
			}
		}

		meta := models.MappingMetadata{Name: l.Name, Reused: true}
		target := ""
		if m, ok := others.Find(models.EntityList, l.ID, func(m models.EntityMapping) bool { return owned[m.TargetID] }); ok {
			target, meta.ResolvedBy = m.TargetID, models.ResolvedCrossJob
		} else if t, ok := byName[shared.NormalizeName(l.Name)]; ok {
			target, meta.ResolvedBy = t, models.ResolvedName
		} else {
			target = b.newID(models.EntityList, l.ID)
			meta = models.MappingMetadata{Name: l.Name, ResolvedBy: models.ResolvedCreated}
			created = append(created, models.List{ID: target, BoardID: b.targetID, Name: l.Name, Position: next})
			next++
			byName[shared.NormalizeName(l.Name)] = target
			owned[target] = true
		}

		b.lists[l.ID] = target
		mappings = append(mappings, b.mapping(models.EntityList, l.ID, target, meta))
	}

	if err := b.dest.InsertLists(ctx, created); err != nil {
		return err
	}
	if err := b.record(ctx, mappings); err != nil {
		return err
	}
	b.logger.Debug("lists mapped", "total", len(lists), "created", len(created))
	return nil
}

// cmpPos orders by source position, then id.
func cmpPos(a, b float64, aID, bID string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case aID < bID:
		return -1
	case aID > bID:
		return 1
	}
	return 0
}
