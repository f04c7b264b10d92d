package tasks

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/desertthunder/boardx/internal/blob"
	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/shared"
)

// importAttachments copies the attachments of every mapped card. Attachments another job already
// stored for the same destination card are adopted.
//
// Uploads are downloaded from the source and stored in the blob store chosen by size; links become
// external rows without a body. No new download starts once the deadline is within the download
// margin, in which case the phase returns [shared.ErrDeadline] and a later run picks up the rest.
func (b *boardRun) importAttachments(ctx context.Context) error {
	entries, err := b.attachmentManifest(ctx)
	if err != nil {
		return err
	}
	local, err := b.ledger.BatchGet(ctx, b.jobID, models.EntityAttachment)
	if err != nil {
		return err
	}

	others, err := b.ledger.Candidates(ctx, b.jobID, models.EntityCard, models.EntityAttachment)
	if err != nil {
		return err
	}

	var (
		pending []models.ManifestEntry
		copies  []models.EntityMapping
	)
	for _, e := range entries {
		if _, ok := b.cardIDs[e.CardID]; !ok {
			continue
		}
		if _, done := local.Target(models.EntityAttachment, e.Attachment.ID); done {
			continue
		}
		if m, ok := b.ownedByCard(others, models.EntityAttachment, e.Attachment.ID, e.CardID); ok {
			copies = append(copies, b.adopt(m))
			continue
		}
		pending = append(pending, e)
	}
	if err := b.record(ctx, copies); err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	var done atomic.Int64
	stop := func() bool { return b.nearDeadline(b.opts.DownloadMargin) }
	stopped, err := ForEach(ctx, b.limits.download, pending, stop, func(ctx context.Context, _ int, e models.ManifestEntry) error {
		if err := b.importAttachment(ctx, e); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.rep.AddError(models.PhaseAttachments, b.sourceID, e.Attachment.ID, err)
		}
		b.rep.Detail(ctx, progressDetail("attachments", int(done.Add(1)), len(pending)))
		return nil
	})
	if err != nil {
		return err
	}
	if stopped {
		return fmt.Errorf("%w: attachments of board %s", shared.ErrDeadline, b.sourceID)
	}
	return nil
}

// attachmentManifest returns the (card, attachment) pairs of the board. A manifest cached by an
// earlier run is reused outside merge mode; a fresh scan is cached only when every card listed cleanly.
func (b *boardRun) attachmentManifest(ctx context.Context) ([]models.ManifestEntry, error) {
	if !b.merge() {
		entries, ok, err := b.ledger.Manifest(ctx, b.jobID, b.sourceID)
		if err != nil {
			return nil, err
		}
		if ok {
			b.logger.Debug("attachment manifest reused", "entries", len(entries))
			return entries, nil
		}
	}

	var cards []models.SourceCard
	for _, c := range b.cards {
		if _, ok := b.cardIDs[c.ID]; ok {
			cards = append(cards, c)
		}
	}

	found := make([][]models.SourceAttachment, len(cards))
	var failed atomic.Bool
	_, err := ForEach(ctx, b.limits.scan, cards, nil, func(ctx context.Context, i int, c models.SourceCard) error {
		atts, err := b.source.CardAttachments(ctx, c.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed.Store(true)
			b.rep.AddError(models.PhaseAttachments, b.sourceID, c.ID, err)
			return nil
		}
		found[i] = atts
		return nil
	})
	if err != nil {
		return nil, err
	}

	var entries []models.ManifestEntry
	for i, atts := range found {
		for _, a := range atts {
			entries = append(entries, models.ManifestEntry{CardID: cards[i].ID, Attachment: a})
		}
	}
	if failed.Load() {
		return entries, nil
	}
	if err := b.ledger.PutManifest(ctx, b.jobID, b.sourceID, b.targetID, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (b *boardRun) importAttachment(ctx context.Context, e models.ManifestEntry) error {
	a := e.Attachment
	cardID := b.cardIDs[e.CardID]
	target := b.newID(models.EntityAttachment, a.ID)
	name := attachmentName(a)

	row := models.Attachment{
		ID:        target,
		CardID:    cardID,
		FileName:  name,
		MimeType:  a.MimeType,
		URL:       a.URL,
		CreatedAt: a.Date,
	}
	meta := models.MappingMetadata{Name: name, ResolvedBy: models.ResolvedCreated}

	if !a.IsUpload {
		row.IsExternal = true
	} else {
		if _, err := b.route(a.Bytes); err != nil {
			return err
		}
		file, err := b.source.Download(ctx, a.URL, b.blobs.Limit())
		if err != nil {
			return err
		}
		size := int64(len(file.Data))
		store, err := b.route(size)
		if err != nil {
			return err
		}
		if row.MimeType == "" {
			row.MimeType = file.ContentType
		}
		key := blob.AttachmentKey(b.jobID, cardID, target, name)
		if _, err := store.Upload(ctx, key, file.Data, row.MimeType); err != nil {
			return err
		}
		row.FileSize = size
		row.StorageKey = key
		row.StorageBackend = store.Name()
		meta.Bytes, meta.Backend = size, store.Name()
	}

	if err := b.dest.InsertAttachment(ctx, row); err != nil {
		return err
	}
	return b.record(ctx, []models.EntityMapping{b.mapping(models.EntityAttachment, a.ID, target, meta)})
}

func (b *boardRun) route(size int64) (blob.Store, error) {
	if b.blobs == nil {
		return nil, shared.ErrNoBlobStore
	}
	return b.blobs.Route(size)
}

func attachmentName(a models.SourceAttachment) string {
	switch {
	case a.FileName != "":
		return a.FileName
	case a.Name != "":
		return a.Name
	}
	return a.ID
}

type coverUpdate struct {
	cardID       string
	attachmentID string
}

// resolveCovers points each card's cover at the migrated attachment its source card uses as cover.
// Only image attachments qualify; cards already pointing there are left alone.
func (b *boardRun) resolveCovers(ctx context.Context) error {
	mapped, err := b.ledger.BatchGet(ctx, b.jobID, models.EntityAttachment)
	if err != nil {
		return err
	}

	var wanted []coverUpdate
	for _, c := range b.cards {
		if c.IDAttachmentCover == "" {
			continue
		}
		card, ok := b.cardIDs[c.ID]
		if !ok {
			continue
		}
		if att, ok := mapped.Target(models.EntityAttachment, c.IDAttachmentCover); ok {
			wanted = append(wanted, coverUpdate{cardID: card, attachmentID: att})
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	cardIDs := make([]string, len(wanted))
	attIDs := make([]string, len(wanted))
	for i, w := range wanted {
		cardIDs[i], attIDs[i] = w.cardID, w.attachmentID
	}
	atts, err := b.dest.AttachmentsByIDs(ctx, attIDs)
	if err != nil {
		return err
	}
	cards, err := b.dest.CardsByIDs(ctx, cardIDs)
	if err != nil {
		return err
	}

	var updates []coverUpdate
	for _, w := range wanted {
		a, ok := atts[w.attachmentID]
		if ok && a.IsImage() && cards[w.cardID].CoverAttachmentID != w.attachmentID {
			updates = append(updates, w)
		}
	}

	_, err = ForEach(ctx, b.limits.cover, updates, nil, func(ctx context.Context, _ int, u coverUpdate) error {
		changed, err := b.dest.SetCardCover(ctx, u.cardID, u.attachmentID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.rep.AddError(models.PhaseCovers, b.sourceID, u.cardID, err)
			return nil
		}
		if changed {
			b.rep.Update(func(r *models.Report) { r.CoversResolved++ })
		}
		return nil
	})
	return err
}
