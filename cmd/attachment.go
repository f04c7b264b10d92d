package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/boardx/internal/blob"
	"github.com/desertthunder/boardx/internal/models"
	"github.com/desertthunder/boardx/internal/shared"
	"github.com/urfave/cli/v3"
)

// AttachmentURL prints a presigned download URL for an attachment a job migrated.
//
// External links have no stored object; their original URL is printed instead.
func (r *Runner) AttachmentURL(ctx context.Context, cmd *cli.Command) error {
	jobID, sourceID := cmd.String("job"), cmd.String("source-id")

	s, err := r.openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	m, ok, err := s.ledger.Get(ctx, jobID, models.EntityAttachment, sourceID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: attachment %s was not migrated by job %s", shared.ErrNotFound, sourceID, jobID)
	}

	rows, err := s.workspace.AttachmentsByIDs(ctx, []string{m.TargetID})
	if err != nil {
		return err
	}
	a, ok := rows[m.TargetID]
	if !ok {
		return fmt.Errorf("%w: attachment row %s", shared.ErrNotFound, m.TargetID)
	}

	link := a.URL
	if !a.IsExternal {
		router, err := blob.NewRouter(r.config.Blob)
		if err != nil {
			return fmt.Errorf("failed to open blob storage: %w", err)
		}
		store, err := router.Store(a.StorageBackend)
		if err != nil {
			return err
		}
		if link, err = store.PresignDownload(ctx, a.StorageKey); err != nil {
			return err
		}
	}

	if err := r.writePlain("%s\n", link); err != nil {
		return err
	}
	if cmd.Bool("open") {
		return r.openBrowser(ctx, link)
	}
	return nil
}
