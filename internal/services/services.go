package services

import (
	"context"

	"github.com/desertthunder/boardx/internal/models"
)

// Source defines the read operations the migration engine needs from the source board API.
type Source interface {
	// Board retrieves a board by id.
	Board(ctx context.Context, boardID string) (*models.SourceBoard, error)

	// Members retrieves the members of a board.
	Members(ctx context.Context, boardID string) ([]models.SourceMember, error)

	// Lists retrieves the open lists of a board.
	Lists(ctx context.Context, boardID string) ([]models.SourceList, error)

	// Labels retrieves the labels of a board.
	Labels(ctx context.Context, boardID string) ([]models.SourceLabel, error)

	// Cards retrieves the open cards of a board.
	Cards(ctx context.Context, boardID string) ([]models.SourceCard, error)

	// CardChecklists retrieves the checklists of a card, items included.
	CardChecklists(ctx context.Context, cardID string) ([]models.SourceChecklist, error)

	// CardAttachments retrieves the attachments of a card.
	CardAttachments(ctx context.Context, cardID string) ([]models.SourceAttachment, error)

	// CommentActions retrieves every comment action of a board, paging until exhausted.
	CommentActions(ctx context.Context, boardID string) ([]models.SourceAction, error)

	// Download fetches a source-hosted file through the authenticated download endpoint.
	// Files larger than maxBytes fail with [shared.ErrFileTooLarge]; maxBytes <= 0 means no limit.
	Download(ctx context.Context, fileURL string, maxBytes int64) (*File, error)

	// Name returns the name of the source (e.g. "Trello")
	Name() string
}

// File is a downloaded attachment body.
type File struct {
	Data        []byte
	ContentType string
}
