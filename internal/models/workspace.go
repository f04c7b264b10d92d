package models

import (
	"strings"
	"time"
)

// Priority values for destination cards.
const (
	PriorityNone   = "none"
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Board is a destination board row.
type Board struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	BoardType   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// List is a destination list (column) on a board.
type List struct {
	ID       string
	BoardID  string
	Name     string
	Position int
}

// Card is a destination card row. Its list membership lives in [Placement].
type Card struct {
	ID                string
	BoardID           string
	Title             string
	Description       string
	DueDate           *time.Time
	Priority          string
	CoverAttachmentID string
}

// Placement is a card's membership and position in a list.
type Placement struct {
	ID        string
	CardID    string
	ListID    string
	Position  int
	IsPrimary bool
}

// CardLabel associates a label with a card.
type CardLabel struct {
	CardID  string
	LabelID string
}

// CardAssignee associates a destination user with a card.
type CardAssignee struct {
	CardID string
	UserID string
}

// Label is a destination label on a board.
type Label struct {
	ID      string
	BoardID string
	Name    string
	Color   string
}

// Comment is a destination comment on a card.
type Comment struct {
	ID         string
	CardID     string
	UserID     string
	AuthorName string
	Body       string
	CreatedAt  time.Time
}

// Checklist is a destination checklist on a card.
type Checklist struct {
	ID       string
	CardID   string
	Title    string
	Position int
}

// ChecklistItem is one entry of a [Checklist].
type ChecklistItem struct {
	ID          string
	ChecklistID string
	Title       string
	IsCompleted bool
	Position    int
}

// Attachment is a destination attachment row.
//
// External links have IsExternal set, a zero FileSize and no StorageKey.
type Attachment struct {
	ID             string
	CardID         string
	FileName       string
	FileSize       int64
	MimeType       string
	StorageKey     string
	StorageBackend string
	URL            string
	IsExternal     bool
	CreatedAt      time.Time
}

// IsImage reports whether the attachment can serve as a card cover.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.MimeType), "image/")
}
