package models

import "time"

// MaxReportErrors caps the error list persisted with a report.
const MaxReportErrors = 1000

// Phase names a step of the per-board import pipeline.
type Phase string

const (
	PhaseStarting    Phase = "starting"
	PhaseBoard       Phase = "board"
	PhaseLabels      Phase = "labels"
	PhaseLists       Phase = "lists"
	PhaseCards       Phase = "cards"
	PhaseAttachments Phase = "attachments"
	PhaseCovers      Phase = "covers"
	PhaseComments    Phase = "comments"
	PhaseChecklists  Phase = "checklists"
	PhaseDone        Phase = "done"
)

// Progress is a cheap, frequently overwritten projection of where a run is.
// It is not authoritative; the ledger is.
type Progress struct {
	Current     int       `json:"current"`
	Total       int       `json:"total"`
	Phase       Phase     `json:"phase"`
	Detail      string    `json:"detail,omitempty"`
	NeedsResume bool      `json:"needs_resume,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Counters are the per-type totals of a report.
type Counters struct {
	Boards                int `json:"boards"`
	Lists                 int `json:"lists"`
	Cards                 int `json:"cards"`
	CardsUpdated          int `json:"cards_updated"`
	Comments              int `json:"comments"`
	Attachments           int `json:"attachments"`
	Labels                int `json:"labels"`
	Checklists            int `json:"checklists"`
	ChecklistItemsUpdated int `json:"checklist_items_updated"`
	PositionsSynced       int `json:"positions_synced"`
	PlacementsRemoved     int `json:"placements_removed"`
	CoversResolved        int `json:"covers_resolved"`
}

// Counter is one named counter value.
type Counter struct {
	Name  string
	Value int
}

// List returns the counters in a stable display order.
func (c Counters) List() []Counter {
	return []Counter{
		{"boards", c.Boards},
		{"lists", c.Lists},
		{"cards", c.Cards},
		{"cards_updated", c.CardsUpdated},
		{"labels", c.Labels},
		{"comments", c.Comments},
		{"attachments", c.Attachments},
		{"checklists", c.Checklists},
		{"checklist_items_updated", c.ChecklistItemsUpdated},
		{"positions_synced", c.PositionsSynced},
		{"placements_removed", c.PlacementsRemoved},
		{"covers_resolved", c.CoversResolved},
	}
}

// ReportError is one recorded failure. Board and Entity hold source ids when known.
type ReportError struct {
	Time    time.Time `json:"time"`
	Phase   Phase     `json:"phase"`
	Board   string    `json:"board,omitempty"`
	Entity  string    `json:"entity,omitempty"`
	Message string    `json:"message"`
}

// Report accumulates what a job created, updated and failed to do.
type Report struct {
	Counters
	Errors        []ReportError `json:"errors"`
	ErrorsDropped int           `json:"errors_dropped,omitempty"`
	NeedsResume   bool          `json:"needs_resume,omitempty"`
}

// AddError appends e, counting it as dropped once the list is full.
func (r *Report) AddError(e ReportError) {
	if len(r.Errors) >= MaxReportErrors {
		r.ErrorsDropped++
		return
	}
	r.Errors = append(r.Errors, e)
}

// Clone returns a copy that shares no slice storage with r.
func (r Report) Clone() Report {
	out := r
	out.Errors = append([]ReportError(nil), r.Errors...)
	return out
}
