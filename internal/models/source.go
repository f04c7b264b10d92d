package models

import (
	"strings"
	"time"
)

// SourceBoard is a board as returned by the source API.
type SourceBoard struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Desc   string `json:"desc"`
	Closed bool   `json:"closed"`
	URL    string `json:"url,omitempty"`
}

// SourceMember is a board member.
type SourceMember struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName"`
}

// SourceList is a list (column) of a source board.
type SourceList struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Closed bool    `json:"closed"`
	Pos    float64 `json:"pos"`
}

// SourceLabel is a board label. Unnamed labels carry only a color.
type SourceLabel struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// DisplayName returns the label name, falling back to its color.
func (l SourceLabel) DisplayName() string {
	if strings.TrimSpace(l.Name) != "" {
		return l.Name
	}
	if l.Color != "" {
		return l.Color
	}
	return "label"
}

// SourceCard is a card of a source board.
type SourceCard struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Desc              string     `json:"desc"`
	Closed            bool       `json:"closed"`
	IDList            string     `json:"idList"`
	Pos               float64    `json:"pos"`
	Due               *time.Time `json:"due"`
	IDLabels          []string   `json:"idLabels"`
	IDMembers         []string   `json:"idMembers"`
	IDAttachmentCover string     `json:"idAttachmentCover"`
}

// SourceAction is a board action. Only comment actions are requested.
type SourceAction struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Date            time.Time `json:"date"`
	IDMemberCreator string    `json:"idMemberCreator"`
	Data            struct {
		Text string `json:"text"`
		Card struct {
			ID string `json:"id"`
		} `json:"card"`
	} `json:"data"`
	MemberCreator SourceMember `json:"memberCreator"`
}

// SourceChecklist is a checklist of a source card.
type SourceChecklist struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	IDCard     string            `json:"idCard"`
	Pos        float64           `json:"pos"`
	CheckItems []SourceCheckItem `json:"checkItems"`
}

// SourceCheckItem is one item of a [SourceChecklist].
type SourceCheckItem struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	State string  `json:"state"`
	Pos   float64 `json:"pos"`
}

// Complete reports whether the item is checked.
func (i SourceCheckItem) Complete() bool {
	return i.State == "complete"
}

// SourceAttachment is an attachment of a source card.
//
// IsUpload distinguishes files hosted by the source from external links.
type SourceAttachment struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	URL      string    `json:"url"`
	Bytes    int64     `json:"bytes"`
	MimeType string    `json:"mimeType"`
	IsUpload bool      `json:"isUpload"`
	FileName string    `json:"fileName,omitempty"`
	Date     time.Time `json:"date"`
}
