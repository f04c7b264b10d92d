package models

import "time"

// EntityType is the source_type column of the ledger.
type EntityType string

const (
	EntityBoard              EntityType = "board"
	EntityList               EntityType = "list"
	EntityLabel              EntityType = "label"
	EntityCard               EntityType = "card"
	EntityComment            EntityType = "comment"
	EntityChecklist          EntityType = "checklist"
	EntityChecklistItem      EntityType = "checklist_item"
	EntityAttachment         EntityType = "attachment"
	EntityAttachmentManifest EntityType = "attachment_manifest"
)

// CountedEntities are the ledger types whose row counts back report counters.
var CountedEntities = []EntityType{
	EntityBoard, EntityList, EntityLabel, EntityCard, EntityComment, EntityChecklist, EntityAttachment,
}

// Resolution records which idempotency tier produced a mapping.
type Resolution string

const (
	ResolvedCreated     Resolution = "created"
	ResolvedMergeTarget Resolution = "merge_target"
	ResolvedCrossJob    Resolution = "cross_job"
	ResolvedName        Resolution = "name"
)

// MappingMetadata is the free-form payload stored with a ledger row.
type MappingMetadata struct {
	Name        string     `json:"name,omitempty"`
	Bytes       int64      `json:"bytes,omitempty"`
	Reused      bool       `json:"reused,omitempty"`
	ResolvedBy  Resolution `json:"resolved_by,omitempty"`
	SourceJobID string     `json:"source_job_id,omitempty"`
	Backend     string     `json:"backend,omitempty"`
}

// EntityMapping links a source entity imported by a job to its destination row.
type EntityMapping struct {
	JobID      string
	SourceType EntityType
	SourceID   string
	TargetID   string
	Metadata   MappingMetadata
	CreatedAt  time.Time
}

// MappingKey identifies a mapping within a single job.
type MappingKey struct {
	Type     EntityType
	SourceID string
}

// Mappings is a lookup of mappings by type and source id.
type Mappings map[MappingKey]EntityMapping

// Target returns the destination id for a source entity.
func (m Mappings) Target(t EntityType, sourceID string) (string, bool) {
	em, ok := m[MappingKey{Type: t, SourceID: sourceID}]
	return em.TargetID, ok
}

// Put adds or replaces a mapping.
func (m Mappings) Put(em EntityMapping) {
	m[MappingKey{Type: em.SourceType, SourceID: em.SourceID}] = em
}

// Candidates groups the mappings several jobs recorded for the same source entity, oldest first.
type Candidates map[MappingKey][]EntityMapping

// Find returns the oldest mapping of (t, sourceID) accepted by fn.
func (c Candidates) Find(t EntityType, sourceID string, fn func(EntityMapping) bool) (EntityMapping, bool) {
	for _, m := range c[MappingKey{Type: t, SourceID: sourceID}] {
		if fn(m) {
			return m, true
		}
	}
	return EntityMapping{}, false
}

// Owned returns the oldest mapping of (t, sourceID) made by a job that also mapped the parent
// entity (parentType, parentSourceID) to parentTarget.
func (c Candidates) Owned(t EntityType, sourceID string, parentType EntityType, parentSourceID, parentTarget string) (EntityMapping, bool) {
	parents := c[MappingKey{Type: parentType, SourceID: parentSourceID}]
	return c.Find(t, sourceID, func(m EntityMapping) bool {
		for _, p := range parents {
			if p.JobID == m.JobID && p.TargetID == parentTarget {
				return true
			}
		}
		return false
	})
}

// ManifestEntry is one card/attachment pair of a cached attachment listing.
type ManifestEntry struct {
	CardID     string           `json:"card_id"`
	Attachment SourceAttachment `json:"attachment"`
}
