package domain

import "time"

// MemorySource records how a memory entered the system.
type MemorySource string

const (
	SourceExplicit      MemorySource = "explicit"
	SourceExtracted     MemorySource = "extracted"
	SourceInferred      MemorySource = "inferred"
	SourceConsolidation MemorySource = "consolidation"
)

// Importance bounds. Ingestion clamps to [MinImportance, MaxImportance];
// explicit reinforcement may push a memory up to ReinforcedImportanceCap.
const (
	MinImportance           = 1
	MaxImportance           = 5
	ReinforcedImportanceCap = 10
	DefaultCategory         = "general"
)

// Memory is a persisted textual fact about a user. Values returned by the
// store are snapshots; mutations go back through the store.
type Memory struct {
	ID             int64
	UserID         int64
	Content        string
	Category       string
	Importance     int
	Source         MemorySource
	Context        string
	Confidence     float64
	ExpiresAt      *time.Time
	RecallCount    int
	CreatedAt      time.Time
	LastAccessed   time.Time
	LastReinforced *time.Time
	IsConsolidated bool
	Tags           []string
}

// MemorySort selects the ordering of a memory listing.
type MemorySort string

const (
	SortByImportance  MemorySort = "importance"
	SortByConfidence  MemorySort = "confidence"
	SortByRecency     MemorySort = "recency"
	SortByRecallCount MemorySort = "recall_count"
)

// MemoryFilter narrows a memory listing. Zero values mean "no constraint".
// Tag matching is all-of: a row must carry every listed tag.
type MemoryFilter struct {
	Category       string
	MinImportance  int
	MaxImportance  int
	MinConfidence  float64
	IncludeExpired bool
	Tags           []string
	SortBy         MemorySort
	Limit          int
}

// ScoredMemory pairs a memory with a similarity score from semantic search.
type ScoredMemory struct {
	Memory
	Score float64
}

// RelationshipType classifies a directed edge between two memories.
type RelationshipType string

const (
	RelPartOf      RelationshipType = "part_of"
	RelSupports    RelationshipType = "supports"
	RelContradicts RelationshipType = "contradicts"
	RelRelatesTo   RelationshipType = "relates_to"
)

// MemoryRelationship is a directed typed edge between two memories.
// Graph queries never traverse deeper than direct neighbors.
type MemoryRelationship struct {
	ID             int64
	SourceMemoryID int64
	TargetMemoryID int64
	Type           RelationshipType
	Strength       float64
	CreatedAt      time.Time
}

// MemoryConsolidation links a source memory to the consolidated memory
// synthesized from it.
type MemoryConsolidation struct {
	OriginalMemoryID     int64
	ConsolidatedMemoryID int64
	CreatedAt            time.Time
}

// ConsolidationLogEntry records one consolidation event for auditing.
type ConsolidationLogEntry struct {
	ID                   int64
	RunID                string
	UserID               int64
	SourceMemoryIDs      []int64
	ConsolidatedMemoryID int64
	ConsolidationType    string
	CreatedAt            time.Time
}

// MemorySummary is the rolling per-category summary for a user.
// At most one row exists per (user, category).
type MemorySummary struct {
	ID          int64
	UserID      int64
	Category    string
	Summary     string
	LastUpdated time.Time
}

// ExtractedMemory is one structured record pulled out of a user utterance
// by the extraction model.
type ExtractedMemory struct {
	Content    string `json:"content"`
	Category   string `json:"category"`
	Importance int    `json:"importance"`
}
