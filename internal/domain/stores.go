package domain

import (
	"context"
	"time"
)

type UserStore interface {
	// GetOrCreate returns the user, creating the row and default
	// preferences on first contact.
	GetOrCreate(ctx context.Context, id int64, username, firstName, lastName, languageCode string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	SetCurrentRole(ctx context.Context, id int64, roleID int64) error
	SetAdmin(ctx context.Context, id int64, admin bool) error
	TouchInteraction(ctx context.Context, id int64) error
	GetPreferences(ctx context.Context, userID int64) (*Preferences, error)
	UpdatePreferences(ctx context.Context, p *Preferences) error
}

type RoleStore interface {
	Create(ctx context.Context, r *Role) error
	GetByID(ctx context.Context, id int64) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	// SeedDefaults inserts the built-in persona roster once; reruns are no-ops.
	SeedDefaults(ctx context.Context) error
}

type ConversationStore interface {
	Append(ctx context.Context, m *ConversationMessage) error
	// Recent returns the newest messages for (user, role) in chronological order.
	Recent(ctx context.Context, userID, roleID int64, limit int) ([]ConversationMessage, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type MemoryStore interface {
	// Add inserts a new memory or, on exact (user, content) duplicate,
	// reinforces the existing row. Returns true when a reinforcement
	// happened; m is updated with the persisted row either way.
	Add(ctx context.Context, m *Memory) (reinforced bool, err error)
	GetByID(ctx context.Context, id int64) (*Memory, error)
	// List applies the filter and bumps last_accessed on every returned row.
	List(ctx context.Context, userID int64, f MemoryFilter) ([]Memory, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Memory, error)
	Delete(ctx context.Context, id int64) error
	UpdateImportance(ctx context.Context, id int64, importance int) error
	// UpdateDecay writes back a decayed importance together with the
	// amended context audit trail.
	UpdateDecay(ctx context.Context, id int64, importance int, context string) error
	// MarkConsolidated flags a source memory and replaces its context.
	MarkConsolidated(ctx context.Context, id int64, context string) error
	TouchAccessed(ctx context.Context, ids []int64) error
	ListDistinctUserIDs(ctx context.Context) ([]int64, error)
	// RecentByAccess returns up to limit memories of at least minImportance,
	// most recently accessed first. Used for consolidation candidates.
	RecentByAccess(ctx context.Context, userID int64, minImportance, limit int) ([]Memory, error)
	// DecayCandidates returns unconsolidated memories created before cutoff
	// with importance >= minImportance, least recently touched first.
	DecayCandidates(ctx context.Context, userID int64, minImportance int, cutoff time.Time, limit int) ([]Memory, error)
}

// SearchHit is one result of a vector index scan.
type SearchHit struct {
	MemoryID int64
	Score    float64
}

// EmbeddingIndex persists embeddings as float32 little-endian blobs and
// answers brute-force similarity queries scoped to one user.
type EmbeddingIndex interface {
	Upsert(ctx context.Context, memoryID int64, vec []float32) error
	Get(ctx context.Context, memoryID int64) ([]float32, error)
	GetMany(ctx context.Context, memoryIDs []int64) (map[int64][]float32, error)
	Delete(ctx context.Context, memoryID int64) error
	Search(ctx context.Context, userID int64, query []float32, limit int, minSimilarity float64) ([]SearchHit, error)
}

type RelationshipStore interface {
	Add(ctx context.Context, r *MemoryRelationship) error
	// Neighbors returns direct outgoing edges only; no recursive traversal.
	Neighbors(ctx context.Context, memoryID int64) ([]MemoryRelationship, error)
}

type ConsolidationStore interface {
	AddEdge(ctx context.Context, originalID, consolidatedID int64) error
	SourcesOf(ctx context.Context, consolidatedID int64) ([]int64, error)
	AppendLog(ctx context.Context, e *ConsolidationLogEntry) error
}

type SummaryStore interface {
	Upsert(ctx context.Context, userID int64, category, summary string) error
	Get(ctx context.Context, userID int64, category string) (*MemorySummary, error)
}
