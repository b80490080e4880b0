package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
	"go.uber.org/zap"
)

// Retrieval defaults
const (
	DefaultMaxMemories     = 5
	DefaultRecencyWeight   = 0.2
	minCandidatePool       = 15
	candidatePoolFactor    = 3
	defaultSemanticScore   = 0.5
	semanticSearchMinScore = 0.3
	embedTimeout           = 30 * time.Second
)

// MemoryManager is the top-level long-term memory API: it extracts and
// persists facts from utterances, retrieves the most relevant ones for a
// context, and renders them for the system prompt.
type MemoryManager struct {
	memories  domain.MemoryStore
	index     domain.EmbeddingIndex
	embedder  domain.EmbeddingClient
	extractor *MemoryExtractor
	logger    *zap.Logger

	embedWG sync.WaitGroup
}

func NewMemoryManager(memories domain.MemoryStore, index domain.EmbeddingIndex, embedder domain.EmbeddingClient, extractor *MemoryExtractor, logger *zap.Logger) *MemoryManager {
	return &MemoryManager{
		memories:  memories,
		index:     index,
		embedder:  embedder,
		extractor: extractor,
		logger:    logger,
	}
}

// Wait blocks until all in-flight background embedding writes finish. Call
// at shutdown and in tests.
func (m *MemoryManager) Wait() {
	m.embedWG.Wait()
}

// Ingest extracts facts from an utterance and persists each one. A failure
// on one record does not abort the rest. Embeddings are generated in the
// background; a record only participates in semantic retrieval once its
// embedding lands.
func (m *MemoryManager) Ingest(ctx context.Context, userID int64, utterance, userContext string) []domain.ExtractedMemory {
	records := m.extractor.Extract(ctx, utterance, userContext)

	stored := make([]domain.ExtractedMemory, 0, len(records))
	for _, rec := range records {
		mem := &domain.Memory{
			UserID:     userID,
			Content:    rec.Content,
			Category:   rec.Category,
			Importance: rec.Importance,
			Source:     domain.SourceExtracted,
			Confidence: 0.8,
		}
		reinforced, err := m.memories.Add(ctx, mem)
		if err != nil {
			m.logger.Warn("failed to store extracted memory",
				zap.Int64("user_id", userID), zap.Error(err))
			continue
		}
		stored = append(stored, rec)
		if !reinforced {
			m.embedAsync(mem.ID, mem.Content)
		}
	}
	return stored
}

// Remember persists a single explicit memory and schedules its embedding.
func (m *MemoryManager) Remember(ctx context.Context, mem *domain.Memory) (bool, error) {
	reinforced, err := m.memories.Add(ctx, mem)
	if err != nil {
		return false, err
	}
	if !reinforced {
		m.embedAsync(mem.ID, mem.Content)
	}
	return reinforced, nil
}

func (m *MemoryManager) embedAsync(memoryID int64, content string) {
	m.embedWG.Add(1)
	go func() {
		defer m.embedWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), embedTimeout)
		defer cancel()

		vec, err := m.embedder.Embed(ctx, content)
		if err != nil {
			m.logger.Warn("embedding generation failed",
				zap.Int64("memory_id", memoryID), zap.Error(err))
			return
		}
		if err := m.index.Upsert(ctx, memoryID, vec); err != nil {
			m.logger.Warn("embedding upsert failed",
				zap.Int64("memory_id", memoryID), zap.Error(err))
		}
	}()
}

// RetrieveOptions tune one retrieval pass. Zero values take defaults.
type RetrieveOptions struct {
	MaxMemories   int
	MinImportance int
	UseSemantic   bool
	// RecencyWeight is the share of the combined score given to recency;
	// the remainder splits 5:3 between semantic similarity and importance.
	RecencyWeight float64
}

// Retrieve returns the memories most relevant to contextText, scored by a
// weighted blend of semantic similarity, importance and recency, and bumps
// last_accessed on the winners.
func (m *MemoryManager) Retrieve(ctx context.Context, userID int64, contextText string, opts RetrieveOptions) ([]domain.Memory, error) {
	if opts.MaxMemories <= 0 {
		opts.MaxMemories = DefaultMaxMemories
	}
	if opts.RecencyWeight <= 0 || opts.RecencyWeight >= 1 {
		opts.RecencyWeight = DefaultRecencyWeight
	}

	poolSize := opts.MaxMemories * candidatePoolFactor
	if poolSize < minCandidatePool {
		poolSize = minCandidatePool
	}

	pool, simByID, err := m.candidates(ctx, userID, contextText, poolSize, opts)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, nil
	}

	scored := scorePool(pool, simByID, opts.RecencyWeight)
	if len(scored) > opts.MaxMemories {
		scored = scored[:opts.MaxMemories]
	}

	result := make([]domain.Memory, len(scored))
	ids := make([]int64, len(scored))
	for i, s := range scored {
		result[i] = s.Memory
		ids[i] = s.ID
	}
	if err := m.memories.TouchAccessed(ctx, ids); err != nil {
		m.logger.Warn("failed to touch retrieved memories", zap.Error(err))
	}
	return result, nil
}

// candidates assembles the scoring pool: a semantic search when requested
// and possible, a recency listing otherwise. The similarity map is empty in
// the non-semantic path.
func (m *MemoryManager) candidates(ctx context.Context, userID int64, contextText string, poolSize int, opts RetrieveOptions) ([]domain.Memory, map[int64]float64, error) {
	simByID := map[int64]float64{}

	if opts.UseSemantic && strings.TrimSpace(contextText) != "" {
		query, err := m.embedder.Embed(ctx, contextText)
		if err != nil {
			m.logger.Warn("query embedding failed, falling back to recency", zap.Error(err))
		} else {
			hits, err := m.index.Search(ctx, userID, query, poolSize, semanticSearchMinScore)
			if err != nil {
				return nil, nil, err
			}
			if len(hits) > 0 {
				ids := make([]int64, len(hits))
				for i, h := range hits {
					ids[i] = h.MemoryID
					simByID[h.MemoryID] = h.Score
				}
				pool, err := m.memories.GetByIDs(ctx, ids)
				if err != nil {
					return nil, nil, err
				}
				pool = filterImportance(pool, opts.MinImportance)
				if len(pool) > 0 {
					return pool, simByID, nil
				}
			}
		}
	}

	pool, err := m.memories.List(ctx, userID, domain.MemoryFilter{
		MinImportance: opts.MinImportance,
		SortBy:        domain.SortByRecency,
		Limit:         poolSize,
	})
	if err != nil {
		return nil, nil, err
	}
	return pool, simByID, nil
}

func filterImportance(pool []domain.Memory, min int) []domain.Memory {
	if min <= 0 {
		return pool
	}
	out := pool[:0]
	for _, mem := range pool {
		if mem.Importance >= min {
			out = append(out, mem)
		}
	}
	return out
}

// scorePool normalizes semantic, importance and recency scores over the
// pool and blends them. With recency weight w the blend is
// (1-w)*0.625*semantic + (1-w)*0.375*importance + w*recency, which at the
// default w=0.2 gives the canonical 0.5/0.3/0.2 split.
func scorePool(pool []domain.Memory, simByID map[int64]float64, recencyWeight float64) []domain.ScoredMemory {
	maxImportance := 0
	oldest, newest := pool[0].CreatedAt, pool[0].CreatedAt
	for _, mem := range pool {
		if mem.Importance > maxImportance {
			maxImportance = mem.Importance
		}
		if mem.CreatedAt.Before(oldest) {
			oldest = mem.CreatedAt
		}
		if mem.CreatedAt.After(newest) {
			newest = mem.CreatedAt
		}
	}
	timeRange := newest.Sub(oldest).Seconds()

	wSemantic := (1 - recencyWeight) * 0.625
	wImportance := (1 - recencyWeight) * 0.375

	scored := make([]domain.ScoredMemory, len(pool))
	for i, mem := range pool {
		semantic := defaultSemanticScore
		if s, ok := simByID[mem.ID]; ok {
			semantic = s
		}
		importance := 0.0
		if maxImportance > 0 {
			importance = float64(mem.Importance) / float64(maxImportance)
		}
		recency := 1.0
		if timeRange > 0 {
			recency = mem.CreatedAt.Sub(oldest).Seconds() / timeRange
		}
		scored[i] = domain.ScoredMemory{
			Memory: mem,
			Score:  wSemantic*semantic + wImportance*importance + recencyWeight*recency,
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID > scored[j].ID
	})
	return scored
}

// FormatForPrompt renders memories as a prompt block, most important first,
// truncated to maxChars with an ellipsis.
func FormatForPrompt(memories []domain.Memory, maxChars int) string {
	if len(memories) == 0 {
		return ""
	}

	sorted := make([]domain.Memory, len(memories))
	copy(sorted, memories)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Importance > sorted[j].Importance
	})

	var sb strings.Builder
	sb.WriteString("User Memory Context:\n")
	for _, mem := range sorted {
		category := mem.Category
		if category == "" {
			category = domain.DefaultCategory
		}
		sb.WriteString(fmt.Sprintf("%s [I:%d]: %s\n",
			strings.ToUpper(category[:1])+category[1:], mem.Importance, mem.Content))
	}

	out := sb.String()
	if maxChars > 0 {
		runes := []rune(out)
		if len(runes) > maxChars {
			out = string(runes[:maxChars-1]) + "…"
		}
	}
	return out
}

// Reinforce nudges a memory's importance by delta, clamped to the extended
// reinforcement range, persisting only actual changes.
func (m *MemoryManager) Reinforce(ctx context.Context, memoryID int64, delta int) error {
	mem, err := m.memories.GetByID(ctx, memoryID)
	if err != nil {
		return err
	}
	next := mem.Importance + delta
	if next < domain.MinImportance {
		next = domain.MinImportance
	}
	if next > domain.ReinforcedImportanceCap {
		next = domain.ReinforcedImportanceCap
	}
	if next == mem.Importance {
		return nil
	}
	return m.memories.UpdateImportance(ctx, memoryID, next)
}

// Forget deletes a memory and its embedding.
func (m *MemoryManager) Forget(ctx context.Context, memoryID int64) error {
	if err := m.index.Delete(ctx, memoryID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		m.logger.Warn("failed to delete embedding", zap.Int64("memory_id", memoryID), zap.Error(err))
	}
	return m.memories.Delete(ctx, memoryID)
}
