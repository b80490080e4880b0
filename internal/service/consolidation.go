package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mnema-ai/mnema/internal/domain"
	"github.com/mnema-ai/mnema/internal/embedding"
	"github.com/mnema-ai/mnema/internal/llm"
	"go.uber.org/zap"
)

// Consolidation defaults
const (
	DefaultMinSimilarity     = 0.75
	DefaultMinClusterSize    = 2
	DefaultMaxClusterSize    = 5
	DefaultMaxCandidates     = 100
	DefaultMaxConsolidations = 3
	consolidationImportance  = 2 // candidate importance floor
)

// ConsolidatorConfig tunes one consolidation pass. Zero values take the
// package defaults.
type ConsolidatorConfig struct {
	MinSimilarity     float64
	MinClusterSize    int
	MaxClusterSize    int
	MaxCandidates     int
	MinImportance     int
	MaxConsolidations int
	// MarkSources annotates and flags source memories after a successful
	// consolidation.
	MarkSources bool
}

func (c ConsolidatorConfig) withDefaults() ConsolidatorConfig {
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = DefaultMinSimilarity
	}
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = DefaultMinClusterSize
	}
	if c.MaxClusterSize <= 0 {
		c.MaxClusterSize = DefaultMaxClusterSize
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = DefaultMaxCandidates
	}
	if c.MinImportance <= 0 {
		c.MinImportance = consolidationImportance
	}
	if c.MaxConsolidations <= 0 {
		c.MaxConsolidations = DefaultMaxConsolidations
	}
	return c
}

// ConsolidationResult summarizes one consolidation run for a user.
type ConsolidationResult struct {
	RunID            string `json:"run_id"`
	Candidates       int    `json:"candidates"`
	ClustersFound    int    `json:"clusters_found"`
	MemoriesCreated  int    `json:"memories_created"`
	SourcesProcessed int    `json:"sources_processed"`
	ClustersFailed   int    `json:"clusters_failed"`
}

// Consolidator clusters a user's related memories by embedding similarity
// and asks the model to synthesize one condensed memory per cluster.
type Consolidator struct {
	memories  domain.MemoryStore
	index     domain.EmbeddingIndex
	edges     domain.ConsolidationStore
	summaries domain.SummaryStore
	router    *llm.Router
	logger    *zap.Logger
	cfg       ConsolidatorConfig
}

func NewConsolidator(memories domain.MemoryStore, index domain.EmbeddingIndex, edges domain.ConsolidationStore, summaries domain.SummaryStore, router *llm.Router, cfg ConsolidatorConfig, logger *zap.Logger) *Consolidator {
	return &Consolidator{
		memories:  memories,
		index:     index,
		edges:     edges,
		summaries: summaries,
		router:    router,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// Run executes one consolidation pass for a user. A cluster failing to
// synthesize or persist is skipped; the rest proceed.
func (c *Consolidator) Run(ctx context.Context, userID int64) (*ConsolidationResult, error) {
	result := &ConsolidationResult{RunID: uuid.NewString()}

	candidates, err := c.memories.RecentByAccess(ctx, userID, c.cfg.MinImportance, c.cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(candidates))
	for i, mem := range candidates {
		ids[i] = mem.ID
	}
	vectors, err := c.index.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Memories without embeddings cannot be clustered yet.
	embedded := candidates[:0]
	for _, mem := range candidates {
		if _, ok := vectors[mem.ID]; ok {
			embedded = append(embedded, mem)
		}
	}
	result.Candidates = len(embedded)
	if len(embedded) < c.cfg.MinClusterSize {
		return result, nil
	}

	sims := similarityMatrix(embedded, vectors)
	clusters := clusterBySimilarity(sims, c.cfg)
	result.ClustersFound = len(clusters)

	sort.SliceStable(clusters, func(i, j int) bool {
		return coherence(clusters[i], sims) > coherence(clusters[j], sims)
	})
	if len(clusters) > c.cfg.MaxConsolidations {
		clusters = clusters[:c.cfg.MaxConsolidations]
	}

	for _, cluster := range clusters {
		members := make([]domain.Memory, len(cluster))
		for i, idx := range cluster {
			members[i] = embedded[idx]
		}
		if err := c.consolidateCluster(ctx, userID, result.RunID, members); err != nil {
			result.ClustersFailed++
			c.logger.Warn("cluster consolidation failed",
				zap.Int64("user_id", userID),
				zap.String("run_id", result.RunID),
				zap.Int("cluster_size", len(members)),
				zap.Error(err))
			continue
		}
		result.MemoriesCreated++
		result.SourcesProcessed += len(members)
	}
	return result, nil
}

func (c *Consolidator) consolidateCluster(ctx context.Context, userID int64, runID string, members []domain.Memory) error {
	var listing strings.Builder
	for i, mem := range members {
		fmt.Fprintf(&listing, "%d. %s\n", i+1, mem.Content)
	}
	prompt := fmt.Sprintf(llm.ConsolidationPrompt, listing.String())

	content, _, err := c.router.Generate(ctx, prompt, nil, nil, "", domain.GenerateOptions{
		Temperature: 0.3,
		MaxTokens:   512,
		BypassCache: true,
	}, true)
	if err != nil {
		return fmt.Errorf("synthesize cluster: %w", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("synthesize cluster: empty response")
	}

	sourceIDs := make([]int64, len(members))
	for i, mem := range members {
		sourceIDs[i] = mem.ID
	}

	consolidated := &domain.Memory{
		UserID:         userID,
		Content:        content,
		Category:       mergedCategory(members),
		Importance:     mergedImportance(members),
		Source:         domain.SourceConsolidation,
		Context:        fmt.Sprintf("Consolidated from %d memories %v", len(members), sourceIDs),
		Confidence:     0.9,
		IsConsolidated: true,
		Tags:           mergedTags(members),
	}
	if _, err := c.memories.Add(ctx, consolidated); err != nil {
		return fmt.Errorf("persist consolidated memory: %w", err)
	}

	if query, eErr := meanEmbedding(ctx, c.index, members); eErr != nil {
		c.logger.Warn("consolidated embedding failed", zap.Int64("memory_id", consolidated.ID), zap.Error(eErr))
	} else if query != nil {
		if err := c.index.Upsert(ctx, consolidated.ID, query); err != nil {
			c.logger.Warn("consolidated embedding upsert failed", zap.Int64("memory_id", consolidated.ID), zap.Error(err))
		}
	}

	for _, id := range sourceIDs {
		if err := c.edges.AddEdge(ctx, id, consolidated.ID); err != nil {
			return fmt.Errorf("record consolidation edge: %w", err)
		}
	}
	if err := c.edges.AppendLog(ctx, &domain.ConsolidationLogEntry{
		RunID:                runID,
		UserID:               userID,
		SourceMemoryIDs:      sourceIDs,
		ConsolidatedMemoryID: consolidated.ID,
		ConsolidationType:    "cluster",
	}); err != nil {
		c.logger.Warn("consolidation log append failed", zap.Error(err))
	}
	if err := c.summaries.Upsert(ctx, userID, consolidated.Category, content); err != nil {
		c.logger.Warn("summary upsert failed", zap.Error(err))
	}

	if c.cfg.MarkSources {
		for _, mem := range members {
			annotated := appendContext(mem.Context,
				fmt.Sprintf("Consolidated into memory %d", consolidated.ID))
			if err := c.memories.MarkConsolidated(ctx, mem.ID, annotated); err != nil {
				c.logger.Warn("failed to mark source memory",
					zap.Int64("memory_id", mem.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// meanEmbedding averages the source vectors as the consolidated memory's
// embedding. The synthesized text sits in the same semantic neighborhood,
// and this avoids a provider round trip on the maintenance path.
func meanEmbedding(ctx context.Context, index domain.EmbeddingIndex, members []domain.Memory) ([]float32, error) {
	ids := make([]int64, len(members))
	for i, mem := range members {
		ids[i] = mem.ID
	}
	vectors, err := index.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	var mean []float32
	n := 0
	for _, vec := range vectors {
		if mean == nil {
			mean = make([]float32, len(vec))
		}
		if len(vec) != len(mean) {
			continue
		}
		for i, v := range vec {
			mean[i] += v
		}
		n++
	}
	if n == 0 {
		return nil, nil
	}
	for i := range mean {
		mean[i] /= float32(n)
	}
	return mean, nil
}

func mergedImportance(members []domain.Memory) int {
	sum := 0
	for _, mem := range members {
		sum += mem.Importance
	}
	imp := int(math.Round(float64(sum) / float64(len(members))))
	if imp < domain.MinImportance {
		imp = domain.MinImportance
	}
	if imp > domain.MaxImportance {
		imp = domain.MaxImportance
	}
	return imp
}

// mergedCategory is the single source category when unique, otherwise the
// most frequent one; frequency ties go to the lexicographically smallest so
// reruns are deterministic.
func mergedCategory(members []domain.Memory) string {
	counts := map[string]int{}
	for _, mem := range members {
		cat := mem.Category
		if cat == "" {
			cat = domain.DefaultCategory
		}
		counts[cat]++
	}

	best, bestCount := "", 0
	for cat, n := range counts {
		if n > bestCount || (n == bestCount && cat < best) {
			best, bestCount = cat, n
		}
	}
	return best
}

func mergedTags(members []domain.Memory) []string {
	seen := map[string]bool{}
	var tags []string
	for _, mem := range members {
		for _, tag := range mem.Tags {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	sort.Strings(tags)
	return tags
}

func appendContext(existing, note string) string {
	if existing == "" {
		return note
	}
	return existing + "\n" + note
}

func similarityMatrix(members []domain.Memory, vectors map[int64][]float32) [][]float64 {
	n := len(members)
	sims := make([][]float64, n)
	for i := range sims {
		sims[i] = make([]float64, n)
		sims[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := embedding.Cosine(vectors[members[i].ID], vectors[members[j].ID])
			sims[i][j] = s
			sims[j][i] = s
		}
	}
	return sims
}

// coherence is the mean pairwise similarity among cluster members.
func coherence(cluster []int, sims [][]float64) float64 {
	if len(cluster) < 2 {
		return 0
	}
	sum, pairs := 0.0, 0
	for i := 0; i < len(cluster); i++ {
		for j := i + 1; j < len(cluster); j++ {
			sum += sims[cluster[i]][cluster[j]]
			pairs++
		}
	}
	return sum / float64(pairs)
}

// clusterBySimilarity runs density clustering over the cosine distance
// 1 - sim with eps = 1 - minSimilarity and minSamples = minClusterSize - 1,
// then keeps clusters whose size falls in the configured band.
func clusterBySimilarity(sims [][]float64, cfg ConsolidatorConfig) [][]int {
	eps := 1 - cfg.MinSimilarity
	minSamples := cfg.MinClusterSize - 1
	if minSamples < 1 {
		minSamples = 1
	}
	labels := dbscan(sims, eps, minSamples)

	byLabel := map[int][]int{}
	for i, label := range labels {
		if label >= 0 {
			byLabel[label] = append(byLabel[label], i)
		}
	}

	var clusters [][]int
	for label := 0; label < len(byLabel); label++ {
		cluster := byLabel[label]
		if len(cluster) >= cfg.MinClusterSize && len(cluster) <= cfg.MaxClusterSize {
			clusters = append(clusters, cluster)
		}
	}
	return clusters
}

// dbscan labels each point with a cluster id, or -1 for noise. A point is a
// core point when at least minSamples points (itself included) lie within
// eps of it in distance 1 - sim.
func dbscan(sims [][]float64, eps float64, minSamples int) []int {
	n := len(sims)
	const (
		unvisited = -2
		noise     = -1
	)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	neighborsOf := func(p int) []int {
		var nb []int
		for q := 0; q < n; q++ {
			if 1-sims[p][q] <= eps {
				nb = append(nb, q)
			}
		}
		return nb
	}

	cluster := 0
	for p := 0; p < n; p++ {
		if labels[p] != unvisited {
			continue
		}
		nb := neighborsOf(p)
		if len(nb) < minSamples {
			labels[p] = noise
			continue
		}

		labels[p] = cluster
		queue := append([]int(nil), nb...)
		for len(queue) > 0 {
			q := queue[0]
			queue = queue[1:]
			if labels[q] == noise {
				labels[q] = cluster
			}
			if labels[q] != unvisited {
				continue
			}
			labels[q] = cluster
			qnb := neighborsOf(q)
			if len(qnb) >= minSamples {
				queue = append(queue, qnb...)
			}
		}
		cluster++
	}
	return labels
}
