package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
	"go.uber.org/zap"
)

// Decay defaults
const (
	DefaultDecayFactor   = 0.9
	DefaultDecayAgeDays  = 30
	DefaultDecayMinImp   = 2
	DefaultDecayPerRun   = 50
	minDecayFactor       = 0.5
	maxDecayFactor       = 0.95
	maxContextAuditBytes = 2000
)

// DecayConfig tunes one decay pass. Zero values take the package defaults.
type DecayConfig struct {
	// Factor multiplies each candidate's importance; clamped to [0.5, 0.95].
	Factor        float64
	MinAgeDays    int
	MinImportance int
	MaxPerRun     int
}

func (c DecayConfig) withDefaults() DecayConfig {
	if c.Factor == 0 {
		c.Factor = DefaultDecayFactor
	}
	if c.Factor < minDecayFactor {
		c.Factor = minDecayFactor
	}
	if c.Factor > maxDecayFactor {
		c.Factor = maxDecayFactor
	}
	if c.MinAgeDays <= 0 {
		c.MinAgeDays = DefaultDecayAgeDays
	}
	if c.MinImportance <= 0 {
		c.MinImportance = DefaultDecayMinImp
	}
	if c.MaxPerRun <= 0 {
		c.MaxPerRun = DefaultDecayPerRun
	}
	return c
}

// DecayEngine gradually lowers the importance of old, rarely recalled
// memories so retrieval favors what the user still cares about.
type DecayEngine struct {
	memories domain.MemoryStore
	logger   *zap.Logger
}

func NewDecayEngine(memories domain.MemoryStore, logger *zap.Logger) *DecayEngine {
	return &DecayEngine{memories: memories, logger: logger}
}

// Apply runs one decay pass for a user and returns how many memories
// actually lost importance.
func (d *DecayEngine) Apply(ctx context.Context, userID int64, cfg DecayConfig) (int, error) {
	cfg = cfg.withDefaults()
	cutoff := time.Now().AddDate(0, 0, -cfg.MinAgeDays)

	candidates, err := d.memories.DecayCandidates(ctx, userID, cfg.MinImportance, cutoff, cfg.MaxPerRun)
	if err != nil {
		return 0, err
	}

	decayed := 0
	for _, mem := range candidates {
		next := int(math.Floor(float64(mem.Importance) * cfg.Factor))
		if next < domain.MinImportance {
			next = domain.MinImportance
		}
		if next >= mem.Importance {
			continue
		}

		annotated := capContext(appendContext(mem.Context, fmt.Sprintf("Importance decayed to %d", next)))
		if err := d.memories.UpdateDecay(ctx, mem.ID, next, annotated); err != nil {
			d.logger.Warn("decay write failed", zap.Int64("memory_id", mem.ID), zap.Error(err))
			continue
		}
		decayed++
	}
	return decayed, nil
}

// ApplyAll runs Apply for every user holding memories and returns the total
// decayed count. Per-user failures are logged and skipped.
func (d *DecayEngine) ApplyAll(ctx context.Context, cfg DecayConfig) (int, error) {
	users, err := d.memories.ListDistinctUserIDs(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, userID := range users {
		n, err := d.Apply(ctx, userID, cfg)
		if err != nil {
			d.logger.Warn("decay pass failed", zap.Int64("user_id", userID), zap.Error(err))
			continue
		}
		total += n
	}
	return total, nil
}

// capContext bounds the audit trail: when it grows past the cap the oldest
// lines are dropped first.
func capContext(s string) string {
	for len(s) > maxContextAuditBytes {
		i := 0
		for i < len(s) && s[i] != '\n' {
			i++
		}
		if i >= len(s)-1 {
			return s[len(s)-maxContextAuditBytes:]
		}
		s = s[i+1:]
	}
	return s
}
