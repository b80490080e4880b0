package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
	"github.com/mnema-ai/mnema/internal/llm"
	"github.com/mnema-ai/mnema/internal/store"
	"go.uber.org/zap"
)

const (
	DefaultMaintenanceInterval = 24 * time.Hour
	conversationRetention      = 90 * 24 * time.Hour
	maintenanceRunTimeout      = 30 * time.Minute
	maintenanceRetryBackoff    = time.Hour
)

// MaintenanceScheduler periodically runs consolidation and decay for every
// user, prunes stale conversation history, sweeps the response cache and
// garbage-collects orphaned tags.
type MaintenanceScheduler struct {
	memories      domain.MemoryStore
	conversations domain.ConversationStore
	consolidator  *Consolidator
	decay         *DecayEngine
	cache         *llm.ResponseCache
	db            *sql.DB
	interval      time.Duration
	logger        *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewMaintenanceScheduler(memories domain.MemoryStore, conversations domain.ConversationStore, consolidator *Consolidator, decay *DecayEngine, cache *llm.ResponseCache, db *sql.DB, interval time.Duration, logger *zap.Logger) *MaintenanceScheduler {
	if interval <= 0 {
		interval = DefaultMaintenanceInterval
	}
	return &MaintenanceScheduler{
		memories:      memories,
		conversations: conversations,
		consolidator:  consolidator,
		decay:         decay,
		cache:         cache,
		db:            db,
		interval:      interval,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background maintenance worker.
func (s *MaintenanceScheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("maintenance worker started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), maintenanceRunTimeout)
				if err := s.RunOnce(ctx); err != nil {
					s.logger.Error("maintenance run failed, backing off", zap.Error(err))
					cancel()
					select {
					case <-time.After(maintenanceRetryBackoff):
					case <-s.stopCh:
						s.logger.Info("maintenance worker stopped")
						return
					}
					continue
				}
				cancel()
			case <-s.stopCh:
				s.logger.Info("maintenance worker stopped")
				return
			}
		}
	}()
}

// Stop halts the background worker and waits for an in-flight run to end.
func (s *MaintenanceScheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// RunOnce executes one full maintenance pass. Per-user failures are logged
// and do not stop the pass; shutdown is only observed between users.
func (s *MaintenanceScheduler) RunOnce(ctx context.Context) error {
	started := time.Now()
	users, err := s.memories.ListDistinctUserIDs(ctx)
	if err != nil {
		return err
	}

	consolidated, decayed := 0, 0
	for _, userID := range users {
		select {
		case <-s.stopCh:
			s.logger.Info("maintenance interrupted by shutdown", zap.Int("users_done", consolidated))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if result, err := s.consolidator.Run(ctx, userID); err != nil {
			s.logger.Warn("consolidation failed", zap.Int64("user_id", userID), zap.Error(err))
		} else {
			consolidated += result.MemoriesCreated
		}

		if n, err := s.decay.Apply(ctx, userID, DecayConfig{}); err != nil {
			s.logger.Warn("decay failed", zap.Int64("user_id", userID), zap.Error(err))
		} else {
			decayed += n
		}
	}

	pruned, err := s.conversations.PruneOlderThan(ctx, time.Now().Add(-conversationRetention))
	if err != nil {
		s.logger.Warn("conversation pruning failed", zap.Error(err))
	}

	tagsRemoved, err := store.GCTags(ctx, s.db)
	if err != nil {
		s.logger.Warn("tag garbage collection failed", zap.Error(err))
	}

	swept := 0
	if s.cache != nil {
		if n, err := s.cache.Sweep(0); err != nil {
			s.logger.Warn("cache sweep failed", zap.Error(err))
		} else {
			swept = n
		}
	}

	s.logger.Info("maintenance pass complete",
		zap.Int("users", len(users)),
		zap.Int("memories_consolidated", consolidated),
		zap.Int("memories_decayed", decayed),
		zap.Int64("conversations_pruned", pruned),
		zap.Int64("tags_removed", tagsRemoved),
		zap.Int("cache_entries_swept", swept),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}
