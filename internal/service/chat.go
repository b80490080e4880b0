package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
	"github.com/mnema-ai/mnema/internal/llm"
	"go.uber.org/zap"
)

const (
	memoryContextMaxChars = 1500
	ingestTimeout         = 60 * time.Second
)

// ChatReply is the outcome of one conversation turn.
type ChatReply struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	RoleID   int64  `json:"role_id"`
}

// ChatService runs the conversation pipeline: quota check, sentiment,
// memory retrieval, model call, persistence, and background fact
// extraction.
type ChatService struct {
	users         domain.UserStore
	roles         domain.RoleStore
	conversations domain.ConversationStore
	memories      *MemoryManager
	sentiment     *SentimentAnalyzer
	router        *llm.Router
	limiter       *RateLimiter
	historyLimit  int
	logger        *zap.Logger

	ingestWG sync.WaitGroup
}

func NewChatService(users domain.UserStore, roles domain.RoleStore, conversations domain.ConversationStore, memories *MemoryManager, sentiment *SentimentAnalyzer, router *llm.Router, limiter *RateLimiter, historyLimit int, logger *zap.Logger) *ChatService {
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &ChatService{
		users:         users,
		roles:         roles,
		conversations: conversations,
		memories:      memories,
		sentiment:     sentiment,
		router:        router,
		limiter:       limiter,
		historyLimit:  historyLimit,
		logger:        logger,
	}
}

// Wait blocks until background extraction work settles. Call at shutdown
// and in tests.
func (s *ChatService) Wait() {
	s.ingestWG.Wait()
	s.memories.Wait()
}

// Handle runs one conversation turn for a user and returns the reply.
func (s *ChatService) Handle(ctx context.Context, userID int64, username, message string) (*ChatReply, error) {
	if message == "" {
		return nil, domain.E(domain.KindValidation, "message is empty")
	}

	user, err := s.users.GetOrCreate(ctx, userID, username, "", "", "")
	if err != nil {
		return nil, err
	}

	if !user.IsAdmin {
		if limited, _, reset := s.limiter.Check(userID); limited {
			return nil, domain.E(domain.KindRateLimited,
				fmt.Sprintf("rate limit exceeded, retry in %d seconds", reset))
		}
	}

	sentiment := s.sentiment.Analyze(ctx, message)
	adjustment := s.sentiment.Adjustment(sentiment)

	// Memory failures never block a reply.
	memoryContext := ""
	retrieved, err := s.memories.Retrieve(ctx, userID, message, RetrieveOptions{UseSemantic: true})
	if err != nil {
		s.logger.Warn("memory retrieval failed", zap.Int64("user_id", userID), zap.Error(err))
	} else {
		memoryContext = FormatForPrompt(retrieved, memoryContextMaxChars)
	}

	roleCtx, roleID, err := s.roleContext(ctx, user, adjustment.ToneGuidance)
	if err != nil {
		return nil, err
	}

	history, err := s.history(ctx, userID, roleID)
	if err != nil {
		s.logger.Warn("history load failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	text, provider, err := s.router.Generate(ctx, message, roleCtx, history, memoryContext,
		domain.GenerateOptions{Temperature: adjustment.Temperature}, true)
	if err != nil {
		return nil, err
	}

	if err := s.conversations.Append(ctx, &domain.ConversationMessage{
		UserID:   userID,
		RoleID:   roleID,
		UserText: message,
		BotText:  text,
	}); err != nil {
		s.logger.Warn("conversation append failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	if err := s.users.TouchInteraction(ctx, userID); err != nil {
		s.logger.Warn("interaction touch failed", zap.Int64("user_id", userID), zap.Error(err))
	}

	s.ingestAsync(userID, message, memoryContext)

	return &ChatReply{Text: text, Provider: provider, RoleID: roleID}, nil
}

// ingestAsync extracts facts off the reply path; the next retrieval sees
// them once their embeddings land.
func (s *ChatService) ingestAsync(userID int64, message, userContext string) {
	s.ingestWG.Add(1)
	go func() {
		defer s.ingestWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
		defer cancel()
		s.memories.Ingest(ctx, userID, message, userContext)
	}()
}

// roleContext resolves the user's current persona, falling back to a bare
// assistant when none is set or the role row vanished.
func (s *ChatService) roleContext(ctx context.Context, user *domain.User, toneGuidance string) (*domain.RoleContext, int64, error) {
	roleCtx := &domain.RoleContext{Name: "Assistant", ToneGuidance: toneGuidance}
	var roleID int64

	if user.CurrentRoleID != nil {
		role, err := s.roles.GetByID(ctx, *user.CurrentRoleID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, 0, err
			}
		} else {
			roleID = role.ID
			roleCtx = &domain.RoleContext{
				Name:           role.Name,
				Personality:    role.Personality,
				SpeakingStyle:  role.SpeakingStyle,
				KnowledgeAreas: role.KnowledgeAreas,
				Behaviors:      role.Behaviors,
				ToneGuidance:   toneGuidance,
			}
		}
	}
	return roleCtx, roleID, nil
}

func (s *ChatService) history(ctx context.Context, userID, roleID int64) ([]domain.Turn, error) {
	messages, err := s.conversations.Recent(ctx, userID, roleID, s.historyLimit)
	if err != nil {
		return nil, err
	}
	turns := make([]domain.Turn, 0, len(messages)*2)
	for _, m := range messages {
		turns = append(turns,
			domain.Turn{Role: "user", Content: m.UserText},
			domain.Turn{Role: "assistant", Content: m.BotText})
	}
	return turns, nil
}
