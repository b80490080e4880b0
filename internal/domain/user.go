package domain

import "time"

// User identifies a person talking to the agent. IDs are assigned by the
// external chat transport, not by the store.
type User struct {
	ID              int64
	Username        string
	FirstName       string
	LastName        string
	LanguageCode    string
	CurrentRoleID   *int64
	IsAdmin         bool
	CreatedAt       time.Time
	LastInteraction time.Time
}

// ResponseLength and Formality are the enumerated preference values.
type ResponseLength string

const (
	ResponseShort  ResponseLength = "short"
	ResponseMedium ResponseLength = "medium"
	ResponseLong   ResponseLength = "long"
)

type Formality string

const (
	FormalityCasual  Formality = "casual"
	FormalityNeutral Formality = "neutral"
	FormalityFormal  Formality = "formal"
)

// Preferences hold per-user agent settings, keyed by user.
type Preferences struct {
	UserID         int64
	Language       string
	ResponseLength ResponseLength
	Formality      Formality
	MemoryEnabled  bool
	VoiceEnabled   bool
	Theme          string
}

// Role is a persona the agent can speak as. The four free-text fields feed
// the model's system prompt verbatim.
type Role struct {
	ID             int64
	Name           string
	Description    string
	Personality    string
	SpeakingStyle  string
	KnowledgeAreas string
	Behaviors      string
	IsCustom       bool
	CreatedBy      *int64
	CreatedAt      time.Time
	IsFeatured     bool
	IsPopular      bool
	Category       string
}

// ConversationMessage is one exchanged turn, append-only.
type ConversationMessage struct {
	ID        int64
	UserID    int64
	RoleID    int64
	UserText  string
	BotText   string
	Timestamp time.Time
}
