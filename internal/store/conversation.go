package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
)

type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) Append(ctx context.Context, m *domain.ConversationMessage) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, role_id, user_message, bot_response, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		m.UserID, m.RoleID, m.UserText, m.BotText, toUnix(m.Timestamp))
	if err != nil {
		return wrapDB("INSERT INTO conversations", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDB("INSERT INTO conversations", err)
	}
	m.ID = id
	return nil
}

// Recent returns the newest limit messages for (user, role), oldest first,
// ready to feed into the model as history.
func (s *ConversationStore) Recent(ctx context.Context, userID, roleID int64, limit int) ([]domain.ConversationMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, user_id, role_id, user_message, bot_response, timestamp
		 FROM conversations WHERE user_id = ? AND role_id = ?
		 ORDER BY timestamp DESC, message_id DESC LIMIT ?`,
		userID, roleID, limit)
	if err != nil {
		return nil, wrapDB("SELECT conversations", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []domain.ConversationMessage
	for rows.Next() {
		var (
			m  domain.ConversationMessage
			ts int64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.RoleID, &m.UserText, &m.BotText, &ts); err != nil {
			return nil, wrapDB("scan conversation row", err)
		}
		m.Timestamp = fromUnix(ts)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("conversation rows", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *ConversationStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE timestamp < ?`, toUnix(cutoff))
	if err != nil {
		return 0, wrapDB("DELETE FROM conversations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDB("DELETE FROM conversations", err)
	}
	return n, nil
}
