package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetOrCreate(ctx context.Context, id int64, username, firstName, lastName, languageCode string) (*domain.User, error) {
	u, err := s.GetByID(ctx, id)
	if err == nil {
		return u, nil
	}
	if err != domain.ErrNotFound {
		return nil, err
	}

	if languageCode == "" {
		languageCode = "en"
	}
	now := time.Now()
	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO users (user_id, username, first_name, last_name, language_code, created_at, last_interaction)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, username, firstName, lastName, languageCode, toUnix(now), toUnix(now)); err != nil {
			return wrapDB("INSERT INTO users", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_preferences (user_id, language) VALUES (?, ?)`,
			id, languageCode); err != nil {
			return wrapDB("INSERT INTO user_preferences", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	u := &domain.User{}
	var (
		roleID          sql.NullInt64
		createdAt       int64
		lastInteraction int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, first_name, last_name, language_code, current_role_id, is_admin, created_at, last_interaction
		 FROM users WHERE user_id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.LanguageCode, &roleID, &u.IsAdmin, &createdAt, &lastInteraction)
	if err != nil {
		return nil, wrapDB("SELECT users", err)
	}
	if roleID.Valid {
		u.CurrentRoleID = &roleID.Int64
	}
	u.CreatedAt = fromUnix(createdAt)
	u.LastInteraction = fromUnix(lastInteraction)
	return u, nil
}

func (s *UserStore) SetCurrentRole(ctx context.Context, id int64, roleID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET current_role_id = ? WHERE user_id = ?`, roleID, id)
	if err != nil {
		return wrapDB("UPDATE users (role)", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *UserStore) SetAdmin(ctx context.Context, id int64, admin bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_admin = ? WHERE user_id = ?`, admin, id)
	if err != nil {
		return wrapDB("UPDATE users (admin)", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *UserStore) TouchInteraction(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_interaction = ? WHERE user_id = ?`, toUnix(time.Now()), id)
	return wrapDB("UPDATE users (touch)", err)
}

func (s *UserStore) GetPreferences(ctx context.Context, userID int64) (*domain.Preferences, error) {
	p := &domain.Preferences{}
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, language, response_length, formality_level, memory_enabled, voice_responses_enabled, theme
		 FROM user_preferences WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.Language, &p.ResponseLength, &p.Formality, &p.MemoryEnabled, &p.VoiceEnabled, &p.Theme)
	if err != nil {
		return nil, wrapDB("SELECT user_preferences", err)
	}
	return p, nil
}

func (s *UserStore) UpdatePreferences(ctx context.Context, p *domain.Preferences) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_preferences SET language = ?, response_length = ?, formality_level = ?,
		 memory_enabled = ?, voice_responses_enabled = ?, theme = ? WHERE user_id = ?`,
		p.Language, p.ResponseLength, p.Formality, p.MemoryEnabled, p.VoiceEnabled, p.Theme, p.UserID)
	if err != nil {
		return wrapDB("UPDATE user_preferences", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
