package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
)

type RoleStore struct {
	db *sql.DB
}

func NewRoleStore(db *sql.DB) *RoleStore {
	return &RoleStore{db: db}
}

func (s *RoleStore) Create(ctx context.Context, r *domain.Role) error {
	if r.Category == "" {
		r.Category = "general"
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (name, description, personality, speaking_style, knowledge_areas, behaviors,
		 is_custom, created_by, created_at, is_featured, is_popular, category)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.Description, r.Personality, r.SpeakingStyle, r.KnowledgeAreas, r.Behaviors,
		r.IsCustom, nullInt64(r.CreatedBy), toUnix(now), r.IsFeatured, r.IsPopular, r.Category)
	if err != nil {
		return wrapDB("INSERT INTO roles", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDB("INSERT INTO roles", err)
	}
	r.ID = id
	r.CreatedAt = now
	return nil
}

func (s *RoleStore) GetByID(ctx context.Context, id int64) (*domain.Role, error) {
	r := &domain.Role{}
	var (
		createdBy sql.NullInt64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT role_id, name, description, personality, speaking_style, knowledge_areas, behaviors,
		 is_custom, created_by, created_at, is_featured, is_popular, category
		 FROM roles WHERE role_id = ?`, id,
	).Scan(&r.ID, &r.Name, &r.Description, &r.Personality, &r.SpeakingStyle, &r.KnowledgeAreas,
		&r.Behaviors, &r.IsCustom, &createdBy, &createdAt, &r.IsFeatured, &r.IsPopular, &r.Category)
	if err != nil {
		return nil, wrapDB("SELECT roles", err)
	}
	if createdBy.Valid {
		r.CreatedBy = &createdBy.Int64
	}
	r.CreatedAt = fromUnix(createdAt)
	return r, nil
}

func (s *RoleStore) List(ctx context.Context) ([]domain.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role_id, name, description, personality, speaking_style, knowledge_areas, behaviors,
		 is_custom, created_by, created_at, is_featured, is_popular, category
		 FROM roles ORDER BY role_id`)
	if err != nil {
		return nil, wrapDB("SELECT roles (list)", err)
	}
	defer func() { _ = rows.Close() }()

	var roles []domain.Role
	for rows.Next() {
		var (
			r         domain.Role
			createdBy sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Personality, &r.SpeakingStyle,
			&r.KnowledgeAreas, &r.Behaviors, &r.IsCustom, &createdBy, &createdAt,
			&r.IsFeatured, &r.IsPopular, &r.Category); err != nil {
			return nil, wrapDB("scan role row", err)
		}
		if createdBy.Valid {
			r.CreatedBy = &createdBy.Int64
		}
		r.CreatedAt = fromUnix(createdAt)
		roles = append(roles, r)
	}
	return roles, wrapDB("role rows", rows.Err())
}

// SeedDefaults inserts the built-in persona roster. Existing names are left
// untouched, so reruns are no-ops.
func (s *RoleStore) SeedDefaults(ctx context.Context) error {
	defaults := []domain.Role{
		{
			Name:           "Assistant",
			Description:    "A capable general-purpose assistant",
			Personality:    "Helpful, precise, and calm",
			SpeakingStyle:  "Clear and concise, avoids jargon unless asked",
			KnowledgeAreas: "General knowledge, planning, everyday tasks",
			Behaviors:      "Asks clarifying questions when a request is ambiguous",
			IsFeatured:     true,
			Category:       "general",
		},
		{
			Name:           "Tutor",
			Description:    "A patient teacher for any subject",
			Personality:    "Encouraging, patient, methodical",
			SpeakingStyle:  "Explains step by step with small examples",
			KnowledgeAreas: "Mathematics, science, languages, history",
			Behaviors:      "Checks understanding before moving on, never gives the answer outright",
			IsFeatured:     true,
			Category:       "education",
		},
		{
			Name:           "Companion",
			Description:    "A friendly conversational partner",
			Personality:    "Warm, curious, lightly humorous",
			SpeakingStyle:  "Casual and personal, remembers shared context",
			KnowledgeAreas: "Culture, hobbies, daily life",
			Behaviors:      "Follows up on things the user mentioned before",
			IsPopular:      true,
			Category:       "social",
		},
	}

	now := time.Now()
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, r := range defaults {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO roles (name, description, personality, speaking_style, knowledge_areas, behaviors,
				 is_custom, created_by, created_at, is_featured, is_popular, category)
				 VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?, ?, ?, ?)
				 ON CONFLICT(name) DO NOTHING`,
				r.Name, r.Description, r.Personality, r.SpeakingStyle, r.KnowledgeAreas, r.Behaviors,
				toUnix(now), r.IsFeatured, r.IsPopular, r.Category); err != nil {
				return wrapDB("INSERT INTO roles (seed)", err)
			}
		}
		return nil
	})
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
