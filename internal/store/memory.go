package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
)

type MemoryStore struct {
	db *sql.DB
}

func NewMemoryStore(db *sql.DB) *MemoryStore {
	return &MemoryStore{db: db}
}

const memoryColumns = `memory_id, user_id, content, category, importance, source, context, confidence,
	expires_at, recall_count, last_reinforced, is_consolidated, last_accessed, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner, m *domain.Memory) error {
	var (
		context        sql.NullString
		expiresAt      sql.NullInt64
		lastReinforced sql.NullInt64
		lastAccessed   int64
		createdAt      int64
	)
	err := r.Scan(&m.ID, &m.UserID, &m.Content, &m.Category, &m.Importance, &m.Source,
		&context, &m.Confidence, &expiresAt, &m.RecallCount, &lastReinforced,
		&m.IsConsolidated, &lastAccessed, &createdAt)
	if err != nil {
		return err
	}
	m.Context = context.String
	m.ExpiresAt = fromUnixPtr(expiresAt)
	m.LastReinforced = fromUnixPtr(lastReinforced)
	m.LastAccessed = fromUnix(lastAccessed)
	m.CreatedAt = fromUnix(createdAt)
	return nil
}

func clampImportance(v int) int {
	if v < domain.MinImportance {
		return domain.MinImportance
	}
	if v > domain.MaxImportance {
		return domain.MaxImportance
	}
	return v
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Add inserts m or reinforces an existing row with identical (user, content).
// Reinforcement keeps the higher importance, nudges confidence up by a tenth
// of the incoming confidence, and bumps the recall count.
func (s *MemoryStore) Add(ctx context.Context, m *domain.Memory) (bool, error) {
	if m.Category == "" {
		m.Category = domain.DefaultCategory
	}
	if m.Source == "" {
		m.Source = domain.SourceExplicit
	}
	if m.Confidence == 0 {
		m.Confidence = 1.0
	}
	m.Importance = clampImportance(m.Importance)
	m.Confidence = clampConfidence(m.Confidence)

	now := time.Now()
	reinforced := false

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+memoryColumns+` FROM memories WHERE user_id = ? AND content = ?`,
			m.UserID, m.Content)

		var existing domain.Memory
		switch err := scanMemory(row, &existing); err {
		case nil:
			newImportance := existing.Importance
			if m.Importance > newImportance {
				newImportance = m.Importance
			}
			newConfidence := clampConfidence(existing.Confidence + 0.1*m.Confidence)
			_, err := tx.ExecContext(ctx,
				`UPDATE memories SET importance = ?, confidence = ?, recall_count = recall_count + 1,
				 last_reinforced = ? WHERE memory_id = ?`,
				newImportance, newConfidence, toUnix(now), existing.ID)
			if err != nil {
				return wrapDB("UPDATE memories (reinforce)", err)
			}
			if err := s.attachTags(ctx, tx, existing.ID, m.UserID, m.Tags, now); err != nil {
				return err
			}
			*m = existing
			m.Importance = newImportance
			m.Confidence = newConfidence
			m.RecallCount = existing.RecallCount + 1
			m.LastReinforced = &now
			reinforced = true
			return nil

		case sql.ErrNoRows:
			res, err := tx.ExecContext(ctx,
				`INSERT INTO memories (user_id, content, category, importance, source, context, confidence,
				 expires_at, recall_count, last_reinforced, is_consolidated, last_accessed, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, NULL, ?, ?, ?)`,
				m.UserID, m.Content, m.Category, m.Importance, m.Source, nullStr(m.Context),
				m.Confidence, toUnixPtr(m.ExpiresAt), m.IsConsolidated, toUnix(now), toUnix(now))
			if err != nil {
				return wrapDB("INSERT INTO memories", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return wrapDB("INSERT INTO memories", err)
			}
			m.ID = id
			m.RecallCount = 1
			m.LastReinforced = nil
			m.CreatedAt = now
			m.LastAccessed = now
			return s.attachTags(ctx, tx, id, m.UserID, m.Tags, now)

		default:
			return wrapDB("SELECT memories (dedupe)", err)
		}
	})
	if err != nil {
		return false, err
	}
	// Reload tags so the snapshot reflects the union after reinforcement.
	tags, err := s.tagsFor(ctx, m.ID)
	if err != nil {
		return reinforced, err
	}
	m.Tags = tags
	return reinforced, nil
}

// attachTags upserts tag rows for the user and links them to the memory.
func (s *MemoryStore) attachTags(ctx context.Context, tx *sql.Tx, memoryID, userID int64, tags []string, now time.Time) error {
	for _, name := range tags {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_tags (user_id, tag_name) VALUES (?, ?)
			 ON CONFLICT(user_id, tag_name) DO NOTHING`,
			userID, name); err != nil {
			return wrapDB("INSERT INTO memory_tags", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_tag_associations (memory_id, tag_id, created_at)
			 SELECT ?, tag_id, ? FROM memory_tags WHERE user_id = ? AND tag_name = ?
			 ON CONFLICT(memory_id, tag_id) DO NOTHING`,
			memoryID, toUnix(now), userID, name); err != nil {
			return wrapDB("INSERT INTO memory_tag_associations", err)
		}
	}
	return nil
}

func (s *MemoryStore) tagsFor(ctx context.Context, memoryID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.tag_name FROM memory_tags t
		 JOIN memory_tag_associations a ON a.tag_id = t.tag_id
		 WHERE a.memory_id = ? ORDER BY t.tag_name`,
		memoryID)
	if err != nil {
		return nil, wrapDB("SELECT memory_tags", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapDB("SELECT memory_tags", err)
		}
		tags = append(tags, name)
	}
	return tags, wrapDB("SELECT memory_tags", rows.Err())
}

func (s *MemoryStore) GetByID(ctx context.Context, id int64) (*domain.Memory, error) {
	m := &domain.Memory{}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE memory_id = ?`, id)
	if err := scanMemory(row, m); err != nil {
		return nil, wrapDB("SELECT memories", err)
	}
	tags, err := s.tagsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Tags = tags
	if err := s.TouchAccessed(ctx, []int64{id}); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByIDs returns snapshots without bumping last_accessed; callers that
// surface the rows to the user call TouchAccessed on the final selection.
func (s *MemoryStore) GetByIDs(ctx context.Context, ids []int64) ([]domain.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT `+memoryColumns+` FROM memories WHERE memory_id IN (%s)`, placeholders(len(ids)))
	rows, err := s.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, wrapDB("SELECT memories (by ids)", err)
	}
	defer func() { _ = rows.Close() }()
	return s.collect(ctx, rows)
}

// List applies f and bumps last_accessed on every returned row.
func (s *MemoryStore) List(ctx context.Context, userID int64, f domain.MemoryFilter) ([]domain.Memory, error) {
	var conditions []string
	var args []any

	conditions = append(conditions, "m.user_id = ?")
	args = append(args, userID)

	if f.Category != "" {
		conditions = append(conditions, "m.category = ?")
		args = append(args, f.Category)
	}
	if f.MinImportance > 0 {
		conditions = append(conditions, "m.importance >= ?")
		args = append(args, f.MinImportance)
	}
	if f.MaxImportance > 0 {
		conditions = append(conditions, "m.importance <= ?")
		args = append(args, f.MaxImportance)
	}
	if f.MinConfidence > 0 {
		conditions = append(conditions, "m.confidence >= ?")
		args = append(args, f.MinConfidence)
	}
	if !f.IncludeExpired {
		conditions = append(conditions, "(m.expires_at IS NULL OR m.expires_at > ?)")
		args = append(args, toUnix(time.Now()))
	}

	query := `SELECT ` + prefixColumns("m") + ` FROM memories m`

	if len(f.Tags) > 0 {
		// All-of tag semantics: the row must match every requested tag.
		query += ` JOIN memory_tag_associations a ON a.memory_id = m.memory_id
			JOIN memory_tags t ON t.tag_id = a.tag_id`
		marks := placeholders(len(f.Tags))
		conditions = append(conditions, fmt.Sprintf("t.tag_name IN (%s)", marks))
		for _, tag := range f.Tags {
			args = append(args, tag)
		}
	}

	query += ` WHERE ` + strings.Join(conditions, " AND ")

	if len(f.Tags) > 0 {
		query += fmt.Sprintf(` GROUP BY m.memory_id HAVING COUNT(DISTINCT t.tag_name) = %d`, len(f.Tags))
	}

	switch f.SortBy {
	case domain.SortByConfidence:
		query += ` ORDER BY m.confidence DESC, m.memory_id DESC`
	case domain.SortByRecency:
		query += ` ORDER BY m.created_at DESC, m.memory_id DESC`
	case domain.SortByRecallCount:
		query += ` ORDER BY m.recall_count DESC, m.memory_id DESC`
	case domain.SortByImportance:
		query += ` ORDER BY m.importance DESC, m.memory_id DESC`
	default:
		query += ` ORDER BY m.created_at DESC, m.memory_id DESC`
	}

	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDB("SELECT memories (list)", err)
	}
	defer func() { _ = rows.Close() }()

	memories, err := s.collect(ctx, rows)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(memories))
	for i := range memories {
		ids[i] = memories[i].ID
	}
	if err := s.TouchAccessed(ctx, ids); err != nil {
		return nil, err
	}
	return memories, nil
}

func (s *MemoryStore) collect(ctx context.Context, rows *sql.Rows) ([]domain.Memory, error) {
	var memories []domain.Memory
	for rows.Next() {
		var m domain.Memory
		if err := scanMemory(rows, &m); err != nil {
			return nil, wrapDB("scan memory row", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("memory rows", err)
	}
	for i := range memories {
		tags, err := s.tagsFor(ctx, memories[i].ID)
		if err != nil {
			return nil, err
		}
		memories[i].Tags = tags
	}
	return memories, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE memory_id = ?`, id)
	if err != nil {
		return wrapDB("DELETE FROM memories", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *MemoryStore) UpdateImportance(ctx context.Context, id int64, importance int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET importance = ? WHERE memory_id = ?`, importance, id)
	if err != nil {
		return wrapDB("UPDATE memories (importance)", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *MemoryStore) UpdateDecay(ctx context.Context, id int64, importance int, context string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET importance = ?, context = ? WHERE memory_id = ?`,
		importance, nullStr(context), id)
	if err != nil {
		return wrapDB("UPDATE memories (decay)", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *MemoryStore) MarkConsolidated(ctx context.Context, id int64, context string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET is_consolidated = 1, context = ? WHERE memory_id = ?`,
		nullStr(context), id)
	if err != nil {
		return wrapDB("UPDATE memories (mark consolidated)", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *MemoryStore) TouchAccessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE memories SET last_accessed = ? WHERE memory_id IN (%s)`, placeholders(len(ids)))
	args := append([]any{toUnix(time.Now())}, int64Args(ids)...)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return wrapDB("UPDATE memories (touch)", err)
	}
	return nil
}

func (s *MemoryStore) ListDistinctUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM memories`)
	if err != nil {
		return nil, wrapDB("SELECT DISTINCT user_id", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDB("scan user id", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapDB("user id rows", rows.Err())
}

func (s *MemoryStore) RecentByAccess(ctx context.Context, userID int64, minImportance, limit int) ([]domain.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE user_id = ? AND importance >= ?
		 ORDER BY last_accessed DESC, memory_id DESC LIMIT ?`,
		userID, minImportance, limit)
	if err != nil {
		return nil, wrapDB("SELECT memories (recent by access)", err)
	}
	defer func() { _ = rows.Close() }()
	return s.collect(ctx, rows)
}

func (s *MemoryStore) DecayCandidates(ctx context.Context, userID int64, minImportance int, cutoff time.Time, limit int) ([]domain.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE user_id = ? AND importance >= ? AND created_at < ? AND is_consolidated = 0
		 ORDER BY last_accessed ASC, recall_count ASC, created_at ASC
		 LIMIT ?`,
		userID, minImportance, toUnix(cutoff), limit)
	if err != nil {
		return nil, wrapDB("SELECT memories (decay candidates)", err)
	}
	defer func() { _ = rows.Close() }()
	return s.collect(ctx, rows)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func prefixColumns(alias string) string {
	cols := strings.Split(memoryColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
