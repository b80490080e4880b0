// Package store persists all entities in a single SQLite file using the
// pure-Go driver. Embeddings live in the same database as float32 blobs and
// are searched in-process.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// poolSize bounds concurrent connections; acquirers block when exhausted.
const poolSize = 5

// Open opens (or creates) the database file and configures the pool.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, domain.Wrap(domain.KindConnection, "open database", err)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Init creates the schema. Idempotent.
func Init(ctx context.Context, db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id INTEGER PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			language_code TEXT NOT NULL DEFAULT 'en',
			current_role_id INTEGER REFERENCES roles(role_id),
			is_admin INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			last_interaction INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			user_id INTEGER PRIMARY KEY REFERENCES users(user_id) ON DELETE CASCADE,
			language TEXT NOT NULL DEFAULT 'en',
			response_length TEXT NOT NULL DEFAULT 'medium',
			formality_level TEXT NOT NULL DEFAULT 'neutral',
			memory_enabled INTEGER NOT NULL DEFAULT 1,
			voice_responses_enabled INTEGER NOT NULL DEFAULT 0,
			theme TEXT NOT NULL DEFAULT 'default'
		)`,
		`CREATE TABLE IF NOT EXISTS roles (
			role_id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			personality TEXT NOT NULL DEFAULT '',
			speaking_style TEXT NOT NULL DEFAULT '',
			knowledge_areas TEXT NOT NULL DEFAULT '',
			behaviors TEXT NOT NULL DEFAULT '',
			is_custom INTEGER NOT NULL DEFAULT 0,
			created_by INTEGER REFERENCES users(user_id),
			created_at INTEGER NOT NULL,
			is_featured INTEGER NOT NULL DEFAULT 0,
			is_popular INTEGER NOT NULL DEFAULT 0,
			category TEXT NOT NULL DEFAULT 'general'
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			message_id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(user_id),
			role_id INTEGER NOT NULL,
			user_message TEXT NOT NULL,
			bot_response TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			memory_id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(user_id),
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT 'general',
			importance INTEGER NOT NULL DEFAULT 1,
			source TEXT NOT NULL DEFAULT 'explicit',
			context TEXT,
			confidence REAL NOT NULL DEFAULT 1.0,
			expires_at INTEGER,
			recall_count INTEGER NOT NULL DEFAULT 0,
			last_reinforced INTEGER,
			is_consolidated INTEGER NOT NULL DEFAULT 0,
			last_accessed INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_tags (
			tag_id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(user_id),
			tag_name TEXT NOT NULL,
			UNIQUE(user_id, tag_name)
		)`,
		`CREATE TABLE IF NOT EXISTS memory_tag_associations (
			memory_id INTEGER NOT NULL REFERENCES memories(memory_id) ON DELETE CASCADE,
			tag_id INTEGER NOT NULL REFERENCES memory_tags(tag_id) ON DELETE CASCADE,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (memory_id, tag_id)
		)`,
		`CREATE TABLE IF NOT EXISTS memory_relationships (
			relationship_id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_memory_id INTEGER NOT NULL REFERENCES memories(memory_id) ON DELETE CASCADE,
			target_memory_id INTEGER NOT NULL REFERENCES memories(memory_id) ON DELETE CASCADE,
			relationship_type TEXT NOT NULL,
			strength REAL NOT NULL DEFAULT 1.0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_consolidations (
			original_memory_id INTEGER NOT NULL REFERENCES memories(memory_id) ON DELETE CASCADE,
			consolidated_memory_id INTEGER NOT NULL REFERENCES memories(memory_id) ON DELETE CASCADE,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (original_memory_id, consolidated_memory_id)
		)`,
		`CREATE TABLE IF NOT EXISTS memory_consolidation_log (
			log_id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			source_memories TEXT NOT NULL,
			consolidated_memory_id INTEGER NOT NULL,
			consolidation_type TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_summaries (
			summary_id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			summary TEXT NOT NULL,
			category TEXT NOT NULL,
			last_updated INTEGER NOT NULL,
			UNIQUE(user_id, category)
		)`,
		`CREATE TABLE IF NOT EXISTS memory_embeddings (
			memory_id INTEGER PRIMARY KEY REFERENCES memories(memory_id) ON DELETE CASCADE,
			embedding BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_role ON conversations(role_id)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_ts ON conversations(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_role ON conversations(user_id, role_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_confidence ON memories(confidence)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_recall ON memories(recall_count)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_consolidated ON memories(is_consolidated)`,
	}

	for _, ddl := range append(tables, indexes...) {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return wrapDB(ddl, err)
		}
	}
	return nil
}

// Optimize compacts storage and refreshes query statistics. VACUUM needs
// exclusive access, so the pool is drained to a single connection first.
func Optimize(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)
	defer db.SetMaxOpenConns(poolSize)

	conn, err := db.Conn(ctx)
	if err != nil {
		return domain.Wrap(domain.KindConnection, "acquire connection", err)
	}
	defer func() { _ = conn.Close() }()

	for _, stmt := range []string{`ANALYZE`, `VACUUM`} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return wrapDB(stmt, err)
		}
	}
	return nil
}

// wrapDB maps a driver error onto the storage error taxonomy. The offending
// statement rides along for query errors.
func wrapDB(stmt string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "constraint"):
		return domain.Wrap(domain.KindIntegrity, "integrity violation", err)
	case strings.Contains(msg, "unable to open") || strings.Contains(msg, "database is locked"):
		return domain.Wrap(domain.KindConnection, "database unavailable", err)
	default:
		return domain.Wrap(domain.KindQuery, fmt.Sprintf("statement failed: %s", firstLine(stmt)), err)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// withTx runs fn inside a transaction, rolling back on error.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(domain.KindConnection, "begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapDB("COMMIT", err)
	}
	return nil
}

// unix helpers: all timestamps are stored as integer seconds since epoch.

func toUnix(t time.Time) int64 { return t.Unix() }

func fromUnix(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func toUnixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func fromUnixPtr(sec sql.NullInt64) *time.Time {
	if !sec.Valid {
		return nil
	}
	t := time.Unix(sec.Int64, 0).UTC()
	return &t
}
